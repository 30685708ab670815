package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FFmpegConfig holds configuration for the FFmpeg plugin.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary.
	FFprobePath string

	// AudioSampleRate is the rate audio frames are resampled to.
	// Default: 48000
	AudioSampleRate int

	// AudioChannels is the channel count audio frames are mixed to.
	// Default: 2
	AudioChannels int

	// Threads caps decode threads per ffmpeg process. 0 lets ffmpeg decide.
	Threads int
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		AudioSampleRate: 48000,
		AudioChannels:   2,
	}
}

// FFmpegPlugin decodes anything ffmpeg understands by running the ffmpeg and
// ffprobe CLIs. Every decode is a short-lived subprocess.
type FFmpegPlugin struct {
	config  FFmpegConfig
	locator Locator
}

// Compile-time verification that FFmpegPlugin implements Plugin.
var _ Plugin = (*FFmpegPlugin)(nil)

// NewFFmpegPlugin creates a new FFmpeg-based plugin.
func NewFFmpegPlugin(cfg FFmpegConfig, locator Locator) *FFmpegPlugin {
	return &FFmpegPlugin{
		config:  cfg,
		locator: locator,
	}
}

func (p *FFmpegPlugin) Name() string {
	return "ffmpeg"
}

// Supported trusts the content signature over the file extension.
func (p *FFmpegPlugin) Supported(_ context.Context, uri string, signature []byte) (model.Certainty, error) {
	if uri == model.BlankURI {
		return model.CertaintyNone, nil
	}
	if sniffSignature(signature) != familyUnknown {
		return model.CertaintyYes, nil
	}
	if sniffExtension(uri) != familyUnknown {
		return model.CertaintyMaybe, nil
	}
	return model.CertaintyNone, nil
}

func (p *FFmpegPlugin) NewDecoder() (Decoder, error) {
	return &ffmpegDecoder{plugin: p}, nil
}

// Detail resolves stream layout with ffprobe.
func (p *FFmpegPlugin) Detail(ctx context.Context, uri string) (*model.MediaDetail, error) {
	input, err := p.locator.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return p.probe(ctx, uri, input)
}

// Thumbnail decodes one frame scaled so its longest edge is size pixels.
func (p *FFmpegPlugin) Thumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}

	input, err := p.locator.Resolve(ctx, frame.URI)
	if err != nil {
		return nil, err
	}

	detail, err := p.probe(ctx, frame.URI, input)
	if err != nil {
		return nil, err
	}
	stream, ok := detail.FirstStream(model.KindImage)
	if !ok {
		return nil, model.NewMediaError(model.CodeUnsupported, "no video stream", nil)
	}

	width, height := fitThumbnail(stream.Width, stream.Height, size)
	out, err := p.run(ctx, p.config.FFmpegPath, p.buildThumbnailArgs(input, frame, width, height))
	if err != nil {
		return nil, err
	}

	want := width * height * 3
	if len(out) < want {
		return nil, model.NewMediaError(model.CodeCorrupt, fmt.Sprintf("short thumbnail: got %d bytes, want %d", len(out), want), nil)
	}

	return &model.ThumbnailBuffer{
		Width:  width,
		Height: height,
		Format: model.ThumbnailRGB24,
		Pixels: out[:want],
	}, nil
}

// probe runs ffprobe against input and converts the result.
func (p *FFmpegPlugin) probe(ctx context.Context, uri, input string) (*model.MediaDetail, error) {
	out, err := p.run(ctx, p.config.FFprobePath, buildProbeArgs(input))
	if err != nil {
		return nil, err
	}

	detail, err := parseProbeOutput(out)
	if err != nil {
		return nil, model.NewMediaError(model.CodeCorrupt, "failed to parse probe output", err)
	}
	detail.URI = uri
	detail.Reader = p.Name()
	return detail, nil
}

// run executes a CLI and returns its stdout. Failures are classified from
// stderr into the media error taxonomy.
func (p *FFmpegPlugin) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, model.NewMediaError(model.CodeTimeout, "decode cancelled", ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, model.NewMediaError(model.CodeConnectionUnavailable, fmt.Sprintf("%s not available", bin), err)
		}
		return nil, classifyFailure(stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

func (p *FFmpegPlugin) threadArgs() []string {
	if p.config.Threads <= 0 {
		return nil
	}
	return []string{"-threads", strconv.Itoa(p.config.Threads)}
}

// buildImageArgs constructs ffmpeg arguments that emit one rgb24 frame on stdout.
func (p *FFmpegPlugin) buildImageArgs(input string, frame model.FrameIdentity) []string {
	args := []string{"-v", "error"}
	args = append(args, p.threadArgs()...)
	args = append(args, seekArgs(frame)...)
	return append(args,
		"-i", input,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", model.PixelFormatRGB24,
		"-",
	)
}

// buildAudioArgs constructs ffmpeg arguments that emit one frame's worth of
// interleaved s16le samples on stdout.
func (p *FFmpegPlugin) buildAudioArgs(input string, frame model.FrameIdentity) []string {
	duration := time.Second
	if frame.FrameRate > 0 {
		duration = time.Duration(float64(time.Second) / frame.FrameRate)
	}

	args := []string{"-v", "error"}
	args = append(args, p.threadArgs()...)
	args = append(args, seekArgs(frame)...)
	return append(args,
		"-i", input,
		"-vn",
		"-t", formatSeconds(duration),
		"-f", "s16le",
		"-ac", strconv.Itoa(p.config.AudioChannels),
		"-ar", strconv.Itoa(p.config.AudioSampleRate),
		"-",
	)
}

func (p *FFmpegPlugin) buildThumbnailArgs(input string, frame model.FrameIdentity, width, height int) []string {
	args := []string{"-v", "error"}
	args = append(args, seekArgs(frame)...)
	return append(args,
		"-i", input,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo",
		"-pix_fmt", model.PixelFormatRGB24,
		"-",
	)
}

func buildProbeArgs(input string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}
}

func seekArgs(frame model.FrameIdentity) []string {
	t := frame.DisplayTime()
	if t <= 0 {
		return nil
	}
	return []string{"-ss", formatSeconds(t)}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// fitThumbnail scales width x height so the longest edge equals size.
// Both results are even, as most scalers require.
func fitThumbnail(width, height, size int) (int, int) {
	if width <= 0 || height <= 0 {
		return size, size
	}
	var w, h int
	if width >= height {
		w = size
		h = height * size / width
	} else {
		h = size
		w = width * size / height
	}
	return max(2, w&^1), max(2, h&^1)
}

// classifyFailure maps ffmpeg stderr onto a media error.
func classifyFailure(stderr string, err error) error {
	msg := lastLine(stderr)
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "404 not found"):
		return model.NewMediaError(model.CodeMissing, msg, err)
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "403 forbidden"):
		return model.NewMediaError(model.CodeUnreadable, msg, err)
	case strings.Contains(lower, "invalid data found"),
		strings.Contains(lower, "moov atom not found"),
		strings.Contains(lower, "error while decoding"),
		strings.Contains(lower, "corrupt"):
		return model.NewMediaError(model.CodeCorrupt, msg, err)
	case strings.Contains(lower, "decoder not found"),
		strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "could not find codec"):
		return model.NewMediaError(model.CodeUnsupported, msg, err)
	default:
		return model.NewMediaError(model.CodeUnreadable, msg, err)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// ffmpegDecoder is a decode session bound to one FFmpegPlugin. It remembers
// the last probed source so repeated frame reads skip ffprobe.
type ffmpegDecoder struct {
	plugin *FFmpegPlugin

	probedURI string
	probed    *model.MediaDetail
}

var _ Decoder = (*ffmpegDecoder)(nil)

func (d *ffmpegDecoder) Image(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	input, detail, err := d.open(ctx, frame.URI)
	if err != nil {
		return nil, err
	}
	stream, ok := detail.FirstStream(model.KindImage)
	if !ok {
		return nil, model.NewMediaError(model.CodeUnsupported, "no video stream", nil)
	}

	out, err := d.plugin.run(ctx, d.plugin.config.FFmpegPath, d.plugin.buildImageArgs(input, frame))
	if err != nil {
		return nil, err
	}

	want := stream.Width * stream.Height * 3
	if len(out) < want {
		return nil, model.NewMediaError(model.CodeCorrupt, fmt.Sprintf("short frame: got %d bytes, want %d", len(out), want), nil)
	}

	return &model.DecodedBuffer{
		Frame:       frame,
		Payload:     out[:want],
		Width:       stream.Width,
		Height:      stream.Height,
		PixelFormat: model.PixelFormatRGB24,
		DisplayTime: frame.DisplayTime(),
	}, nil
}

func (d *ffmpegDecoder) Audio(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	input, detail, err := d.open(ctx, frame.URI)
	if err != nil {
		return nil, err
	}
	if _, ok := detail.FirstStream(model.KindAudio); !ok {
		return nil, model.NewMediaError(model.CodeUnsupported, "no audio stream", nil)
	}

	out, err := d.plugin.run(ctx, d.plugin.config.FFmpegPath, d.plugin.buildAudioArgs(input, frame))
	if err != nil {
		return nil, err
	}

	channels := d.plugin.config.AudioChannels
	return &model.DecodedBuffer{
		Frame:       frame,
		Payload:     out,
		Channels:    channels,
		SampleRate:  d.plugin.config.AudioSampleRate,
		Samples:     len(out) / (2 * max(1, channels)),
		DisplayTime: frame.DisplayTime(),
	}, nil
}

func (d *ffmpegDecoder) Close() error {
	d.probed = nil
	return nil
}

func (d *ffmpegDecoder) open(ctx context.Context, uri string) (string, *model.MediaDetail, error) {
	input, err := d.plugin.locator.Resolve(ctx, uri)
	if err != nil {
		return "", nil, err
	}
	if d.probed != nil && d.probedURI == uri {
		return input, d.probed, nil
	}

	detail, err := d.plugin.probe(ctx, uri, input)
	if err != nil {
		return "", nil, err
	}
	d.probedURI, d.probed = uri, detail
	return input, detail, nil
}

// probeOutput mirrors the subset of ffprobe's JSON we read.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index      int               `json:"index"`
	CodecType  string            `json:"codec_type"`
	CodecName  string            `json:"codec_name"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Channels   int               `json:"channels"`
	SampleRate string            `json:"sample_rate"`
	RFrameRate string            `json:"r_frame_rate"`
	NbFrames   string            `json:"nb_frames"`
	Tags       map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

func parseProbeOutput(data []byte) (*model.MediaDetail, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	detail := &model.MediaDetail{
		TimecodeStart: out.Format.Tags["timecode"],
	}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		detail.Duration = time.Duration(math.Round(secs * float64(time.Second)))
	}

	for _, s := range out.Streams {
		sd := model.StreamDetail{
			Index: s.Index,
			Codec: s.CodecName,
		}
		switch s.CodecType {
		case "video":
			sd.Kind = model.KindImage
			sd.Width = s.Width
			sd.Height = s.Height
			sd.FrameRate = parseRate(s.RFrameRate)
			sd.FrameCount, _ = strconv.Atoi(s.NbFrames)
			if detail.TimecodeStart == "" {
				detail.TimecodeStart = s.Tags["timecode"]
			}
		case "audio":
			sd.Kind = model.KindAudio
			sd.Channels = s.Channels
			sd.SampleRate, _ = strconv.Atoi(s.SampleRate)
		default:
			continue
		}
		detail.Streams = append(detail.Streams, sd)
	}

	if len(detail.Streams) == 0 {
		return nil, errors.New("no decodable streams")
	}
	return detail, nil
}

// parseRate parses ffprobe rationals such as "24000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
