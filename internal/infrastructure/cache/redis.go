package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// detailKeyPrefix is the prefix for media detail keys in Redis.
	detailKeyPrefix = "mediadetail:"
)

// detailJSON is the JSON representation of a MediaDetail for caching.
// Using explicit struct avoids coupling to domain model's field names.
type detailJSON struct {
	URI           string       `json:"uri"`
	Reader        string       `json:"reader"`
	DurationNanos int64        `json:"duration_ns"`
	TimecodeStart string       `json:"timecode_start,omitempty"`
	Streams       []streamJSON `json:"streams"`
}

type streamJSON struct {
	Index      int     `json:"index"`
	Kind       string  `json:"kind"`
	Codec      string  `json:"codec"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	FrameCount int     `json:"frame_count,omitempty"`
}

// RedisDetailStore implements DetailStore using Redis as the backing store.
// Values are zstd-compressed JSON.
type RedisDetailStore struct {
	client  *redis.Client
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ DetailStore = (*RedisDetailStore)(nil)

// NewRedisDetailStore creates a new Redis-backed detail store.
func NewRedisDetailStore(client *redis.Client) (*RedisDetailStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &RedisDetailStore{
		client:  client,
		encoder: enc,
		decoder: dec,
	}, nil
}

// Get retrieves media detail from Redis.
// Returns nil, nil on cache miss.
func (s *RedisDetailStore) Get(ctx context.Context, uri string) (*model.MediaDetail, error) {
	data, err := s.client.Get(ctx, s.buildKey(uri)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpGet, metrics.StoreStatusMiss).Inc()
			return nil, nil // Cache miss
		}
		metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpGet, metrics.StoreStatusError).Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	detail, err := s.deserialize(data)
	if err != nil {
		metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpGet, metrics.StoreStatusError).Inc()
		return nil, fmt.Errorf("deserialize detail: %w", err)
	}

	metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpGet, metrics.StoreStatusHit).Inc()
	return detail, nil
}

// Set stores media detail in Redis with the specified TTL.
func (s *RedisDetailStore) Set(ctx context.Context, detail *model.MediaDetail, ttl time.Duration) error {
	data, err := s.serialize(detail)
	if err != nil {
		return fmt.Errorf("serialize detail: %w", err)
	}

	if err := s.client.Set(ctx, s.buildKey(detail.URI), data, ttl).Err(); err != nil {
		metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpSet, metrics.StoreStatusError).Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpSet, metrics.StoreStatusOK).Inc()
	return nil
}

// Delete removes media detail from Redis.
func (s *RedisDetailStore) Delete(ctx context.Context, uri string) error {
	if err := s.client.Del(ctx, s.buildKey(uri)).Err(); err != nil {
		metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpDelete, metrics.StoreStatusError).Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	metrics.DetailStoreOperationsTotal.WithLabelValues(metrics.StoreOpDelete, metrics.StoreStatusOK).Inc()
	return nil
}

// buildKey constructs the Redis key for a URI.
func (s *RedisDetailStore) buildKey(uri string) string {
	return detailKeyPrefix + uri
}

// serialize converts a MediaDetail to compressed JSON bytes.
func (s *RedisDetailStore) serialize(detail *model.MediaDetail) ([]byte, error) {
	v := detailJSON{
		URI:           detail.URI,
		Reader:        detail.Reader,
		DurationNanos: int64(detail.Duration),
		TimecodeStart: detail.TimecodeStart,
		Streams:       make([]streamJSON, 0, len(detail.Streams)),
	}
	for _, st := range detail.Streams {
		v.Streams = append(v.Streams, streamJSON{
			Index:      st.Index,
			Kind:       string(st.Kind),
			Codec:      st.Codec,
			Width:      st.Width,
			Height:     st.Height,
			Channels:   st.Channels,
			SampleRate: st.SampleRate,
			FrameRate:  st.FrameRate,
			FrameCount: st.FrameCount,
		})
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

// deserialize converts compressed JSON bytes to a MediaDetail.
func (s *RedisDetailStore) deserialize(data []byte) (*model.MediaDetail, error) {
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var v detailJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	detail := &model.MediaDetail{
		URI:           v.URI,
		Reader:        v.Reader,
		Duration:      time.Duration(v.DurationNanos),
		TimecodeStart: v.TimecodeStart,
		Streams:       make([]model.StreamDetail, 0, len(v.Streams)),
	}
	for _, st := range v.Streams {
		kind := model.MediaKind(st.Kind)
		if !kind.IsValid() {
			return nil, fmt.Errorf("invalid stream kind: %q", st.Kind)
		}
		detail.Streams = append(detail.Streams, model.StreamDetail{
			Index:      st.Index,
			Kind:       kind,
			Codec:      st.Codec,
			Width:      st.Width,
			Height:     st.Height,
			Channels:   st.Channels,
			SampleRate: st.SampleRate,
			FrameRate:  st.FrameRate,
			FrameCount: st.FrameCount,
		})
	}
	return detail, nil
}
