package decoder

import (
	"bytes"
	"path"
	"strings"
)

// Container families recognised from magic bytes.
const (
	familyUnknown = ""
	familyImage   = "image"
	familyMovie   = "movie"
	familyAudio   = "audio"
)

var magic = []struct {
	name   string
	family string
	offset int
	prefix []byte
}{
	{"openexr", familyImage, 0, []byte{0x76, 0x2f, 0x31, 0x01}},
	{"dpx", familyImage, 0, []byte("SDPX")},
	{"dpx-le", familyImage, 0, []byte("XPDS")},
	{"png", familyImage, 0, []byte{0x89, 'P', 'N', 'G'}},
	{"jpeg", familyImage, 0, []byte{0xff, 0xd8, 0xff}},
	{"tiff-le", familyImage, 0, []byte{'I', 'I', 0x2a, 0x00}},
	{"tiff-be", familyImage, 0, []byte{'M', 'M', 0x00, 0x2a}},
	{"isobmff", familyMovie, 4, []byte("ftyp")},
	{"quicktime", familyMovie, 4, []byte("moov")},
	{"matroska", familyMovie, 0, []byte{0x1a, 0x45, 0xdf, 0xa3}},
	{"wave", familyAudio, 8, []byte("WAVE")},
	{"mp3", familyAudio, 0, []byte("ID3")},
	{"flac", familyAudio, 0, []byte("fLaC")},
}

var extensions = map[string]string{
	".exr":  familyImage,
	".dpx":  familyImage,
	".png":  familyImage,
	".jpg":  familyImage,
	".jpeg": familyImage,
	".tif":  familyImage,
	".tiff": familyImage,
	".mov":  familyMovie,
	".mp4":  familyMovie,
	".m4v":  familyMovie,
	".mkv":  familyMovie,
	".webm": familyMovie,
	".mxf":  familyMovie,
	".wav":  familyAudio,
	".mp3":  familyAudio,
	".flac": familyAudio,
	".aac":  familyAudio,
}

func sniffSignature(signature []byte) string {
	for _, m := range magic {
		end := m.offset + len(m.prefix)
		if len(signature) >= end && bytes.Equal(signature[m.offset:end], m.prefix) {
			return m.family
		}
	}
	return familyUnknown
}

func sniffExtension(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return extensions[strings.ToLower(path.Ext(uri))]
}
