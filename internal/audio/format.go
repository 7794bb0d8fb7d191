package audio

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a supported container.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatMP4  Format = "mp4"
	FormatOGG  Format = "ogg"
	FormatFLAC Format = "flac"
	FormatWebM Format = "webm"
)

// SupportedMIMETypes maps accepted upload content types to their container.
var SupportedMIMETypes = map[string]Format{
	"audio/wav":   FormatWAV,
	"audio/x-wav": FormatWAV,
	"audio/wave":  FormatWAV,
	"audio/mpeg":  FormatMP3,
	"audio/mp3":   FormatMP3,
	"audio/mp4":   FormatMP4,
	"audio/x-m4a": FormatM4A,
	"audio/ogg":   FormatOGG,
	"audio/flac":  FormatFLAC,
	"audio/webm":  FormatWebM,
	"video/webm":  FormatWebM,
	"video/mp4":   FormatMP4,
}

// IsSupportedMIME reports whether a declared content type is acceptable.
// Parameters are ignored. An empty type and application/octet-stream are
// accepted: curl and multipart.CreateFormFile send the latter for any file,
// and Normalize rejects non-audio content by sniffing.
func IsSupportedMIME(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	_, ok := SupportedMIMETypes[ct]
	return ok
}

// Sniff identifies the container from its leading bytes. The filename is only
// used to tell M4A from MP4, which share the ISO-BMFF signature.
func Sniff(data []byte, filename string) (Format, error) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, nil
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG, nil
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM, nil
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		brand := string(data[8:12])
		if brand == "M4A " || brand == "M4B " || strings.EqualFold(filepath.Ext(filename), ".m4a") {
			return FormatM4A, nil
		}
		return FormatMP4, nil
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0:
		// MPEG audio frame sync with a non-reserved layer.
		return FormatMP3, nil
	}
	return "", fmt.Errorf("audio: %q: %w", filepath.Base(filename), ErrUnsupportedFormat)
}

// extension returns the file suffix used for temp files handed to ffmpeg.
func (f Format) extension() string {
	return "." + string(f)
}
