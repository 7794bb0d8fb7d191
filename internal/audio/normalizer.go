package audio

import (
	"context"
	"errors"
	"fmt"
)

// Normalizer decodes uploaded audio into a Buffer. It holds no per-call
// state and is safe for concurrent use.
type Normalizer struct {
	ffmpegPath string
}

// NewNormalizer returns a Normalizer that uses the ffmpeg binary at
// ffmpegPath for everything but integer PCM WAV.
func NewNormalizer(ffmpegPath string) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{ffmpegPath: ffmpegPath}
}

// Normalize sniffs, decodes, down-mixes and resamples raw to 16 kHz mono.
// It fails with ErrUnsupportedFormat when the content is not a supported
// container and with ErrCorruptAudio when decoding fails part-way.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, filename string) (*Buffer, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("audio: empty input: %w", ErrCorruptAudio)
	}

	format, err := Sniff(raw, filename)
	if err != nil {
		return nil, err
	}

	if format == FormatWAV {
		buf, err := decodeWAV(raw)
		if !errors.Is(err, errNotPCM) {
			return buf, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFFmpeg(ctx, n.ffmpegPath, raw, format)
}
