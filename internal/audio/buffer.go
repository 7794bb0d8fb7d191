// Package audio turns uploaded audio files into the canonical waveform the
// transcription model consumes: mono float32 samples at 16 kHz.
package audio

import (
	"errors"
	"time"
)

// SampleRate is the sample rate every Buffer is normalized to.
const SampleRate = 16000

var (
	// ErrUnsupportedFormat means the container or codec is not one we can decode.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrCorruptAudio means decoding started but the stream is broken or truncated.
	ErrCorruptAudio = errors.New("corrupt audio")
)

// Buffer is a fully decoded mono waveform. Buffers are not modified after
// Normalize returns them.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// NewBuffer wraps 16 kHz mono samples.
func NewBuffer(samples []float32) *Buffer {
	return &Buffer{Samples: samples, SampleRate: SampleRate}
}

// Duration returns the length of the waveform.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
