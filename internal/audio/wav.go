package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM format tag. Anything else (float,
// extensible, ADPCM) is handed to ffmpeg.
const wavFormatPCM = 1

// errNotPCM signals a valid WAV container that needs ffmpeg to decode.
var errNotPCM = errors.New("wav: not integer PCM")

// decodeWAV decodes integer PCM WAV in-process.
func decodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: invalid wav header: %w", ErrCorruptAudio)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, errNotPCM
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %v: %w", err, ErrCorruptAudio)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: wav has no usable format: %w", ErrCorruptAudio)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	bytesPerSample := int64(bitDepth / 8)
	if declared := dec.PCMLen(); bytesPerSample > 0 && declared > 0 && declared < math.MaxUint32-1 {
		frameBytes := bytesPerSample * int64(buf.Format.NumChannels)
		if int64(len(buf.Data))*bytesPerSample+frameBytes <= declared {
			return nil, fmt.Errorf("audio: wav data truncated (%d of %d bytes): %w",
				int64(len(buf.Data))*bytesPerSample, declared, ErrCorruptAudio)
		}
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("audio: wav contains no samples: %w", ErrCorruptAudio)
	}

	samples, err := intToFloat(buf.Data, bitDepth)
	if err != nil {
		return nil, err
	}
	mono := downmix(samples, buf.Format.NumChannels)
	return NewBuffer(resample(mono, buf.Format.SampleRate, SampleRate)), nil
}

// intToFloat scales integer PCM samples to [-1.0, 1.0].
func intToFloat(data []int, bitDepth int) ([]float32, error) {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned.
		for i, s := range data {
			out[i] = float32(s-128) / 128.0
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (bitDepth - 1))
		for i, s := range data {
			out[i] = float32(s) / scale
		}
	default:
		return nil, fmt.Errorf("audio: %d-bit wav: %w", bitDepth, ErrUnsupportedFormat)
	}
	return out, nil
}

// EncodeWAV renders a buffer as 16-bit mono PCM WAV.
func EncodeWAV(b *Buffer) ([]byte, error) {
	rate := b.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	ints := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		ints[i] = int(s * 32767)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, rate, 16, 1, wavFormatPCM)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           ints,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalize wav: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("writeSeeker: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("writeSeeker: negative position %d", abs)
	}
	w.pos = int(abs)
	return abs, nil
}
