package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpeg stderr fragments that mean the input was never recognized, as
// opposed to failing part-way through.
var unrecognizedMarkers = []string{
	"Invalid data found when processing input",
	"could not find codec parameters",
	"Unknown input format",
	"does not contain any stream",
	"Output file #0 does not contain any stream",
}

// decodeFFmpeg decodes any container ffmpeg understands into 16 kHz mono
// float32. The input is written to a temp file because ISO-BMFF files often
// keep their index at the end and cannot be read from a pipe.
func decodeFFmpeg(ctx context.Context, ffmpegPath string, data []byte, format Format) (*Buffer, error) {
	tmp, err := os.CreateTemp("", "gostt-*"+format.extension())
	if err != nil {
		return nil, fmt.Errorf("audio: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("audio: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("audio: close temp file: %w", err)
	}

	// ffmpeg -i input -vn -ac 1 -ar 16000 -f f32le pipe:1
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-nostdin", "-xerror",
		"-i", tmp.Name(),
		"-vn", "-ac", "1", "-ar", strconv.Itoa(SampleRate),
		"-f", "f32le", "pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// A missing decoder is a server fault, not bad audio.
		return nil, fmt.Errorf("audio: ffmpeg not available at %q: %w", ffmpegPath, err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		for _, marker := range unrecognizedMarkers {
			if strings.Contains(msg, marker) {
				return nil, fmt.Errorf("audio: ffmpeg cannot read %s input: %w", format, ErrUnsupportedFormat)
			}
		}
		return nil, fmt.Errorf("audio: ffmpeg: %s: %w", lastLine(msg), ErrCorruptAudio)
	}

	samples := parseF32LE(stdout.Bytes())
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio: %s stream decoded to no samples: %w", format, ErrCorruptAudio)
	}
	return NewBuffer(samples), nil
}

// parseF32LE converts little-endian float32 bytes to samples, dropping a
// trailing partial sample.
func parseF32LE(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func lastLine(s string) string {
	if s == "" {
		return "exit status non-zero"
	}
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
