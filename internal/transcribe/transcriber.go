// Package transcribe owns the loaded speech-to-text model.
//
// Supported backends:
//   - whisper: whisper.cpp via Go bindings (default)
//   - faster-whisper: CTranslate2 through a persistent Python helper
//   - openai: the hosted transcription API
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-server/internal/config"
	"github.com/chaz8081/gostt-server/internal/models"
)

var (
	// ErrModelLoad wraps every failure to bring a model up at startup.
	ErrModelLoad = errors.New("model load failed")
	// ErrUnsupportedLanguage means the model cannot decode the requested language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrClosed is returned by Transcribe after Close.
	ErrClosed = errors.New("model handle closed")
)

// RawSegment is one segment as the backend produced it. Num is the backend's
// own index and may have gaps.
type RawSegment struct {
	Num          int
	Start        time.Duration
	End          time.Duration
	Text         string
	AvgLogProb   float64
	NoSpeechProb float64
}

// Result is the backend's output for one buffer.
type Result struct {
	Segments []RawSegment
	// Language is the forced language, or the one the model detected.
	Language string
}

// Backend runs a loaded model over 16 kHz mono samples.
type Backend interface {
	Transcribe(ctx context.Context, samples []float32, lang Language) (Result, error)
	// ConcurrencySafe reports whether Transcribe may be called from several
	// goroutines at once.
	ConcurrencySafe() bool
	Close() error
}

// newBackend loads the backend named by cfg.Backend.
func newBackend(cfg config.ModelConfig, logger *slog.Logger) (Backend, string, error) {
	switch cfg.Backend {
	case "whisper", "":
		path := cfg.ModelPath
		if path == "" {
			p, err := models.Path(cfg.ModelsDir, cfg.Name)
			if err != nil {
				return nil, "", err
			}
			path = p
		}
		b, err := newWhisperBackend(path, cfg.Threads)
		return b, cfg.Name, err
	case "faster-whisper":
		b, err := newFasterWhisperBackend(cfg, logger)
		return b, cfg.Name, err
	case "openai":
		b := newOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		return b, b.model, nil
	default:
		return nil, "", fmt.Errorf("transcribe: unknown backend %q (supported: whisper, faster-whisper, openai)", cfg.Backend)
	}
}
