package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/config"
)

// UndeterminedLanguage is reported when no speech was found to detect a
// language from.
const UndeterminedLanguage = "und"

// Info describes the loaded model. It never changes after Load.
type Info struct {
	Loaded          bool
	Model           string
	Backend         string
	Device          string
	ComputeType     string
	ConcurrencySafe bool
}

// Handle is the process-wide model instance. Load it once at startup and
// Close it at shutdown. Whether Transcribe may run concurrently is reported
// by ConcurrencySafe; callers are responsible for honouring it.
type Handle struct {
	backend     Backend
	info        Info
	defaultLang Language
	vad         VADConfig
	logger      *slog.Logger

	loaded    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Load brings up the configured backend. Every failure wraps ErrModelLoad.
func Load(cfg config.ModelConfig, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	backend, modelID, err := newBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	name := cfg.Backend
	if name == "" {
		name = "whisper"
	}
	h := NewHandle(backend, Info{
		Model:       modelID,
		Backend:     name,
		Device:      cfg.Device,
		ComputeType: cfg.ComputeType,
	}, Force(cfg.Language), logger)

	logger.Info("model loaded",
		"model", modelID,
		"backend", name,
		"device", cfg.Device,
		"concurrency_safe", h.info.ConcurrencySafe,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return h, nil
}

// NewHandle wraps an already loaded backend. defaultLang applies when a call
// does not force a language.
func NewHandle(backend Backend, info Info, defaultLang Language, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	info.Loaded = true
	info.ConcurrencySafe = backend.ConcurrencySafe()
	h := &Handle{
		backend:     backend,
		info:        info,
		defaultLang: defaultLang,
		vad:         DefaultVAD(),
		logger:      logger,
	}
	h.loaded.Store(true)
	return h
}

// Transcribe runs the model over the speech spans of samples. Silence never
// reaches the backend, and silence-only input yields no segments. Segment
// times are relative to the start of samples.
func (h *Handle) Transcribe(ctx context.Context, samples []float32, lang Language) (Result, error) {
	if !h.loaded.Load() {
		return Result{}, ErrClosed
	}
	_, forced := lang.Code()
	if !forced {
		lang = h.defaultLang
		_, forced = lang.Code()
	}

	va := analyzeVoice(samples, audio.SampleRate, h.vad)
	spans := va.spans(audio.SampleRate, h.vad)

	res := Result{Language: lang.code, Segments: []RawSegment{}}
	next := 0
	for i, sp := range spans {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		part, err := h.backend.Transcribe(ctx, samples[sp.start:sp.end], lang)
		if err != nil {
			return Result{}, err
		}

		// Later spans decode in the language detected on the first so one
		// request never mixes languages.
		if i == 0 && !forced {
			if detected := normalizeLanguage(part.Language); detected != "" {
				res.Language = detected
				lang = Force(detected)
			}
		}

		offset := samplesToDuration(sp.start)
		highest := -1
		for _, seg := range part.Segments {
			highest = max(highest, seg.Num)
			seg.Num += next
			seg.Start += offset
			seg.End += offset
			if math.IsNaN(seg.NoSpeechProb) {
				seg.NoSpeechProb = va.noSpeechProb(durationToSamples(seg.Start), durationToSamples(seg.End))
			}
			res.Segments = append(res.Segments, seg)
		}
		next += highest + 1
	}

	if res.Language == "" {
		res.Language = UndeterminedLanguage
	}
	h.logger.Debug("transcribed",
		"spans", len(spans),
		"segments", len(res.Segments),
		"language", res.Language,
	)
	return res, nil
}

// Info returns the immutable description of the loaded model.
func (h *Handle) Info() Info {
	info := h.info
	info.Loaded = h.loaded.Load()
	return info
}

// ModelID returns the loaded model identifier.
func (h *Handle) ModelID() string { return h.info.Model }

// ConcurrencySafe reports whether Transcribe may be called concurrently.
func (h *Handle) ConcurrencySafe() bool { return h.info.ConcurrencySafe }

// Close releases the backend. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.loaded.Store(false)
		h.closeErr = h.backend.Close()
	})
	return h.closeErr
}

func samplesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / audio.SampleRate
}

func durationToSamples(d time.Duration) int {
	return durationSamples(d, audio.SampleRate)
}
