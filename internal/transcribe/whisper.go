package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const whisperBeamSize = 5

// whisperBackend wraps a whisper.cpp model. The bindings share one decoder
// state per model, so calls must not overlap.
type whisperBackend struct {
	model   whisper.Model
	threads uint
}

// newWhisperBackend loads a ggml model from path.
// The caller must call Close() when done.
func newWhisperBackend(path string, threads int) (*whisperBackend, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}
	b := &whisperBackend{model: model}
	if threads > 0 {
		b.threads = uint(threads)
	}
	return b, nil
}

func (b *whisperBackend) ConcurrencySafe() bool { return false }

// Close releases the whisper model resources.
func (b *whisperBackend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

// Transcribe decodes samples with beam search at temperature 0. whisper.cpp
// does not expose a no-speech probability, so NoSpeechProb is NaN.
func (b *whisperBackend) Transcribe(ctx context.Context, samples []float32, lang Language) (Result, error) {
	wctx, err := b.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: create context: %w", err)
	}

	code, forced := lang.Code()
	multilingual := b.model.IsMultilingual()
	switch {
	case !multilingual:
		// English-only models ignore the language setting.
		code, forced = "en", true
	case forced:
		if err := wctx.SetLanguage(code); err != nil {
			return Result{}, fmt.Errorf("transcribe: %q: %w", code, ErrUnsupportedLanguage)
		}
	default:
		if err := wctx.SetLanguage("auto"); err != nil {
			return Result{}, fmt.Errorf("transcribe: enable language detection: %w", err)
		}
	}
	if b.threads > 0 {
		wctx.SetThreads(b.threads)
	}
	wctx.SetBeamSize(whisperBeamSize)
	wctx.SetTemperature(0)

	// Returning false from the encoder callback aborts the run.
	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("transcribe: process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Language: code}
	if !forced {
		res.Language = wctx.DetectedLanguage()
	}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcribe: next segment: %w", err)
		}
		res.Segments = append(res.Segments, RawSegment{
			Num:          seg.Num,
			Start:        seg.Start,
			End:          seg.End,
			Text:         strings.TrimSpace(seg.Text),
			AvgLogProb:   avgLogProb(wctx, seg.Tokens),
			NoSpeechProb: math.NaN(),
		})
	}
	return res, nil
}

// avgLogProb averages the log probability of the text tokens in a segment.
func avgLogProb(wctx whisper.Context, tokens []whisper.Token) float64 {
	var sum float64
	n := 0
	for _, tok := range tokens {
		if !wctx.IsText(tok) || tok.P <= 0 {
			continue
		}
		sum += math.Log(float64(tok.P))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
