package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chaz8081/gostt-server/internal/audio"
)

// openAIBackend sends each buffer to the hosted transcription endpoint.
// Calls share no state, so it is safe for concurrent use.
type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(apiKey, baseURL string) *openAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIBackend{client: openai.NewClientWithConfig(cfg), model: openai.Whisper1}
}

func (b *openAIBackend) ConcurrencySafe() bool { return true }

func (b *openAIBackend) Close() error { return nil }

func (b *openAIBackend) Transcribe(ctx context.Context, samples []float32, lang Language) (Result, error) {
	wav, err := audio.EncodeWAV(audio.NewBuffer(samples))
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: encode upload: %w", err)
	}

	req := openai.AudioRequest{
		Model:       b.model,
		FilePath:    "audio.wav",
		Reader:      bytes.NewReader(wav),
		Temperature: 0,
		Format:      openai.AudioResponseFormatVerboseJSON,
	}
	code, forced := lang.Code()
	if forced {
		req.Language = code
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var apiErr *openai.APIError
		if forced && errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest &&
			apiErr.Param != nil && *apiErr.Param == "language" {
			return Result{}, fmt.Errorf("transcribe: %q: %w: %s", code, ErrUnsupportedLanguage, apiErr.Message)
		}
		return Result{}, fmt.Errorf("transcribe: openai: %w", err)
	}

	res := Result{Language: code}
	if !forced {
		res.Language = normalizeLanguage(resp.Language)
	}
	for _, s := range resp.Segments {
		res.Segments = append(res.Segments, RawSegment{
			Num:          s.ID,
			Start:        secondsToDuration(s.Start),
			End:          secondsToDuration(s.End),
			Text:         s.Text,
			AvgLogProb:   s.AvgLogprob,
			NoSpeechProb: s.NoSpeechProb,
		})
	}
	return res, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
