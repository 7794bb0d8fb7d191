package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/config"
	"github.com/chaz8081/gostt-server/internal/dispatch"
	"github.com/chaz8081/gostt-server/internal/httpapi"
	"github.com/chaz8081/gostt-server/internal/transcribe"
)

type cannedModel struct{}

func (cannedModel) Transcribe(_ context.Context, samples []float32, lang transcribe.Language) (transcribe.Result, error) {
	code, ok := lang.Code()
	if !ok {
		code = "en"
	}
	return transcribe.Result{
		Language: code,
		Segments: []transcribe.RawSegment{{End: time.Duration(len(samples)) * time.Second / audio.SampleRate, Text: "canned"}},
	}, nil
}

func (cannedModel) ConcurrencySafe() bool { return true }
func (cannedModel) ModelID() string       { return "tiny" }

func newServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(cannedModel{}, config.DispatchConfig{Workers: 1, QueueDepth: 2, Timeout: 5 * time.Second}, logger)
	t.Cleanup(d.Close)

	h := httpapi.NewRouter(
		httpapi.RouterConfig{Version: "test", AllowedOrigins: []string{"*"}, JWTSecret: secret, MaxUploadBytes: 1 << 20},
		logger,
		audio.NewNormalizer(""),
		d,
		transcribe.Info{Loaded: true, Model: "tiny", Backend: "whisper"},
	)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func wav(t *testing.T) []byte {
	t.Helper()
	samples := make([]float32, audio.SampleRate/2)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/audio.SampleRate))
	}
	data, err := audio.EncodeWAV(audio.NewBuffer(samples))
	require.NoError(t, err)
	return data
}

func TestTranscribeFile(t *testing.T) {
	srv := newServer(t, "")
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, wav(t), 0o644))

	c := New(srv.URL+"/", "")
	tr, err := c.TranscribeFile(context.Background(), path, "nl")
	require.NoError(t, err)
	assert.Equal(t, "canned", tr.Text)
	assert.Equal(t, "nl", tr.Language)
	assert.Equal(t, "tiny", tr.Model)
	assert.Equal(t, 0.5, tr.Duration)
}

func TestTranscribeFileMissing(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	_, err := c.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTranscribeBase64(t *testing.T) {
	srv := newServer(t, "")
	tr, err := New(srv.URL, "").TranscribeBase64(context.Background(), wav(t), "clip.wav", "")
	require.NoError(t, err)
	assert.Equal(t, "en", tr.Language)
}

func TestAPIError(t *testing.T) {
	srv := newServer(t, "")
	_, err := New(srv.URL, "").Transcribe(context.Background(), []byte("not audio at all"), "x.wav", "")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "error = %v", err)
	assert.Equal(t, http.StatusUnsupportedMediaType, apiErr.StatusCode)
	assert.Equal(t, "UNSUPPORTED_FORMAT", apiErr.Code)
	assert.False(t, apiErr.Overloaded())
	assert.Contains(t, apiErr.Error(), "UNSUPPORTED_FORMAT")
}

func TestAuthToken(t *testing.T) {
	srv := newServer(t, "s3cret")

	_, err := New(srv.URL, "").Transcribe(context.Background(), wav(t), "a.wav", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	token, err := httpapi.IssueToken("s3cret", "cli", time.Hour)
	require.NoError(t, err)
	_, err = New(srv.URL, token).Transcribe(context.Background(), wav(t), "a.wav", "")
	assert.NoError(t, err)
}

func TestHealthModelsStats(t *testing.T) {
	srv := newServer(t, "")
	c := New(srv.URL, "")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, "tiny", h.WhisperModel)
	assert.Equal(t, "test", h.Version)

	m, err := c.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tiny", m.CurrentModel)
	assert.Contains(t, m.Models, "medium")
	assert.NotEmpty(t, m.Description["base"])

	s, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Workers)
	assert.Equal(t, 2, s.QueueDepth)
}

func TestRetryOnOverload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"busy","error_code":"OVERLOADED"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"finally","language":"en","duration":1,"model":"tiny","segments":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.TranscribeBase64(context.Background(), []byte("x"), "a.wav", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Overloaded())
	assert.EqualValues(t, 1, hits.Load(), "no retries by default")

	hits.Store(0)
	c.Retries = 3
	tr, err := c.TranscribeBase64(context.Background(), []byte("x"), "a.wav", "")
	require.NoError(t, err)
	assert.Equal(t, "finally", tr.Text)
	assert.EqualValues(t, 3, hits.Load())
}
