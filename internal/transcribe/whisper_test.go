package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/config"
)

// whisperModelPath resolves the base model relative to the project root.
func whisperModelPath(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join("..", "..", "models", "ggml-base.bin")
	if p := os.Getenv("GOSTT_TEST_MODEL"); p != "" {
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		tb.Skipf("model not found at %s (run 'gostt download base' first): %v", path, err)
	}
	return path
}

// jfkSamples decodes the whisper.cpp JFK sample through the normalizer.
func jfkSamples(tb testing.TB) *audio.Buffer {
	tb.Helper()
	wavPath := filepath.Join("..", "..", "third_party", "whisper.cpp", "samples", "jfk.wav")
	data, err := os.ReadFile(wavPath)
	if err != nil {
		tb.Skipf("JFK sample not found at %s: %v", wavPath, err)
	}
	buf, err := audio.NewNormalizer("").Normalize(context.Background(), data, "jfk.wav")
	if err != nil {
		tb.Fatalf("Normalize(jfk.wav): %v", err)
	}
	return buf
}

func configWithBackend(backend string) config.ModelConfig {
	cfg := config.Default().Model
	cfg.Backend = backend
	return cfg
}

func loadWhisperHandle(tb testing.TB) *Handle {
	tb.Helper()
	cfg := configWithBackend("whisper")
	cfg.ModelPath = whisperModelPath(tb)
	h, err := Load(cfg, discardLogger())
	if err != nil {
		tb.Fatalf("Load(): %v", err)
	}
	tb.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNewWhisperBackendBadPath(t *testing.T) {
	_, err := newWhisperBackend("/nonexistent/model.bin", 0)
	if err == nil {
		t.Fatal("newWhisperBackend with bad path should return error")
	}
}

func TestWhisperJFK(t *testing.T) {
	h := loadWhisperHandle(t)
	buf := jfkSamples(t)

	res, err := h.Transcribe(context.Background(), buf.Samples, Auto())
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(res.Segments) == 0 {
		t.Fatal("expected at least one segment")
	}
	var texts []string
	for _, s := range res.Segments {
		if s.End < s.Start {
			t.Errorf("segment %d ends before it starts: %v < %v", s.Num, s.End, s.Start)
		}
		if s.NoSpeechProb < 0 || s.NoSpeechProb > 1 {
			t.Errorf("segment %d NoSpeechProb = %v", s.Num, s.NoSpeechProb)
		}
		texts = append(texts, s.Text)
	}
	text := strings.Join(texts, " ")
	if !strings.Contains(strings.ToLower(text), "ask not what your country") {
		t.Errorf("expected transcript to contain 'ask not what your country', got: %q", text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}

	wer := ComputeWER("And so my fellow Americans, ask not what your country can do for you, ask what you can do for your country.", text)
	if wer.WER > 0.2 {
		t.Errorf("JFK %v", wer)
	}
}

func TestWhisperSilence(t *testing.T) {
	h := loadWhisperHandle(t)

	res, err := h.Transcribe(context.Background(), silence(5*time.Second), Auto())
	if err != nil {
		t.Fatalf("Transcribe on silence returned error: %v", err)
	}
	if len(res.Segments) != 0 {
		t.Errorf("silence produced %d segments", len(res.Segments))
	}
}

func TestWhisperUnsupportedLanguage(t *testing.T) {
	h := loadWhisperHandle(t)
	if !h.backend.(*whisperBackend).model.IsMultilingual() {
		t.Skip("English-only model ignores the language setting")
	}
	_, err := h.Transcribe(context.Background(), jfkSamples(t).Samples, Force("zz"))
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("Transcribe() error = %v, want ErrUnsupportedLanguage", err)
	}
}

func BenchmarkVAD(b *testing.B) {
	samples := concat(silence(2*time.Second), tone(10*time.Second), silence(time.Second), tone(5*time.Second))
	cfg := DefaultVAD()
	b.ReportMetric(float64(len(samples))/audio.SampleRate*1000, "audio-ms")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		va := analyzeVoice(samples, audio.SampleRate, cfg)
		_ = va.spans(audio.SampleRate, cfg)
	}
}

func BenchmarkWhisperJFK(b *testing.B) {
	h := loadWhisperHandle(b)
	buf := jfkSamples(b)
	b.ReportMetric(float64(buf.Duration().Milliseconds()), "audio-ms")

	// Warm up outside the timer.
	_, _ = h.Transcribe(context.Background(), buf.Samples, Force("en"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.Transcribe(context.Background(), buf.Samples, Force("en")); err != nil {
			b.Fatalf("Transcribe: %v", err)
		}
	}
}
