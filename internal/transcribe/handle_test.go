package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gostt-server/internal/audio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tone(d time.Duration) []float32 {
	n := durationToSamples(d)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return out
}

func silence(d time.Duration) []float32 {
	return make([]float32, durationToSamples(d))
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// fakeBackend returns one segment spanning each slice it is given.
type fakeBackend struct {
	mu       sync.Mutex
	langs    []Language
	lengths  []int
	detected string
	nums     []int
	err      error
	safe     bool
	closed   int
}

func (f *fakeBackend) Transcribe(_ context.Context, samples []float32, lang Language) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langs = append(f.langs, lang)
	f.lengths = append(f.lengths, len(samples))
	if f.err != nil {
		return Result{}, f.err
	}
	res := Result{Language: f.detected}
	if code, ok := lang.Code(); ok {
		res.Language = code
	}
	nums := f.nums
	if nums == nil {
		nums = []int{0}
	}
	for _, n := range nums {
		res.Segments = append(res.Segments, RawSegment{
			Num:          n,
			End:          samplesToDuration(len(samples)),
			Text:         " hello ",
			AvgLogProb:   -0.25,
			NoSpeechProb: math.NaN(),
		})
	}
	return res, nil
}

func (f *fakeBackend) ConcurrencySafe() bool { return f.safe }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.langs)
}

func newTestHandle(b Backend) *Handle {
	return NewHandle(b, Info{Model: "base", Backend: "fake"}, Auto(), discardLogger())
}

func TestHandleSilenceSkipsBackend(t *testing.T) {
	fb := &fakeBackend{detected: "en"}
	h := newTestHandle(fb)

	res, err := h.Transcribe(context.Background(), silence(5*time.Second), Auto())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(res.Segments) != 0 {
		t.Errorf("got %d segments for silence, want 0", len(res.Segments))
	}
	if res.Segments == nil {
		t.Error("Segments should be empty, not nil")
	}
	if res.Language != UndeterminedLanguage {
		t.Errorf("Language = %q, want %q", res.Language, UndeterminedLanguage)
	}
	if fb.calls() != 0 {
		t.Errorf("backend called %d times for silence", fb.calls())
	}

	res, err = h.Transcribe(context.Background(), silence(time.Second), Force("de"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Language != "de" {
		t.Errorf("forced Language = %q, want de", res.Language)
	}
}

func TestHandleSpokenSentenceNoSpeechProb(t *testing.T) {
	fb := &fakeBackend{detected: "en"}
	h := newTestHandle(fb)

	// Six words separated by 90 ms pauses, 3.52 s in total.
	word, pause := 500*time.Millisecond, 90*time.Millisecond
	var parts [][]float32
	for i := 0; i < 5; i++ {
		parts = append(parts, tone(word), silence(pause))
	}
	parts = append(parts, tone(570*time.Millisecond))
	samples := concat(parts...)

	res, err := h.Transcribe(context.Background(), samples, Auto())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(res.Segments))
	}
	seg := res.Segments[0]
	if seg.End != 3520*time.Millisecond {
		t.Errorf("End = %v, want 3.52s", seg.End)
	}
	if seg.NoSpeechProb >= 0.05 {
		t.Errorf("NoSpeechProb = %v, want < 0.05", seg.NoSpeechProb)
	}
}

func TestHandleOffsetsSpans(t *testing.T) {
	fb := &fakeBackend{detected: "English"}
	h := newTestHandle(fb)

	// Durations are multiples of the 30 ms frame.
	gap := 960 * time.Millisecond
	samples := concat(silence(gap), tone(gap), silence(gap), tone(gap))

	res, err := h.Transcribe(context.Background(), samples, Auto())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if fb.calls() != 2 {
		t.Fatalf("backend calls = %d, want 2", fb.calls())
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}

	wantStarts := []time.Duration{760 * time.Millisecond, 2680 * time.Millisecond}
	wantEnds := []time.Duration{2120 * time.Millisecond, 3840 * time.Millisecond}
	for i, seg := range res.Segments {
		if seg.Num != i {
			t.Errorf("segment %d Num = %d", i, seg.Num)
		}
		if seg.Start != wantStarts[i] || seg.End != wantEnds[i] {
			t.Errorf("segment %d = [%v, %v], want [%v, %v]", i, seg.Start, seg.End, wantStarts[i], wantEnds[i])
		}
		if math.IsNaN(seg.NoSpeechProb) || seg.NoSpeechProb <= 0 || seg.NoSpeechProb >= 1 {
			t.Errorf("segment %d NoSpeechProb = %v, want in (0, 1)", i, seg.NoSpeechProb)
		}
	}

	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	// The second span is pinned to the language detected on the first.
	if _, ok := fb.langs[0].Code(); ok {
		t.Errorf("first call language = %v, want auto", fb.langs[0])
	}
	if code, _ := fb.langs[1].Code(); code != "en" {
		t.Errorf("second call language = %v, want en", fb.langs[1])
	}
}

func TestHandleKeepsNumberingGaps(t *testing.T) {
	fb := &fakeBackend{nums: []int{0, 2}}
	h := newTestHandle(fb)

	gap := 960 * time.Millisecond
	res, err := h.Transcribe(context.Background(), concat(tone(gap), silence(gap), tone(gap)), Auto())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	var got []int
	for _, s := range res.Segments {
		got = append(got, s.Num)
	}
	want := []int{0, 2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("nums = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nums = %v, want %v", got, want)
		}
	}
}

func TestHandleDefaultLanguage(t *testing.T) {
	fb := &fakeBackend{detected: "en"}
	h := NewHandle(fb, Info{Model: "base"}, Force("fr"), discardLogger())

	res, err := h.Transcribe(context.Background(), tone(time.Second), Auto())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if code, _ := fb.langs[0].Code(); code != "fr" {
		t.Errorf("backend language = %v, want fr", fb.langs[0])
	}
	if res.Language != "fr" {
		t.Errorf("Language = %q, want fr", res.Language)
	}

	// An explicit language wins over the default.
	if _, err := h.Transcribe(context.Background(), tone(time.Second), Force("es")); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if code, _ := fb.langs[1].Code(); code != "es" {
		t.Errorf("backend language = %v, want es", fb.langs[1])
	}
}

func TestHandleBackendError(t *testing.T) {
	boom := errors.New("decoder exploded")
	h := newTestHandle(&fakeBackend{err: boom})

	_, err := h.Transcribe(context.Background(), tone(time.Second), Auto())
	if !errors.Is(err, boom) {
		t.Errorf("Transcribe() error = %v, want %v", err, boom)
	}
}

func TestHandleCanceled(t *testing.T) {
	fb := &fakeBackend{}
	h := newTestHandle(fb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Transcribe(ctx, tone(time.Second), Auto())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Transcribe() error = %v, want context.Canceled", err)
	}
	if fb.calls() != 0 {
		t.Errorf("backend called after cancel")
	}
}

func TestHandleInfoAndClose(t *testing.T) {
	fb := &fakeBackend{safe: true}
	h := NewHandle(fb, Info{Model: "small", Backend: "fake", Device: "cpu"}, Auto(), discardLogger())

	info := h.Info()
	if !info.Loaded || info.Model != "small" || !info.ConcurrencySafe {
		t.Errorf("Info() = %+v", info)
	}
	if h.ModelID() != "small" || !h.ConcurrencySafe() {
		t.Errorf("ModelID() = %q, ConcurrencySafe() = %v", h.ModelID(), h.ConcurrencySafe())
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if fb.closed != 1 {
		t.Errorf("backend closed %d times, want 1", fb.closed)
	}
	if h.Info().Loaded {
		t.Error("Info().Loaded = true after Close")
	}
	if _, err := h.Transcribe(context.Background(), tone(time.Second), Auto()); !errors.Is(err, ErrClosed) {
		t.Errorf("Transcribe() after Close error = %v, want ErrClosed", err)
	}
}

func TestHandleDeterministic(t *testing.T) {
	h := newTestHandle(&fakeBackend{detected: "en"})
	samples := concat(silence(300*time.Millisecond), tone(time.Second))

	a, err := h.Transcribe(context.Background(), samples, Auto())
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Transcribe(context.Background(), samples, Auto())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Segments) != len(b.Segments) || a.Language != b.Language {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
	for i := range a.Segments {
		if a.Segments[i] != b.Segments[i] {
			t.Errorf("segment %d differs: %+v vs %+v", i, a.Segments[i], b.Segments[i])
		}
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	_, err := Load(configWithBackend("vosk"), discardLogger())
	if !errors.Is(err, ErrModelLoad) {
		t.Errorf("Load() error = %v, want ErrModelLoad", err)
	}
}

func TestLoadMissingWhisperModel(t *testing.T) {
	cfg := configWithBackend("whisper")
	cfg.ModelsDir = t.TempDir()
	_, err := Load(cfg, discardLogger())
	if !errors.Is(err, ErrModelLoad) {
		t.Errorf("Load() error = %v, want ErrModelLoad", err)
	}
}

func TestLanguage(t *testing.T) {
	if code, ok := Auto().Code(); ok || code != "" {
		t.Errorf("Auto().Code() = %q, %v", code, ok)
	}
	if code, ok := Force(" EN ").Code(); !ok || code != "en" {
		t.Errorf("Force(EN).Code() = %q, %v", code, ok)
	}
	if _, ok := Force("").Code(); ok {
		t.Error("Force(\"\") should be auto")
	}
	if Auto().String() != "auto" || Force("ja").String() != "ja" {
		t.Errorf("String() = %q, %q", Auto().String(), Force("ja").String())
	}
	if normalizeLanguage("English") != "en" || normalizeLanguage("pt") != "pt" {
		t.Errorf("normalizeLanguage mismatch")
	}
}
