package transcribe

import (
	"math/rand"
	"testing"
	"time"

	"github.com/chaz8081/gostt-server/internal/audio"
)

func detect(samples []float32) []speechSpan {
	cfg := DefaultVAD()
	return analyzeVoice(samples, audio.SampleRate, cfg).spans(audio.SampleRate, cfg)
}

func noise(d time.Duration, amp float32) []float32 {
	r := rand.New(rand.NewSource(1))
	out := make([]float32, durationToSamples(d))
	for i := range out {
		out[i] = (r.Float32()*2 - 1) * amp
	}
	return out
}

func TestVADSpans(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	tests := []struct {
		name    string
		samples []float32
		want    int
	}{
		{"empty", nil, 0},
		{"silence", silence(5 * time.Second), 0},
		{"low noise floor", noise(2*time.Second, 0.005), 0},
		{"blip shorter than min speech", concat(silence(ms(900)), tone(ms(90)), silence(ms(900))), 0},
		{"single utterance", concat(silence(ms(600)), tone(ms(1200)), silence(ms(600))), 1},
		{"short pause merges", concat(tone(ms(600)), silence(ms(300)), tone(ms(600))), 1},
		{"long pause splits", concat(tone(ms(600)), silence(ms(1200)), tone(ms(600))), 2},
		{"all speech", tone(2 * time.Second), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detect(tt.samples)
			if len(got) != tt.want {
				t.Fatalf("spans = %v, want %d", got, tt.want)
			}
			for i, sp := range got {
				if sp.start < 0 || sp.end > len(tt.samples) || sp.end <= sp.start {
					t.Errorf("span %d out of range: %+v (len %d)", i, sp, len(tt.samples))
				}
				if i > 0 && sp.start <= got[i-1].end {
					t.Errorf("span %d overlaps previous: %+v %+v", i, got[i-1], sp)
				}
			}
		})
	}
}

func TestVADPaddingClamped(t *testing.T) {
	samples := concat(tone(time.Second), silence(90*time.Millisecond))
	got := detect(samples)
	if len(got) != 1 {
		t.Fatalf("spans = %v, want 1", got)
	}
	if got[0].start != 0 || got[0].end != len(samples) {
		t.Errorf("span = %+v, want [0, %d)", got[0], len(samples))
	}
}

func TestNoSpeechProb(t *testing.T) {
	gap := 960 * time.Millisecond
	samples := concat(silence(gap), tone(gap))
	va := analyzeVoice(samples, audio.SampleRate, DefaultVAD())

	half := durationToSamples(gap)
	if p := va.noSpeechProb(0, half); p != 1 {
		t.Errorf("silent half = %v, want 1", p)
	}
	if p := va.noSpeechProb(half, len(samples)); p != 0 {
		t.Errorf("voiced half = %v, want 0", p)
	}
	if p := va.noSpeechProb(0, len(samples)); p != 0.5 {
		t.Errorf("whole = %v, want 0.5", p)
	}
	if p := va.noSpeechProb(100, 100); p != 1 {
		t.Errorf("empty range = %v, want 1", p)
	}
}

func TestNoSpeechProbIgnoresShortPauses(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	samples := concat(tone(ms(600)), silence(ms(300)), tone(ms(600)), silence(ms(1200)), tone(ms(600)))
	va := analyzeVoice(samples, audio.SampleRate, DefaultVAD())

	utterance := durationToSamples(ms(1500))
	if p := va.noSpeechProb(0, utterance); p != 0 {
		t.Errorf("utterance with short pause = %v, want 0", p)
	}
	// The 1.2 s pause is longer than MinSilence and still counts.
	if p := va.noSpeechProb(0, len(samples)); p <= 0.3 || p >= 0.5 {
		t.Errorf("whole = %v, want the long pause share", p)
	}
}
