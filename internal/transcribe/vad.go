package transcribe

import (
	"math"
	"time"
)

// VADConfig tunes the energy-based voice activity detector.
type VADConfig struct {
	Frame time.Duration
	// Threshold is the frame RMS at or above which a frame counts as speech.
	Threshold float64
	// MinSilence is the shortest pause that splits two speech spans.
	MinSilence time.Duration
	// MinSpeech drops voiced runs shorter than this.
	MinSpeech time.Duration
	// Pad widens each span on both sides.
	Pad time.Duration
}

// DefaultVAD returns the detector settings used by Load.
func DefaultVAD() VADConfig {
	return VADConfig{
		Frame:      30 * time.Millisecond,
		Threshold:  0.01,
		MinSilence: 500 * time.Millisecond,
		MinSpeech:  250 * time.Millisecond,
		Pad:        200 * time.Millisecond,
	}
}

// speechSpan is a half-open sample range [start, end).
type speechSpan struct {
	start, end int
}

// voiceActivity is the per-frame speech mask of one buffer.
type voiceActivity struct {
	mask  []bool
	frame int
	total int
}

func analyzeVoice(samples []float32, rate int, cfg VADConfig) voiceActivity {
	frame := durationSamples(cfg.Frame, rate)
	if frame < 1 {
		frame = 1
	}
	va := voiceActivity{frame: frame, total: len(samples)}
	va.mask = make([]bool, (len(samples)+frame-1)/frame)
	for i := range va.mask {
		lo := i * frame
		hi := min(lo+frame, len(samples))
		var sum float64
		for _, s := range samples[lo:hi] {
			sum += float64(s) * float64(s)
		}
		va.mask[i] = math.Sqrt(sum/float64(hi-lo)) >= cfg.Threshold
	}
	va.bridge(int(cfg.MinSilence / cfg.Frame))
	return va
}

// bridge marks pauses shorter than minSilence frames between two voiced runs
// as voiced. Such pauses belong to the utterance around them.
func (va voiceActivity) bridge(minSilence int) {
	prevEnd := -1
	for i := 0; i < len(va.mask); {
		if !va.mask[i] {
			i++
			continue
		}
		if prevEnd >= 0 && i-prevEnd < minSilence {
			for k := prevEnd; k < i; k++ {
				va.mask[k] = true
			}
		}
		for i < len(va.mask) && va.mask[i] {
			i++
		}
		prevEnd = i
	}
}

// spans groups voiced frames into padded speech spans.
func (va voiceActivity) spans(rate int, cfg VADConfig) []speechSpan {
	minSilence := int(cfg.MinSilence / cfg.Frame)
	minSpeech := int((cfg.MinSpeech + cfg.Frame - 1) / cfg.Frame)
	pad := durationSamples(cfg.Pad, rate)

	var runs []speechSpan
	for i := 0; i < len(va.mask); {
		if !va.mask[i] {
			i++
			continue
		}
		j := i
		for j < len(va.mask) && va.mask[j] {
			j++
		}
		if n := len(runs); n > 0 && i-runs[n-1].end < minSilence {
			runs[n-1].end = j
		} else {
			runs = append(runs, speechSpan{i, j})
		}
		i = j
	}

	var out []speechSpan
	for _, r := range runs {
		if r.end-r.start < minSpeech {
			continue
		}
		s := max(0, r.start*va.frame-pad)
		e := min(va.total, r.end*va.frame+pad)
		if n := len(out); n > 0 && s <= out[n-1].end {
			out[n-1].end = max(out[n-1].end, e)
			continue
		}
		out = append(out, speechSpan{s, e})
	}
	return out
}

// noSpeechProb estimates how much of [start, end) is silence, as the share of
// frames it overlaps that fall outside any utterance.
func (va voiceActivity) noSpeechProb(start, end int) float64 {
	start = max(0, start)
	end = min(va.total, end)
	if end <= start || len(va.mask) == 0 {
		return 1
	}
	first, last := start/va.frame, (end-1)/va.frame
	voiced := 0
	for i := first; i <= last; i++ {
		if va.mask[i] {
			voiced++
		}
	}
	return 1 - float64(voiced)/float64(last-first+1)
}

func durationSamples(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
