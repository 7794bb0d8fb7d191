// Package transcript turns raw model output into the response document.
package transcript

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/chaz8081/gostt-server/internal/transcribe"
)

// Segment is one timed piece of the transcript. Times are in seconds.
type Segment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogProb   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// MarshalJSON rounds the confidence figures for the wire; the struct keeps
// full precision. JSON has no NaN, so a missing figure is sent as 0.
func (s Segment) MarshalJSON() ([]byte, error) {
	type wire Segment
	w := wire(s)
	w.AvgLogProb = finite(round(w.AvgLogProb, 4))
	w.NoSpeechProb = finite(round(w.NoSpeechProb, 4))
	return json.Marshal(w)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Transcript is the result of one transcription request.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Model    string    `json:"model"`
	Segments []Segment `json:"segments"`
}

// Assemble renumbers raw segments from zero, trims and joins their text, and
// fixes up timing so every end is at or after its start and the duration
// covers the last segment. It never drops a segment.
func Assemble(raw transcribe.Result, duration time.Duration, modelID string) Transcript {
	t := Transcript{
		Language: raw.Language,
		Model:    modelID,
		Segments: make([]Segment, 0, len(raw.Segments)),
	}

	var parts []string
	lastEnd := 0.0
	for i, rs := range raw.Segments {
		text := collapseSpaces(rs.Text)
		start := round(rs.Start.Seconds(), 3)
		end := max(round(rs.End.Seconds(), 3), start)
		t.Segments = append(t.Segments, Segment{
			ID:           i,
			Start:        start,
			End:          end,
			Text:         text,
			AvgLogProb:   rs.AvgLogProb,
			NoSpeechProb: rs.NoSpeechProb,
		})
		if text != "" {
			parts = append(parts, text)
		}
		lastEnd = max(lastEnd, end)
	}

	t.Text = strings.Join(parts, " ")
	t.Duration = max(round(duration.Seconds(), 3), lastEnd)
	return t
}

// collapseSpaces trims s and squeezes inner whitespace runs to one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
