package transcript

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gostt-server/internal/transcribe"
)

func sec(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

func TestAssembleRenumbersAndJoins(t *testing.T) {
	raw := transcribe.Result{
		Language: "en",
		Segments: []transcribe.RawSegment{
			{Num: 3, Start: 0, End: sec(1.2), Text: "  Hello   there. ", AvgLogProb: -0.21, NoSpeechProb: 0.01},
			{Num: 7, Start: sec(1.2), End: sec(2.4), Text: "", AvgLogProb: -1.5, NoSpeechProb: 0.9},
			{Num: 9, Start: sec(2.4), End: sec(3.52), Text: "\tGeneral\nKenobi.", AvgLogProb: -0.34, NoSpeechProb: 0.02},
		},
	}

	got := Assemble(raw, sec(3.52), "base")

	assert.Equal(t, "Hello there. General Kenobi.", got.Text)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, "base", got.Model)
	assert.Equal(t, 3.52, got.Duration)
	require.Len(t, got.Segments, 3, "no segment is dropped, even an empty one")
	for i, s := range got.Segments {
		assert.Equal(t, i, s.ID)
		assert.GreaterOrEqual(t, s.End, s.Start)
	}
	assert.Equal(t, "Hello there.", got.Segments[0].Text)
	assert.Equal(t, "", got.Segments[1].Text)
	assert.Equal(t, "General Kenobi.", got.Segments[2].Text)
	assert.Equal(t, -0.34, got.Segments[2].AvgLogProb)
	assert.Equal(t, 0.02, got.Segments[2].NoSpeechProb)
}

func TestAssembleSilence(t *testing.T) {
	got := Assemble(transcribe.Result{Language: "und"}, 5*time.Second, "base")

	assert.Equal(t, "", got.Text)
	assert.Equal(t, 5.0, got.Duration)
	assert.NotNil(t, got.Segments)
	assert.Empty(t, got.Segments)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"segments":[]`)
}

func TestAssembleFixesTiming(t *testing.T) {
	raw := transcribe.Result{Segments: []transcribe.RawSegment{
		{Start: sec(1.0), End: sec(0.8), Text: "backwards"},
		{Start: sec(1.0), End: sec(4.2), Text: "overruns"},
	}}

	got := Assemble(raw, sec(4.0), "tiny")

	assert.Equal(t, 1.0, got.Segments[0].Start)
	assert.Equal(t, 1.0, got.Segments[0].End, "end is clamped to start")
	assert.Equal(t, 4.2, got.Duration, "duration covers the last segment")
}

func TestAssembleRoundsTimes(t *testing.T) {
	raw := transcribe.Result{Segments: []transcribe.RawSegment{
		{Start: 1234567 * time.Microsecond, End: 2345678 * time.Microsecond, Text: "x", AvgLogProb: -0.123456},
	}}

	got := Assemble(raw, 2999999*time.Microsecond, "base")

	assert.Equal(t, 1.235, got.Segments[0].Start)
	assert.Equal(t, 2.346, got.Segments[0].End)
	assert.Equal(t, 3.0, got.Duration)
	assert.Equal(t, -0.123456, got.Segments[0].AvgLogProb, "struct keeps full precision")
}

func TestSegmentJSON(t *testing.T) {
	s := Segment{ID: 0, Start: 0, End: 1.5, Text: "hi", AvgLogProb: -0.123456, NoSpeechProb: math.NaN()}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, -0.1235, m["avg_logprob"])
	assert.Equal(t, 0.0, m["no_speech_prob"])
	for _, key := range []string{"id", "start", "end", "text"} {
		assert.Contains(t, m, key)
	}
}

func TestTranscriptJSONShape(t *testing.T) {
	tr := Assemble(transcribe.Result{
		Language: "en",
		Segments: []transcribe.RawSegment{{End: sec(1), Text: "one"}},
	}, sec(1), "small")

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"text", "language", "duration", "model", "segments"} {
		assert.Contains(t, m, key)
	}
}
