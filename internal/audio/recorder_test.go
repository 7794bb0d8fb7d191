package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func newTestRecorder(t *testing.T, rate, channels uint32) *Recorder {
	t.Helper()
	r, err := NewRecorder(rate, channels)
	if err != nil {
		t.Skipf("no audio backend available: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r
}

func TestNewRecorderRejectsZeroFormat(t *testing.T) {
	if _, err := NewRecorder(0, 1); err == nil {
		t.Error("NewRecorder(0, 1) should fail")
	}
	if _, err := NewRecorder(16000, 0); err == nil {
		t.Error("NewRecorder(16000, 0) should fail")
	}
}

func TestRecorderNotRecordingByDefault(t *testing.T) {
	r := newTestRecorder(t, 16000, 1)
	if r.IsRecording() {
		t.Error("IsRecording() should be false after creation")
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := newTestRecorder(t, 16000, 1)
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop() error = %v, want ErrNotRecording", err)
	}
}

func f32le(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestOnFramesStereoDownmixAndResample(t *testing.T) {
	// Drive the callback directly so no device is needed.
	r := &Recorder{rate: 32000, channels: 2, recording: true}
	r.onFrames(nil, f32le(1, 0, 1, 0, -1, 0, -1, 0), 4)

	buf, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if buf.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", buf.SampleRate, SampleRate)
	}
	if len(buf.Samples) != 2 {
		t.Fatalf("len(Samples) = %d, want 2", len(buf.Samples))
	}
	if buf.Samples[0] != 0.5 || buf.Samples[1] != -0.5 {
		t.Errorf("Samples = %v, want [0.5 -0.5]", buf.Samples)
	}
}

func TestOnFramesShortInput(t *testing.T) {
	r := &Recorder{rate: 16000, channels: 1, recording: true}
	// frameCount claims more than the slice holds.
	r.onFrames(nil, f32le(0.25), 3)
	if len(r.captured) != 1 || r.captured[0] != 0.25 {
		t.Errorf("captured = %v, want [0.25]", r.captured)
	}
}
