package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrNotRecording is returned by Stop when no capture is in progress.
var ErrNotRecording = errors.New("audio: not recording")

// Recorder captures microphone input and hands it back as a 16 kHz mono
// Buffer, ready for upload.
type Recorder struct {
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	rate     uint32
	channels uint32

	mu        sync.Mutex
	captured  []float32
	recording bool
}

// NewRecorder opens an audio context capturing at the given device rate and
// channel count. Call Close when done.
func NewRecorder(rate, channels uint32) (*Recorder, error) {
	if rate == 0 || channels == 0 {
		return nil, fmt.Errorf("audio: invalid capture format %d Hz x %d", rate, channels)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init capture context: %w", err)
	}
	return &Recorder{mctx: mctx, rate: rate, channels: channels}, nil
}

// Start begins capturing from the default input device.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return errors.New("audio: already recording")
	}
	r.captured = r.captured[:0]
	r.recording = true
	r.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = r.channels
	cfg.SampleRate = r.rate

	device, err := malgo.InitDevice(r.mctx.Context, cfg, malgo.DeviceCallbacks{Data: r.onFrames})
	if err != nil {
		r.setRecording(false)
		return fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		r.setRecording(false)
		return fmt.Errorf("audio: start capture device: %w", err)
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()
	return nil
}

// Stop ends the capture and returns what was recorded, down-mixed and
// resampled to 16 kHz mono.
func (r *Recorder) Stop() (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, ErrNotRecording
	}
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false

	mono := downmix(append([]float32(nil), r.captured...), int(r.channels))
	return NewBuffer(resample(mono, int(r.rate), SampleRate)), nil
}

// IsRecording reports whether a capture is in progress.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close stops any capture and releases the audio context.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false
	r.mu.Unlock()

	if r.mctx != nil {
		if err := r.mctx.Uninit(); err != nil {
			return fmt.Errorf("audio: release capture context: %w", err)
		}
		r.mctx.Free()
		r.mctx = nil
	}
	return nil
}

func (r *Recorder) setRecording(v bool) {
	r.mu.Lock()
	r.recording = v
	r.mu.Unlock()
}

// onFrames is the malgo data callback; input holds interleaved f32le frames.
func (r *Recorder) onFrames(_, input []byte, frameCount uint32) {
	n := int(frameCount * r.channels)
	if avail := len(input) / 4; n > avail {
		n = avail
	}
	frames := make([]float32, n)
	for i := range frames {
		frames[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}

	r.mu.Lock()
	r.captured = append(r.captured, frames...)
	r.mu.Unlock()
}
