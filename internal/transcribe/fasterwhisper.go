package transcribe

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-server/internal/config"
)

//go:embed assets/faster_whisper_server.py
var fasterWhisperScript []byte

// helperStopTimeout bounds how long Close waits for the helper to exit.
const helperStopTimeout = 5 * time.Second

type fwRequest struct {
	ID       uint64 `json:"id"`
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
}

type fwSegment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogProb   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type fwResponse struct {
	ID       uint64      `json:"id"`
	Ready    bool        `json:"ready"`
	Language string      `json:"language"`
	Segments []fwSegment `json:"segments"`
	Error    string      `json:"error"`
}

// fasterWhisperBackend drives a persistent Python helper over JSON lines.
// The helper decodes one request at a time, so the backend is not
// concurrency safe even though the pipe itself is guarded.
type fasterWhisperBackend struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	scriptPath string
	logger     *slog.Logger

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan fwResponse
	exitErr error
	done    chan struct{}
}

func newFasterWhisperBackend(cfg config.ModelConfig, logger *slog.Logger) (*fasterWhisperBackend, error) {
	script, err := os.CreateTemp("", "gostt-faster-whisper-*.py")
	if err != nil {
		return nil, fmt.Errorf("transcribe: write helper script: %w", err)
	}
	if _, err := script.Write(fasterWhisperScript); err != nil {
		script.Close()
		os.Remove(script.Name())
		return nil, fmt.Errorf("transcribe: write helper script: %w", err)
	}
	script.Close()

	model := cfg.Name
	if cfg.ModelPath != "" {
		model = cfg.ModelPath
	}
	args := []string{"-u", script.Name(),
		"--model", model,
		"--device", cfg.Device,
		"--compute-type", cfg.ComputeType,
		"--download-root", cfg.ModelsDir,
	}
	if cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(cfg.Threads))
	}

	b, err := startHelper(cfg.Python, args, logger)
	if err != nil {
		os.Remove(script.Name())
		return nil, err
	}
	b.scriptPath = script.Name()
	return b, nil
}

// startHelper launches the helper and blocks until it reports ready.
func startHelper(python string, args []string, logger *slog.Logger) (*fasterWhisperBackend, error) {
	cmd := exec.Command(python, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transcribe: helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcribe: helper stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transcribe: helper stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcribe: start %s: %w", python, err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Debug("faster-whisper", "line", sc.Text())
		}
	}()

	out := bufio.NewScanner(stdout)
	out.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !out.Scan() {
		_ = stdin.Close()
		err := cmd.Wait()
		if err == nil {
			err = errors.New("no output")
		}
		return nil, fmt.Errorf("transcribe: helper exited before ready: %w", err)
	}
	var hello fwResponse
	if err := json.Unmarshal(out.Bytes(), &hello); err != nil || !hello.Ready {
		_ = stdin.Close()
		_ = cmd.Wait()
		if hello.Error != "" {
			return nil, fmt.Errorf("transcribe: faster-whisper: %s", hello.Error)
		}
		return nil, fmt.Errorf("transcribe: unexpected helper handshake %q", out.Text())
	}

	b := &fasterWhisperBackend{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger,
		pending: make(map[uint64]chan fwResponse),
		done:    make(chan struct{}),
	}
	go b.readLoop(out)
	return b, nil
}

// readLoop routes responses to waiting calls by id. Responses for calls that
// already gave up are dropped.
func (b *fasterWhisperBackend) readLoop(out *bufio.Scanner) {
	for out.Scan() {
		var resp fwResponse
		if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
			b.logger.Warn("faster-whisper: bad response line", "error", err)
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	b.mu.Lock()
	b.exitErr = errors.New("transcribe: faster-whisper helper exited")
	if err := out.Err(); err != nil {
		b.exitErr = fmt.Errorf("transcribe: faster-whisper helper: %w", err)
	}
	b.mu.Unlock()
	close(b.done)
}

func (b *fasterWhisperBackend) ConcurrencySafe() bool { return false }

func (b *fasterWhisperBackend) Transcribe(ctx context.Context, samples []float32, lang Language) (Result, error) {
	path, err := writeF32File(samples)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(path)

	req := fwRequest{ID: b.nextID.Add(1), Path: path}
	code, forced := lang.Code()
	if forced {
		req.Language = code
	}
	line, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: encode request: %w", err)
	}

	ch := make(chan fwResponse, 1)
	b.mu.Lock()
	if b.exitErr != nil {
		err := b.exitErr
		b.mu.Unlock()
		return Result{}, err
	}
	b.pending[req.ID] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	_, err = b.stdin.Write(append(line, '\n'))
	b.writeMu.Unlock()
	if err != nil {
		b.forget(req.ID)
		return Result{}, fmt.Errorf("transcribe: send request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			if forced && strings.Contains(strings.ToLower(resp.Error), "language") {
				return Result{}, fmt.Errorf("transcribe: %q: %w: %s", code, ErrUnsupportedLanguage, resp.Error)
			}
			return Result{}, fmt.Errorf("transcribe: faster-whisper: %s", resp.Error)
		}
		res := Result{Language: code}
		if !forced {
			res.Language = resp.Language
		}
		for _, s := range resp.Segments {
			res.Segments = append(res.Segments, RawSegment{
				Num:          s.ID,
				Start:        secondsToDuration(s.Start),
				End:          secondsToDuration(s.End),
				Text:         s.Text,
				AvgLogProb:   s.AvgLogProb,
				NoSpeechProb: s.NoSpeechProb,
			})
		}
		return res, nil
	case <-ctx.Done():
		// The helper cannot be interrupted mid-decode. Hold the call until it
		// answers so the next request never queues behind an abandoned one.
		b.logger.Debug("faster-whisper: waiting out canceled request", "id", req.ID)
		select {
		case <-ch:
		case <-b.done:
		}
		return Result{}, ctx.Err()
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return Result{}, b.exitErr
	}
}

func (b *fasterWhisperBackend) forget(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Close ends the helper by closing its stdin, killing it if it lingers.
func (b *fasterWhisperBackend) Close() error {
	_ = b.stdin.Close()
	select {
	case <-b.done:
	case <-time.After(helperStopTimeout):
		_ = b.cmd.Process.Kill()
	}
	err := b.cmd.Wait()
	if b.scriptPath != "" {
		os.Remove(b.scriptPath)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A killed or non-zero helper at shutdown is not worth failing over.
		b.logger.Debug("faster-whisper helper exit", "error", err)
		return nil
	}
	return err
}

// writeF32File stores samples as raw little-endian float32 for the helper.
func writeF32File(samples []float32) (string, error) {
	f, err := os.CreateTemp("", "gostt-*.f32")
	if err != nil {
		return "", fmt.Errorf("transcribe: create sample file: %w", err)
	}
	raw := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("transcribe: write sample file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("transcribe: close sample file: %w", err)
	}
	return f.Name(), nil
}
