// Package dispatch runs transcriptions on a bounded pool of workers fed by a
// bounded FIFO queue, so request goroutines never call the model directly.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/config"
	"github.com/chaz8081/gostt-server/internal/transcribe"
	"github.com/chaz8081/gostt-server/internal/transcript"
)

var (
	// ErrOverloaded means every worker is busy and the queue is full.
	ErrOverloaded = errors.New("dispatch: overloaded")
	// ErrTimeout means the job did not finish within the configured timeout.
	ErrTimeout = errors.New("dispatch: transcription timed out")
	// ErrInferenceFailure wraps backend errors and recovered panics.
	ErrInferenceFailure = errors.New("dispatch: inference failed")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatch: closed")
)

// Transcriber is the model the dispatcher drives. *transcribe.Handle
// satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, lang transcribe.Language) (transcribe.Result, error)
	ConcurrencySafe() bool
	ModelID() string
}

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobDone
	jobAbandoned
)

type outcome struct {
	res transcribe.Result
	err error
}

type job struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	buf    *audio.Buffer
	lang   transcribe.Language
	result chan outcome // buffered so a worker never blocks on delivery

	state jobState // guarded by Dispatcher.mu
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int   `json:"busy"`
	Queued     int   `json:"queued"`
	Accepted   int64 `json:"accepted"`
	Rejected   int64 `json:"rejected"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
	Abandoned  int64 `json:"abandoned"`
}

// Dispatcher admits transcription jobs and runs them on a fixed set of
// worker goroutines.
type Dispatcher struct {
	model   Transcriber
	workers int
	depth   int
	timeout time.Duration
	logger  *slog.Logger

	// serialize is set for models that cannot take overlapping calls.
	serialize bool
	callMu    sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	queue   fifo[*job]
	running int
	closed  bool

	wg        sync.WaitGroup
	closeOnce sync.Once

	accepted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	abandoned atomic.Int64
}

// New starts cfg.Workers workers over model. If the model is not safe for
// concurrent calls the pool is clamped to one worker.
func New(model Transcriber, cfg config.DispatchConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	workers := max(cfg.Workers, 1)
	serialize := !model.ConcurrencySafe()
	if serialize && workers > 1 {
		logger.Warn("model is not safe for concurrent calls, using one worker", "configured_workers", workers)
		workers = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	d := &Dispatcher{
		model:     model,
		workers:   workers,
		depth:     max(cfg.QueueDepth, 0),
		timeout:   timeout,
		logger:    logger,
		serialize: serialize,
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker(i)
	}
	logger.Info("dispatcher started", "workers", workers, "queue_depth", d.depth, "timeout", timeout)
	return d
}

// Submit queues buf for transcription and waits for the result. It fails
// immediately with ErrOverloaded when workers plus queue are at capacity.
// The timeout starts at admission. If ctx ends first the job is abandoned:
// a queued job is dropped, a running one finishes and its result is discarded.
func (d *Dispatcher) Submit(ctx context.Context, buf *audio.Buffer, lang transcribe.Language) (transcript.Transcript, error) {
	if buf == nil {
		return transcript.Transcript{}, errors.New("dispatch: nil buffer")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return transcript.Transcript{}, ErrClosed
	}
	if d.running+d.queue.Len() >= d.workers+d.depth {
		d.mu.Unlock()
		d.rejected.Add(1)
		return transcript.Transcript{}, ErrOverloaded
	}
	jctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	j := &job{
		id:     uuid.New(),
		ctx:    jctx,
		cancel: cancel,
		buf:    buf,
		lang:   lang,
		result: make(chan outcome, 1),
	}
	d.queue.Enqueue(j)
	d.accepted.Add(1)
	d.cond.Signal()
	d.mu.Unlock()

	select {
	case out := <-j.result:
		return d.finish(out, buf)
	case <-jctx.Done():
		return d.expire(j, buf)
	case <-ctx.Done():
		d.abandon(j)
		d.abandoned.Add(1)
		d.logger.Debug("transcription abandoned by caller", "job", j.id)
		return transcript.Transcript{}, ctx.Err()
	}
}

func (d *Dispatcher) finish(out outcome, buf *audio.Buffer) (transcript.Transcript, error) {
	if out.err != nil {
		return transcript.Transcript{}, out.err
	}
	return transcript.Assemble(out.res, buf.Duration(), d.model.ModelID()), nil
}

// expire handles a job whose deadline passed. A job the model had already
// finished keeps its outcome unless the model itself gave up on the deadline.
func (d *Dispatcher) expire(j *job, buf *audio.Buffer) (transcript.Transcript, error) {
	if d.abandon(j) {
		if out := <-j.result; !errors.Is(out.err, context.DeadlineExceeded) {
			return d.finish(out, buf)
		}
	}
	d.timedOut.Add(1)
	d.logger.Warn("transcription timed out", "job", j.id, "timeout", d.timeout)
	return transcript.Transcript{}, fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
}

// abandon frees a queued job's slot at once; a running job keeps its slot
// until the model returns. It reports whether the job had already finished,
// in which case its outcome is on j.result or about to be.
func (d *Dispatcher) abandon(j *job) bool {
	d.mu.Lock()
	finished := j.state == jobDone
	switch j.state {
	case jobQueued:
		d.queue.Remove(j)
		j.state = jobAbandoned
	case jobRunning:
		j.state = jobAbandoned
	}
	d.mu.Unlock()
	j.cancel()
	return finished
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		j, ok := d.queue.Dequeue()
		if !ok {
			d.mu.Unlock()
			return
		}
		j.state = jobRunning
		d.running++
		d.mu.Unlock()

		start := time.Now()
		out := d.run(j)

		d.mu.Lock()
		d.running--
		discarded := j.state == jobAbandoned
		j.state = jobDone
		d.mu.Unlock()

		if out.err != nil {
			d.failed.Add(1)
		} else {
			d.completed.Add(1)
		}
		if discarded {
			d.logger.Debug("discarding result of abandoned job", "job", j.id, "worker", n)
			continue
		}
		d.logger.Debug("transcription finished",
			"job", j.id,
			"worker", n,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", out.err,
		)
		j.result <- out
	}
}

// run calls the model for one job, turning errors and panics into
// ErrInferenceFailure.
func (d *Dispatcher) run(j *job) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("transcription panicked", "job", j.id, "panic", r, "stack", string(debug.Stack()))
			sentry.CurrentHub().Recover(r)
			out = outcome{err: fmt.Errorf("%w: panic: %v", ErrInferenceFailure, r)}
		}
	}()

	if d.serialize {
		d.callMu.Lock()
		defer d.callMu.Unlock()
	}
	if err := j.ctx.Err(); err != nil {
		return outcome{err: err}
	}

	res, err := d.model.Transcribe(j.ctx, j.buf.Samples, j.lang)
	if err != nil {
		if ctxErr := j.ctx.Err(); ctxErr != nil {
			return outcome{err: ctxErr}
		}
		return outcome{err: fmt.Errorf("%w: %w", ErrInferenceFailure, err)}
	}
	return outcome{res: res}
}

// Stats returns current occupancy and lifetime counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	busy, queued := d.running, d.queue.Len()
	d.mu.Unlock()
	return Stats{
		Workers:    d.workers,
		QueueDepth: d.depth,
		Busy:       busy,
		Queued:     queued,
		Accepted:   d.accepted.Load(),
		Rejected:   d.rejected.Load(),
		Completed:  d.completed.Load(),
		Failed:     d.failed.Load(),
		TimedOut:   d.timedOut.Load(),
		Abandoned:  d.abandoned.Load(),
	}
}

// Close stops admitting jobs, lets queued jobs run, and waits for the
// workers to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	d.wg.Wait()
}
