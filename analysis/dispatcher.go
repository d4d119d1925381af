package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voice-activation-detection/capture"
	"voice-activation-detection/power"
)

const (
	DefaultWindowSize = 16000 // 1 s at 16 kHz
	DefaultHopSize    = 8000  // 50 % overlap between consecutive windows

	// DefaultWorkerTimeout bounds one backend invocation at twice the window
	// duration, after which it counts as a failed worker.
	DefaultWorkerTimeout = 2 * time.Second
)

// Dispatcher assembles overlapping analysis windows from incoming frames and
// fans each window out to the voice-activity and wake-word backends
// concurrently. Results are pushed to the configured sink as they arrive;
// there is no ordering guarantee across windows. A failed, timed-out or
// undecodable backend invocation is logged and dropped, never retried: the
// next window supersedes it.
type Dispatcher struct {
	vad           Backend
	wakeWord      Backend
	powerCtl      *power.Controller
	sink          ResultSink
	logger        *slog.Logger
	windowSize    int
	hopSize       int
	workerTimeout time.Duration

	enabled atomic.Bool

	mu          sync.Mutex
	window      []float32
	pending     int
	firstWindow bool

	wg sync.WaitGroup
}

type Config struct {
	VAD           Backend
	WakeWord      Backend
	Power         *power.Controller
	Sink          ResultSink
	Logger        *slog.Logger
	WindowSize    int
	HopSize       int
	WorkerTimeout time.Duration
}

func NewDispatcher(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.VAD == nil {
		return nil, fmt.Errorf("vad backend is nil")
	}

	if cfg.WakeWord == nil {
		return nil, fmt.Errorf("wake word backend is nil")
	}

	if cfg.Power == nil {
		return nil, fmt.Errorf("power controller is nil")
	}

	if cfg.Sink == nil {
		return nil, fmt.Errorf("result sink is nil")
	}

	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	hopSize := cfg.HopSize
	if hopSize <= 0 {
		hopSize = DefaultHopSize
	}

	if hopSize > windowSize {
		return nil, fmt.Errorf("hop size %d exceeds window size %d", hopSize, windowSize)
	}

	timeout := cfg.WorkerTimeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		vad:           cfg.VAD,
		wakeWord:      cfg.WakeWord,
		powerCtl:      cfg.Power,
		sink:          cfg.Sink,
		logger:        logger.With("component", "analysis"),
		windowSize:    windowSize,
		hopSize:       hopSize,
		workerTimeout: timeout,
		window:        make([]float32, 0, windowSize),
		firstWindow:   true,
	}, nil
}

// Enable arms the dispatcher. Frames processed while disabled are ignored.
func (d *Dispatcher) Enable() {
	d.mu.Lock()
	d.window = d.window[:0]
	d.pending = 0
	d.firstWindow = true
	d.mu.Unlock()

	d.enabled.Store(true)
}

// Disable stops dispatching. In-flight worker invocations finish on their
// own; their results are for the sink to discard.
func (d *Dispatcher) Disable() {
	d.enabled.Store(false)
}

// Wait blocks until all in-flight worker invocations have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Process accumulates frame samples into the sliding window and, once a full
// window with at least one hop of new material is available, dispatches a
// snapshot to both backends. Fire and forget: it never blocks on inference.
func (d *Dispatcher) Process(frame capture.Frame) {
	if !d.enabled.Load() {
		return
	}

	d.mu.Lock()

	d.window = append(d.window, frame.Samples...)
	if excess := len(d.window) - d.windowSize; excess > 0 {
		d.window = d.window[excess:]
	}

	d.pending += len(frame.Samples)

	ready := len(d.window) == d.windowSize && d.pending >= d.hopSize
	if !ready {
		d.mu.Unlock()

		return
	}

	snapshot := make([]float32, d.windowSize)
	copy(snapshot, d.window)

	d.pending = 0
	reset := d.firstWindow
	d.firstWindow = false

	d.mu.Unlock()

	d.wg.Add(1)
	go d.dispatch(snapshot, frame.Timestamp, reset)
}

func (d *Dispatcher) dispatch(samples []float32, ts time.Time, reset bool) {
	defer d.wg.Done()

	pwr := d.powerCtl.Current()

	ctx, cancel := context.WithTimeout(context.Background(), d.workerTimeout)
	defer cancel()

	var g errgroup.Group

	g.Go(func() error {
		d.invoke(ctx, d.vad, &Request{
			Samples:     samples,
			ThresholdDB: pwr.ThresholdDB,
			Environment: pwr.Environment,
			ResetBuffer: reset,
		}, ts, ChannelVAD)

		return nil
	})

	g.Go(func() error {
		d.invoke(ctx, d.wakeWord, &Request{
			Samples:     samples,
			ResetBuffer: reset,
		}, ts, ChannelWakeWord)

		return nil
	})

	_ = g.Wait()
}

// invoke runs one backend and forwards its result. All failure modes reduce
// to "no detection for this window".
func (d *Dispatcher) invoke(ctx context.Context, backend Backend, req *Request, ts time.Time, channel string) {
	result, err := backend.Infer(ctx, req)
	if err != nil {
		d.logger.Warn("worker invocation failed",
			"backend", backend.Name(),
			"error", err)

		return
	}

	if result == nil {
		d.logger.Warn("worker returned no result", "backend", backend.Name())

		return
	}

	result.Timestamp = ts
	result.Backend = backend.Name()
	result.Channel = channel

	d.sink.HandleResult(*result)
}
