package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-activation-detection/obfuscation"
	"voice-activation-detection/ring_buffer"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 1024

	// frameQueueDepth bounds the handoff between the device read loop and
	// the delivery goroutine. When consumers fall behind, frames are dropped
	// rather than blocking the read loop.
	frameQueueDepth = 16
)

// Engine owns the input device stream. It converts whatever the device
// delivers into canonical frames and hands each frame to exactly two
// consumers, in order: the rolling ring buffer (obfuscated at rest) and the
// configured frame consumer. The device read loop never blocks on either.
type Engine struct {
	source     Source
	buffer     *ring_buffer.Buffer[float32]
	obfuscator *obfuscation.Obfuscator
	consumer   FrameConsumer
	logger     *slog.Logger
	frameSize  int
	sampleRate int

	// OnStreamError is invoked from its own goroutine when the stream dies
	// mid-capture (device unplugged). The engine has already stopped reading
	// by then; the callback typically drives the router back to idle.
	onStreamError func(error)

	mu      sync.Mutex
	running bool
	stream  Stream
	quit    chan struct{}
	frames  chan Frame
	wg      sync.WaitGroup

	// bufMu orders ring appends against snapshot extraction: the decode
	// offset must belong to the exact snapshot it is read with, or the
	// whole extraction decodes against the wrong keystream position.
	bufMu   sync.Mutex
	total   uint64    // samples appended to the ring, guarded by bufMu
	pending []float32 // partial frame between device reads, read loop only
}

type EngineConfig struct {
	Source        Source
	Buffer        *ring_buffer.Buffer[float32]
	Obfuscator    *obfuscation.Obfuscator
	Consumer      FrameConsumer
	Logger        *slog.Logger
	FrameSize     int
	SampleRate    int
	OnStreamError func(error)
}

func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	if cfg.Buffer == nil {
		return nil, fmt.Errorf("buffer is nil")
	}

	if cfg.Obfuscator == nil {
		return nil, fmt.Errorf("obfuscator is nil")
	}

	if cfg.Consumer == nil {
		return nil, fmt.Errorf("consumer is nil")
	}

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:        cfg.Source,
		buffer:        cfg.Buffer,
		obfuscator:    cfg.Obfuscator,
		consumer:      cfg.Consumer,
		logger:        logger.With("component", "capture"),
		frameSize:     frameSize,
		sampleRate:    sampleRate,
		onStreamError: cfg.OnStreamError,
	}, nil
}

// Start opens the device stream and begins delivering frames. Idempotent:
// calling Start on a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	stream, err := e.negotiate()
	if err != nil {
		return err
	}

	if err := stream.Start(); err != nil {
		stream.Close()

		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	e.stream = stream
	e.quit = make(chan struct{})
	e.frames = make(chan Frame, frameQueueDepth)
	e.pending = e.pending[:0]
	e.running = true

	e.wg.Add(2)
	go e.readLoop(stream, e.quit, e.frames)
	go e.deliverLoop(e.frames)

	cfg := stream.Config()
	e.logger.Info("capture started",
		"source", e.source.Name(),
		"device_rate", cfg.SampleRate,
		"device_channels", cfg.Channels)

	return nil
}

// negotiate opens the stream at the canonical format, falling back to device
// formats the engine knows how to convert.
func (e *Engine) negotiate() (Stream, error) {
	candidates := []SourceConfig{
		{SampleRate: e.sampleRate, Channels: 1, ReadSize: e.frameSize},
		{SampleRate: e.sampleRate, Channels: 2, ReadSize: e.frameSize},
		{SampleRate: 48000, Channels: 1, ReadSize: e.frameSize * 48000 / e.sampleRate},
		{SampleRate: 48000, Channels: 2, ReadSize: e.frameSize * 48000 / e.sampleRate},
	}

	var lastErr error

	for _, cand := range candidates {
		stream, err := e.source.Open(cand)
		if err != nil {
			if errors.Is(err, ErrDeviceUnavailable) {
				return nil, err
			}

			lastErr = err

			continue
		}

		got := stream.Config()
		if convertible(got, e.sampleRate) {
			return stream, nil
		}

		stream.Close()
		lastErr = fmt.Errorf("device offered %d Hz / %d ch", got.SampleRate, got.Channels)
	}

	return nil, fmt.Errorf("%w: %v", ErrFormatNegotiation, lastErr)
}

func convertible(cfg SourceConfig, targetRate int) bool {
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return false
	}

	return cfg.SampleRate == targetRate ||
		(cfg.SampleRate > targetRate && cfg.SampleRate%targetRate == 0)
}

// Stop halts streaming and waits for the read and delivery goroutines. Safe
// to call when not started.
func (e *Engine) Stop() {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()

		return
	}

	e.running = false
	stream := e.stream
	close(e.quit)

	e.mu.Unlock()

	// Stopping the stream unblocks a pending Read.
	if err := stream.Stop(); err != nil {
		e.logger.Warn("stream stop failed", "error", err)
	}

	e.wg.Wait()
	stream.Close()

	e.logger.Info("capture stopped")
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

func (e *Engine) readLoop(stream Stream, quit chan struct{}, frames chan<- Frame) {
	defer e.wg.Done()
	defer close(frames)

	negotiated := stream.Config()

	for {
		select {
		case <-quit:
			return
		default:
		}

		raw, err := stream.Read()
		if err != nil {
			select {
			case <-quit:
			default:
				e.logger.Error("device stream lost", "error", err)

				if e.onStreamError != nil {
					go e.onStreamError(err)
				}
			}

			return
		}

		samples, err := convertToCanonical(raw, negotiated, e.sampleRate)
		if err != nil {
			e.logger.Error("frame conversion failed", "error", err)

			continue
		}

		e.handoff(samples, time.Now(), frames)
	}
}

// handoff appends samples to the ring buffer, then cuts them into canonical
// frames for the consumer queue. Buffer append always happens first.
func (e *Engine) handoff(samples []float32, ts time.Time, frames chan<- Frame) {
	e.bufMu.Lock()
	e.buffer.AppendAll(e.obfuscator.Encode(samples, e.total))
	e.total += uint64(len(samples))
	e.bufMu.Unlock()

	e.pending = append(e.pending, samples...)

	for len(e.pending) >= e.frameSize {
		frame := Frame{
			Samples:   append([]float32(nil), e.pending[:e.frameSize]...),
			Timestamp: ts,
		}
		e.pending = e.pending[e.frameSize:]

		select {
		case frames <- frame:
		default:
			e.logger.Warn("frame queue full, dropping frame")
		}
	}
}

func (e *Engine) deliverLoop(frames <-chan Frame) {
	defer e.wg.Done()

	for frame := range frames {
		e.consumer.Process(frame)
	}
}

// ExtractBuffered returns the rolling buffer contents in arrival order,
// decoded back to plain samples.
func (e *Engine) ExtractBuffered() []float32 {
	e.bufMu.Lock()
	data := e.buffer.ReadAll()
	offset := e.total - uint64(len(data))
	e.bufMu.Unlock()

	return e.obfuscator.Decode(data, offset)
}

// ClearBuffer drops all buffered audio. Called on every transition back to
// idle so no residual audio survives a session.
func (e *Engine) ClearBuffer() {
	e.bufMu.Lock()
	e.buffer.Clear()
	e.bufMu.Unlock()
}
