package activation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"voice-activation-detection/analysis"
	"voice-activation-detection/capture"
	"voice-activation-detection/recording"
)

// Mode is the capture mode. Exactly one is active at a time, and mode
// transitions are the only place buffer lifecycle happens.
type Mode int

const (
	ModeIdle Mode = iota
	ModeManualRecording
	ModeContinuousListening
)

func (m Mode) String() string {
	switch m {
	case ModeManualRecording:
		return "manual_recording"
	case ModeContinuousListening:
		return "continuous_listening"
	default:
		return "idle"
	}
}

// ErrBusy is returned when a mode is requested while another non-idle mode is
// active. There is no direct manual/continuous transition; go through idle.
var ErrBusy = errors.New("another capture mode is active")

// EventType classifies activation events delivered to observers.
type EventType int

const (
	EventWakeWord EventType = iota
	EventSustainedVoice
	EventDeviceLost
	EventRecordingDone
)

func (t EventType) String() string {
	switch t {
	case EventWakeWord:
		return "wake_word"
	case EventSustainedVoice:
		return "sustained_voice"
	case EventDeviceLost:
		return "device_lost"
	case EventRecordingDone:
		return "recording_done"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is what the router hands to observers. Hands-free activation is a
// notification only: the router never changes capture mode on a detection.
type Event struct {
	Type      EventType
	Detection analysis.Result
	Recording *recording.Result
}

// Observer receives activation events. Callbacks run on the router's event
// pump goroutine, so observers must not block for long.
type Observer interface {
	HandleActivation(event Event)
}

// sustainedWindows is how many consecutive voiced windows count as sustained
// voice activity.
const sustainedWindows = 3

const eventQueueDepth = 8

// Router owns the capture engine lifecycle and fans detection events out to
// observers. It is the single place that decides what a detection means:
// results that arrive after the router left continuous mode are discarded.
type Router struct {
	engine      *capture.Engine
	dispatcher  *analysis.Dispatcher
	recorder    *recording.Recorder
	logger      *slog.Logger
	defaultMode Mode
	minConf     float64

	mu           sync.Mutex
	mode         Mode
	observers    []Observer
	voicedStreak int

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

type Config struct {
	Engine     *capture.Engine
	Dispatcher *analysis.Dispatcher
	Recorder   *recording.Recorder
	Logger     *slog.Logger

	// DefaultMode is what Toggle starts from idle. Defaults to continuous
	// listening.
	DefaultMode Mode

	// MinConfidence is the floor below which detections are ignored.
	MinConfidence float64
}

func NewRouter(cfg *Config) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultMode := cfg.DefaultMode
	if defaultMode == ModeIdle {
		defaultMode = ModeContinuousListening
	}

	r := &Router{
		engine:      cfg.Engine,
		dispatcher:  cfg.Dispatcher,
		recorder:    cfg.Recorder,
		logger:      logger.With("component", "activation"),
		defaultMode: defaultMode,
		minConf:     cfg.MinConfidence,
		events:      make(chan Event, eventQueueDepth),
		done:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.pump()

	return r, nil
}

// Register adds an observer. Observers registered after events were emitted
// only see subsequent events.
func (r *Router) Register(observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, observer)
}

func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mode
}

// StartContinuous enters continuous listening. Fails with ErrBusy from
// manual recording; a no-op when already listening.
func (r *Router) StartContinuous() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case ModeContinuousListening:
		return nil
	case ModeManualRecording:
		return fmt.Errorf("%w: %s", ErrBusy, r.mode)
	}

	if err := r.engine.Start(); err != nil {
		return err
	}

	r.voicedStreak = 0
	r.dispatcher.Enable()
	r.mode = ModeContinuousListening

	r.logger.Info("continuous listening started")

	return nil
}

// StartManual enters manual recording, seeding the recorder with the audio
// currently buffered so the moments before the trigger are kept.
func (r *Router) StartManual() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case ModeManualRecording:
		return nil
	case ModeContinuousListening:
		return fmt.Errorf("%w: %s", ErrBusy, r.mode)
	}

	if r.recorder == nil {
		return fmt.Errorf("no recorder configured")
	}

	if err := r.engine.Start(); err != nil {
		return err
	}

	r.recorder.Begin(r.engine.ExtractBuffered())
	r.mode = ModeManualRecording

	r.logger.Info("manual recording started")

	return nil
}

// Stop leaves whatever mode is active and returns to idle. The ring buffer
// is always cleared on the way out so no audio survives the session.
func (r *Router) Stop() {
	r.mu.Lock()

	mode := r.mode
	if mode == ModeIdle {
		r.mu.Unlock()

		return
	}

	r.mode = ModeIdle
	r.voicedStreak = 0

	r.mu.Unlock()

	switch mode {
	case ModeContinuousListening:
		r.dispatcher.Disable()
		r.engine.Stop()
	case ModeManualRecording:
		r.engine.Stop()

		result, err := r.recorder.Finish()
		if err != nil {
			r.logger.Error("finishing recording failed", "error", err)
		} else {
			r.emit(Event{Type: EventRecordingDone, Recording: result})
		}
	}

	r.engine.ClearBuffer()

	r.logger.Info("returned to idle", "from", mode.String())
}

// Toggle starts the default mode from idle, or stops the active mode.
func (r *Router) Toggle() error {
	switch r.Mode() {
	case ModeIdle:
		if r.defaultMode == ModeManualRecording {
			return r.StartManual()
		}

		return r.StartContinuous()
	default:
		r.Stop()

		return nil
	}
}

// Process implements capture.FrameConsumer: frames go to the dispatcher in
// continuous mode, to the recorder in manual mode, and nowhere otherwise.
func (r *Router) Process(frame capture.Frame) {
	switch r.Mode() {
	case ModeContinuousListening:
		r.dispatcher.Process(frame)
	case ModeManualRecording:
		if r.recorder != nil {
			r.recorder.Process(frame)
		}
	}
}

// HandleResult implements analysis.ResultSink. Called from worker goroutines;
// anything arriving outside continuous mode is a late result and is dropped.
func (r *Router) HandleResult(result analysis.Result) {
	r.mu.Lock()

	if r.mode != ModeContinuousListening {
		r.mu.Unlock()

		return
	}

	var event *Event

	switch result.Kind {
	case analysis.KindWakeWord:
		if result.Confidence >= r.minConf {
			r.voicedStreak = 0
			event = &Event{Type: EventWakeWord, Detection: result}
		}
	case analysis.KindVoiceActivity:
		if result.Confidence >= r.minConf {
			r.voicedStreak++
			if r.voicedStreak >= sustainedWindows {
				r.voicedStreak = 0
				event = &Event{Type: EventSustainedVoice, Detection: result}
			}
		} else {
			r.voicedStreak = 0
		}
	case analysis.KindNone:
		// An unvoiced window from the VAD pipeline breaks the streak; wake
		// pipeline misses say nothing about voice.
		if result.Channel == analysis.ChannelVAD {
			r.voicedStreak = 0
		}
	}

	r.mu.Unlock()

	if event != nil {
		r.emit(*event)
	}
}

// HandleStreamError is wired as the engine's mid-stream failure callback:
// the device is gone, so fall back to idle and tell the observers.
func (r *Router) HandleStreamError(err error) {
	r.logger.Error("capture stream lost, returning to idle", "error", err)

	r.Stop()
	r.emit(Event{Type: EventDeviceLost})
}

// emit queues an event for the pump; observers that cannot keep up cost
// events rather than blocking detection.
func (r *Router) emit(event Event) {
	select {
	case r.events <- event:
	case <-r.done:
	default:
		r.logger.Warn("event queue full, dropping event", "type", event.Type.String())
	}
}

func (r *Router) pump() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case event := <-r.events:
			r.mu.Lock()
			observers := append([]Observer(nil), r.observers...)
			r.mu.Unlock()

			for _, observer := range observers {
				observer.HandleActivation(event)
			}
		}
	}
}

// Close stops the event pump. Call Stop first if a mode is active.
func (r *Router) Close() {
	close(r.done)
	r.wg.Wait()
}
