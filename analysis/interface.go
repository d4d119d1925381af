package analysis

import (
	"context"
	"time"
)

// Kind tags a detection result variant.
type Kind int

const (
	// KindNone means the backend ran and found nothing.
	KindNone Kind = iota
	KindVoiceActivity
	KindWakeWord
)

func (k Kind) String() string {
	switch k {
	case KindVoiceActivity:
		return "voice_activity"
	case KindWakeWord:
		return "wake_word"
	default:
		return "none"
	}
}

// Channel names which of the two inference pipelines produced a result.
const (
	ChannelVAD      = "vad"
	ChannelWakeWord = "wake_word"
)

// Result is a single detection outcome for one analysis window. Results are
// unordered across windows: a later window's result may arrive first, so
// consumers key off Timestamp rather than arrival order.
type Result struct {
	Kind       Kind
	EnergyDB   float64
	Confidence float64
	Keyword    string
	Timestamp  time.Time
	Backend    string
	Channel    string
}

// Request carries one analysis window to an inference backend. ThresholdDB
// and Environment are only meaningful for voice-activity backends and are
// read from the power controller at dispatch time.
type Request struct {
	Samples     []float32
	ThresholdDB float64
	Environment string
	ResetBuffer bool
}

// Backend is a pluggable inference implementation: an external worker
// process, an in-process model, or anything else satisfying the
// request/response contract with bounded latency.
type Backend interface {
	Name() string
	Infer(ctx context.Context, req *Request) (*Result, error)
}

// ResultSink receives detection results asynchronously. HandleResult is
// called from worker goroutines and must be safe for concurrent use.
type ResultSink interface {
	HandleResult(result Result)
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(Result)

func (f SinkFunc) HandleResult(result Result) {
	f(result)
}
