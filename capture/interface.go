package capture

import "time"

// Frame is one fixed-size chunk of canonical audio: mono float32 samples at
// 16 kHz, tagged with the monotonic capture timestamp of its first sample.
// Frames are immutable once delivered.
type Frame struct {
	Samples   []float32
	Timestamp time.Time
}

// FrameConsumer receives frames from the capture engine. Process must not
// block: the engine calls it from the delivery goroutine that drains the
// device read loop.
type FrameConsumer interface {
	Process(frame Frame)
}

// ConsumerFunc adapts a function to FrameConsumer.
type ConsumerFunc func(Frame)

func (f ConsumerFunc) Process(frame Frame) {
	f(frame)
}

// SourceConfig describes a requested or negotiated device stream format.
// ReadSize is the number of samples per channel delivered by one Read.
type SourceConfig struct {
	SampleRate int
	Channels   int
	ReadSize   int
}

// Source abstracts an OS audio input backend (portaudio, miniaudio).
type Source interface {
	Name() string

	// Open opens an input stream for the requested config. Backends may open
	// the stream at a different sample rate or channel count; the negotiated
	// values are reported by Stream.Config and the engine converts. Open
	// returns ErrDeviceUnavailable when no usable input device exists.
	Open(cfg SourceConfig) (Stream, error)
}

// Stream is an open device stream. Read blocks until one read-size chunk of
// interleaved samples is available.
type Stream interface {
	Config() SourceConfig
	Start() error
	Read() ([]int16, error)
	Stop() error
	Close() error
}
