package speech_to_text

import "time"

// Segment is one recognized span of speech, with offsets relative to the
// start of the transcribed clip.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Interface transcribes canonical audio (mono, 16 kHz, float32).
type Interface interface {
	Transcribe(samples []float32) ([]Segment, error)
}
