package speech_to_text

import (
	"fmt"
	"io"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type sttImpl struct {
	model whisper.Model
}

type Config struct {
	Model whisper.Model
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &sttImpl{
		model: cfg.Model,
	}, nil
}

func (stt *sttImpl) Transcribe(samples []float32) ([]Segment, error) {
	context, err := stt.model.NewContext()
	if err != nil {
		return nil, err
	}

	var cb whisper.SegmentCallback

	if err := context.Process(samples, cb); err != nil {
		return nil, err
	}

	return collectSegments(context)
}

// collectSegments drains the context, skipping non-speech annotations (text
// in parentheses or brackets) and repeated segments, which whisper emits on
// near-silent input.
func collectSegments(context whisper.Context) ([]Segment, error) {
	seenText := make(map[string]bool)

	var segments []Segment

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return segments, nil
		} else if err != nil {
			return nil, err
		}

		if len(segment.Text) > 0 && (segment.Text[0] == '(' || segment.Text[0] == '[' ||
			segment.Text[len(segment.Text)-1] == ')' || segment.Text[len(segment.Text)-1] == ']') {
			continue
		}

		if seenText[segment.Text] {
			continue
		}
		seenText[segment.Text] = true

		segments = append(segments, Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  segment.Text,
		})
	}
}
