package wake_word

import (
	"context"
	"fmt"
	"strings"

	"voice-activation-detection/analysis"
	"voice-activation-detection/speech_to_text"
)

// Backend detects the wake word in-process by transcribing each analysis
// window and looking for the keyword in the normalized text. Heavier than a
// dedicated keyword model, but it needs nothing beyond the transcriber the
// pipeline already has.
type Backend struct {
	stt     speech_to_text.Interface
	keyword string
}

type Config struct {
	STTEngine speech_to_text.Interface
	Keyword   string
}

func New(cfg *Config) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.STTEngine == nil {
		return nil, fmt.Errorf("sttEngine is nil")
	}

	if cfg.Keyword == "" {
		return nil, fmt.Errorf("keyword is empty")
	}

	return &Backend{
		stt:     cfg.STTEngine,
		keyword: Normalize(cfg.Keyword),
	}, nil
}

func (b *Backend) Name() string {
	return "whisper-wake-word"
}

func (b *Backend) Infer(_ context.Context, req *analysis.Request) (*analysis.Result, error) {
	segments, err := b.stt.Transcribe(req.Samples)
	if err != nil {
		return nil, fmt.Errorf("transcribing window: %w", err)
	}

	for _, segment := range segments {
		if strings.Contains(Normalize(segment.Text), b.keyword) {
			return &analysis.Result{
				Kind:       analysis.KindWakeWord,
				Keyword:    b.keyword,
				Confidence: 1.0,
			}, nil
		}
	}

	return &analysis.Result{Kind: analysis.KindNone}, nil
}

// Normalize strips everything but letters, digits and spaces and lowercases
// the rest, so punctuation inserted by the transcriber cannot split the
// keyword.
func Normalize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' {
			return r
		}

		return -1
	}, text)

	return strings.ToLower(cleaned)
}
