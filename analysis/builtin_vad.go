package analysis

import (
	"context"
	"sync"

	"voice-activation-detection/analysis/voice_activity_detection"
)

// fluxRiseFactor matches the onset heuristic used by the manual recorder: a
// window whose spectral flux rises this much over the previous one is
// considered an onset even near the energy threshold.
const fluxRiseFactor = 1.75

// BuiltinVAD is the in-process voice-activity backend: an energy gate against
// the adaptive threshold, with spectral flux breaking ties near the gate.
// It keeps per-window state, so one instance serves one dispatcher.
type BuiltinVAD struct {
	mu       sync.Mutex
	detector *voice_activity_detection.VAD
	lastFlux float64
}

func NewBuiltinVAD(windowSize int) *BuiltinVAD {
	return &BuiltinVAD{
		detector: voice_activity_detection.New(windowSize),
	}
}

func (b *BuiltinVAD) Name() string {
	return "builtin-vad"
}

func (b *BuiltinVAD) Infer(_ context.Context, req *Request) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.ResetBuffer {
		b.detector.Reset()
		b.lastFlux = 0
	}

	energy := voice_activity_detection.EnergyDB(req.Samples)
	flux := b.detector.Flux(req.Samples)

	rising := b.lastFlux > 0 && flux >= b.lastFlux*fluxRiseFactor
	b.lastFlux = flux

	voiced := energy >= req.ThresholdDB || (rising && energy >= req.ThresholdDB-3)
	if !voiced {
		return &Result{Kind: KindNone, EnergyDB: energy}, nil
	}

	// Confidence grows with headroom above the threshold, saturating at
	// 12 dB over.
	margin := energy - req.ThresholdDB
	confidence := 0.5 + margin/24
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0.25 {
		confidence = 0.25
	}

	return &Result{
		Kind:       KindVoiceActivity,
		EnergyDB:   energy,
		Confidence: confidence,
	}, nil
}
