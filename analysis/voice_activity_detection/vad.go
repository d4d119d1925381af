package voice_activity_detection

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// VAD detects voice activity from spectral flux: speech onsets show up as a
// burst of positive change across the magnitude spectrum between consecutive
// windows, which a plain energy gate misses in steady background noise.
type VAD struct {
	prevSpectrum []float64
}

func New(windowSize int) *VAD {
	return &VAD{
		prevSpectrum: make([]float64, windowSize/2+1),
	}
}

// Flux returns the positive spectral flux of samples against the previous
// window. The reference starts at zero, so the first call measures the raw
// spectral magnitude.
func (v *VAD) Flux(samples []float32) float64 {
	buf := make([]float64, len(samples))
	for i, s := range samples {
		buf[i] = float64(s)
	}

	spectrum := fft.FFTReal(buf)

	var flux float64

	n := len(spectrum)/2 + 1
	if n > len(v.prevSpectrum) {
		n = len(v.prevSpectrum)
	}

	for i := 0; i < n; i++ {
		mag := cmplx.Abs(spectrum[i])

		if d := mag - v.prevSpectrum[i]; d > 0 {
			flux += d
		}

		v.prevSpectrum[i] = mag
	}

	return flux
}

// Reset clears the reference spectrum, e.g. when a new utterance starts.
func (v *VAD) Reset() {
	for i := range v.prevSpectrum {
		v.prevSpectrum[i] = 0
	}
}

// EnergyDB returns the RMS level of samples in dBFS. Silence floors at
// -96 dB rather than -Inf so thresholds stay comparable.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -96
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return -96
	}

	db := 20 * math.Log10(rms)
	if db < -96 {
		db = -96
	}

	return db
}
