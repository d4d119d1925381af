package capture

import "fmt"

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(in []int16) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}

	return out
}

// Decimate reduces the sample rate by an integer factor, averaging each group
// of factor samples. Good enough for speech when the source rate is a
// multiple of the target; no proper anti-alias filter.
func Decimate(in []int16, factor int) []int16 {
	if factor <= 1 {
		return in
	}

	out := make([]int16, len(in)/factor)
	for i := range out {
		var sum int32
		for j := 0; j < factor; j++ {
			sum += int32(in[i*factor+j])
		}

		out[i] = int16(sum / int32(factor))
	}

	return out
}

// ToFloat32 converts 16-bit PCM to float32 in [-1, 1).
func ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}

	return out
}

// ToInt16 converts float32 samples back to 16-bit PCM, clipping out-of-range
// values.
func ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		v := s * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}

		out[i] = int16(v)
	}

	return out
}

// convertToCanonical turns one raw device read into canonical samples (mono,
// targetRate, float32) according to the negotiated config.
func convertToCanonical(raw []int16, negotiated SourceConfig, targetRate int) ([]float32, error) {
	samples := raw

	switch negotiated.Channels {
	case 1:
	case 2:
		samples = DownmixStereo(samples)
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrFormatNegotiation, negotiated.Channels)
	}

	if negotiated.SampleRate != targetRate {
		if negotiated.SampleRate < targetRate || negotiated.SampleRate%targetRate != 0 {
			return nil, fmt.Errorf("%w: cannot derive %d Hz from %d Hz",
				ErrFormatNegotiation, targetRate, negotiated.SampleRate)
		}

		samples = Decimate(samples, negotiated.SampleRate/targetRate)
	}

	return ToFloat32(samples), nil
}
