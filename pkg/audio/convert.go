package audio

import "math"

// Int16ToFloat32 converts signed 16-bit samples to float32 in [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// IntToFloat32 converts integer samples of the given bit depth to float32 in
// [-1, 1). This is the representation used by go-audio's IntBuffer. A
// non-positive bitDepth is treated as 16.
func IntToFloat32(pcm []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / scale
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono. Input with
// one channel (or fewer) is returned unchanged. Trailing samples that do not
// form a complete frame are dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is invalid, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// RMS returns the root-mean-square energy of samples, or 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
