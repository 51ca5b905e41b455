package dsp

import (
	"math"
	"math/rand/v2"
)

// Normalisation constants used by browser convolvers so that a generated
// impulse has roughly unity loudness regardless of its length.
const (
	gainCalibration           = 0.00125
	gainCalibrationSampleRate = 44100.0
	minPower                  = 0.000125
)

// impulseSeed fixes the noise so that identical profiles render identically.
const impulseSeed = 0x616e696d65

// SyntheticImpulse generates a decaying stereo noise burst of the given
// duration and decay exponent, folds it to mono and normalises it.
//
// Sample i of each channel is uniform noise in [-1, 1) scaled by
// (1 - i/length)^decay.
func SyntheticImpulse(sampleRate int, seconds, decay float64) []float64 {
	length := int(float64(sampleRate) * seconds)
	if length <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(impulseSeed, uint64(length)))

	left := make([]float64, length)
	right := make([]float64, length)
	for i := range length {
		env := math.Pow(1-float64(i)/float64(length), decay)
		left[i] = (rng.Float64()*2 - 1) * env
		right[i] = (rng.Float64()*2 - 1) * env
	}

	scale := NormalizationScale([][]float64{left, right}, sampleRate)
	mono := left
	for i := range mono {
		mono[i] = (left[i] + right[i]) / 2 * scale
	}
	return mono
}

// NormalizationScale returns the gain that brings an impulse response with
// the given channels to calibrated loudness.
func NormalizationScale(channels [][]float64, sampleRate int) float64 {
	var sum float64
	var n int
	for _, ch := range channels {
		for _, v := range ch {
			sum += v * v
		}
		n += len(ch)
	}
	if n == 0 || sampleRate <= 0 {
		return 1
	}
	power := math.Max(math.Sqrt(sum/float64(n)), minPower)
	return 1 / power * gainCalibration * gainCalibrationSampleRate / float64(sampleRate)
}
