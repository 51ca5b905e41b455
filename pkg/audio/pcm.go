package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPCM is returned when a PCM16 payload cannot be decoded.
var ErrMalformedPCM = errors.New("audio: malformed PCM16 payload")

// PCM16ToFloat converts little-endian PCM16 bytes into samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i*2)) / 32768
	}
	return out
}

// FloatToPCM16 converts samples to little-endian PCM16, clipping to [-1, 1].
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out[i*2:], floatToInt16(s))
	}
	return out
}

// InterleaveStereo16 interleaves two equally long float channels into
// stereo PCM16.
func InterleaveStereo16(left, right []float32) []byte {
	n := min(len(left), len(right))
	out := make([]byte, n*4)
	for i := range n {
		putSample(out[i*4:], floatToInt16(left[i]))
		putSample(out[i*4+2:], floatToInt16(right[i]))
	}
	return out
}

// DecodeBase64PCM16 decodes a base64 PCM16 payload into per-channel-interleaved
// float samples. It fails when the payload is not valid base64, is empty, or
// is not aligned to whole sample frames.
func DecodeBase64PCM16(data string, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive, got %d", ErrMalformedPCM, channels)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPCM, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPCM)
	}
	if len(raw)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrMalformedPCM, len(raw), channels)
	}
	return PCM16ToFloat(raw), nil
}

// RMS returns the root-mean-square level of samples, or 0 for an empty slice.
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

func floatToInt16(s float32) int16 {
	if s >= 1 {
		return 32767
	}
	if s <= -1 {
		return -32768
	}
	// Asymmetric scaling mirrors the usual PCM16 encoder: negative samples map
	// onto the full -32768 range.
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
