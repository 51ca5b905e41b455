package audio

import "time"

// AudioFrame is one buffer of interleaved little-endian int16 PCM moving
// between a device and the call pipeline. Microphone frames flow from a
// [Connection] into the capture gate; rendered character speech flows from the
// playback renderer back into the [Connection].
type AudioFrame struct {
	// Data holds interleaved PCM16 samples.
	Data []byte

	// SampleRate in Hz (16000 for microphone input, 24000 for rendered output,
	// 48000 on Discord).
	SampleRate int

	// Channels: 1 for mono microphone input, 2 for the stereo render.
	Channels int

	// Timestamp is the frame position relative to stream start. For rendered
	// frames it is the audio-clock time of the first sample.
	Timestamp time.Duration
}

// Samples returns the number of sample frames (per channel) carried by f.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of f at its own sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
