package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a consumer stops early so that the producer of a streaming
// channel, such as a TTS audio stream, does not block forever.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
