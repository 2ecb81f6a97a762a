package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Capture sources use it to release a frame channel nobody consumes any more.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
