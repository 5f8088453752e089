package events

// SendLatest performs a non-blocking send on a buffered channel. When the
// buffer is full the oldest value is discarded so the reader always sees the
// most recent state. It reports false only if the value could not be queued,
// which happens when another sender refilled the buffer in between.
//
// The channel must be buffered and must not be closed concurrently.
func SendLatest[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}

	// Channel full, clear oldest value
	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
