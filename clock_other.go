//go:build !linux

package audiolat

// MonotonicNow returns a monotonic timestamp in nanoseconds.
func MonotonicNow() int64 {
	return monotonicFallback()
}
