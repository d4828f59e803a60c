package audiolat

import "golang.org/x/sys/unix"

// MonotonicNow returns CLOCK_MONOTONIC in nanoseconds.
func MonotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return monotonicFallback()
	}

	return ts.Nano()
}
