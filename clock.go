package audiolat

import "time"

var processStart = time.Now()

// monotonicFallback measures from process start using the runtime's
// monotonic clock reading. The +1 keeps timestamps strictly positive.
func monotonicFallback() int64 {
	return int64(time.Since(processStart)) + 1
}
