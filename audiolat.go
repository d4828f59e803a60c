// Package audiolat measures round-trip audio latency.
//
// A run plays an END marker signal on the output stream while recording the
// input stream. At the instant a round starts, a BEGIN marker is spliced into
// the capture artifact, so an offline stage can compute the delay between the
// BEGIN position and the recorded END. The artifact is raw, headerless,
// little-endian, mono, signed 16-bit PCM and contains every captured frame
// exactly once, in order.
//
// The realtime engine is written once against the [Handler] and [Stream]
// interfaces; platform backends (ALSA, the simulator) drive it from their own
// callback goroutines.
package audiolat

import "time"

// SampleWidth is the size in bytes of one mono S16 frame.
const SampleWidth = 2

// BurstSize is the buffer size sentinel meaning "one hardware burst".
const BurstSize = -1

// framesIn converts a duration into a frame count at the given rate.
func framesIn(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

// framesDuration converts a frame count into a duration at the given rate.
func framesDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}

	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// LifecycleState is the state of a [Controller].
type LifecycleState int32

const (
	StateCreated LifecycleState = iota
	StateStreamsOpened
	StateStarted
	StateRunning
	StateStopping
	StateClosed
	StateFailed
)

var lifecycleStateNames = [...]string{
	StateCreated:       "CREATED",
	StateStreamsOpened: "STREAMS_OPENED",
	StateStarted:       "STARTED",
	StateRunning:       "RUNNING",
	StateStopping:      "STOPPING",
	StateClosed:        "CLOSED",
	StateFailed:        "FAILED",
}

// String returns the name of the state.
func (s LifecycleState) String() string {
	if s < 0 || int(s) >= len(lifecycleStateNames) {
		return "UNKNOWN"
	}

	return lifecycleStateNames[s]
}
