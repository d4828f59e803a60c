package audiolat

// schedule arms a round when the inter-round interval has elapsed or an
// external trigger is pending. elapsed is the capture frame count before the
// current callback of n frames. At most one round is armed per callback.
func (s *Session) schedule(elapsed int64, n int) {
	triggered := s.pendingTrigger.Swap(0) != 0
	periodic := s.interval > 0 && elapsed-s.lastRound >= s.interval
	if !triggered && !periodic {
		return
	}

	s.arm(elapsed, n)
}

// arm starts a new round. A round still draining is overwritten and counted
// as truncated.
func (s *Session) arm(elapsed int64, n int) {
	if s.playoutRemaining.Load() > 0 || s.recordRemaining.Load() > 0 {
		s.truncated.Add(1)
	}

	s.playoutRemaining.Store(int64(len(s.end)))
	s.recordRemaining.Store(int64(len(s.begin)))
	s.lastRound = elapsed

	idx := s.rounds.Add(1) - 1
	if idx < int64(len(s.roundLog)) {
		// BEGIN fills the tail of this callback, or all of it when shorter.
		s.roundLog[idx] = elapsed + int64(max(0, n-len(s.begin)))
	}
}

// Trigger requests a round at monotonic timestamp ts (nanoseconds). It is
// safe to call from any goroutine. Triggers within the debounce window of the
// last accepted trigger are dropped. The round is armed by the next capture
// callback. Trigger reports whether the request was accepted.
func (s *Session) Trigger(ts int64) bool {
	if ts <= 0 {
		ts = MonotonicNow()
	}

	for {
		last := s.lastTrigger.Load()
		if last != 0 && ts-last < s.debounce {
			return false
		}

		if s.lastTrigger.CompareAndSwap(last, ts) {
			break
		}
	}

	s.pendingTrigger.Store(ts)

	return true
}
