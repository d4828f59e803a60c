package audiolat

// FillPlayback fills dst with the pending part of the END marker, followed by
// silence. END is only emitted once the playback stream reports started.
func (s *Session) FillPlayback(dst []int16) {
	s.checkGlitches()

	n := 0
	if rem := s.playoutRemaining.Load(); rem > 0 && s.playoutStarted() {
		n = copy(dst, s.end[int64(len(s.end))-rem:])
		// A round armed meanwhile by the capture path keeps its full count.
		s.playoutRemaining.CompareAndSwap(rem, rem-int64(n))
	}

	clear(dst[n:])
}

func (s *Session) playoutStarted() bool {
	return s.playout.stream != nil && s.playout.stream.State() == StreamStarted
}
