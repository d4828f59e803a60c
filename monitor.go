package audiolat

import "sync/atomic"

// glitchMonitor tracks the cumulative xrun count of one stream.
type glitchMonitor struct {
	stream Stream
	seen   atomic.Int64
	count  atomic.Int64

	rejected atomic.Int64
	err      atomic.Pointer[error]
}

// check grows the stream buffer by one burst when new xruns are reported
// and accumulates them. Concurrent callers act on each delta once. A refused
// growth is counted and its first error latched.
func (g *glitchMonitor) check() {
	if g.stream == nil {
		return
	}

	cur := int64(g.stream.XRunCount())
	prev := g.seen.Load()
	if cur <= prev || !g.seen.CompareAndSwap(prev, cur) {
		return
	}

	if burst := g.stream.FramesPerBurst(); burst > 0 {
		if _, err := g.stream.SetBufferSize(g.stream.BufferSize() + burst); err != nil {
			g.rejected.Add(1)
			g.err.CompareAndSwap(nil, &err)
		}
	}

	g.count.Add(cur - prev)
}

func (g *glitchMonitor) growErr() error {
	if p := g.err.Load(); p != nil {
		return *p
	}

	return nil
}

func (g *glitchMonitor) bufferSize() int {
	if g.stream == nil {
		return 0
	}

	return g.stream.BufferSize()
}

// checkGlitches runs on every callback of either stream and checks both.
func (s *Session) checkGlitches() {
	s.record.check()
	s.playout.check()
}
