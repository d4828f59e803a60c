package audiolat

import "encoding/binary"

// ConsumeCapture appends exactly len(src) frames to the capture sink, with the
// BEGIN marker spliced in place of live frames while a round is being
// recorded. It is the only path that advances elapsed capture time.
func (s *Session) ConsumeCapture(src []int16) {
	s.checkGlitches()

	n := len(src)
	elapsed := s.framesCaptured.Load()
	s.schedule(elapsed, n)
	s.splice(src)

	if s.framesCaptured.Add(int64(n)) >= s.timeout {
		s.running.Store(false)
	}
}

// splice writes src to the sink, replacing frames with BEGIN as follows:
//
//   - a marker begun in an earlier callback finishes first, taking the place
//     of the leading live frames;
//   - live frames follow;
//   - a marker armed in this callback takes the place of the trailing frames,
//     or of the whole callback when it is shorter than the marker.
func (s *Session) splice(src []int16) {
	size := int64(len(s.begin))
	rem := s.recordRemaining.Load()
	left := int64(len(src))
	var cur int64

	if rem > 0 && rem < size {
		k := min(rem, left)
		off := size - rem
		s.write(s.begin[off : off+k])
		rem -= k
		left -= k
		cur += k
	}

	if left > rem {
		live := left - rem
		s.write(src[cur : cur+live])
		cur += live
		left -= live
	}

	if rem > 0 && rem == size {
		k := min(rem, left)
		s.write(s.begin[:k])
		rem -= k
	}

	s.recordRemaining.Store(rem)
}

// write converts samples to little-endian bytes through the scratch buffer.
func (s *Session) write(samples []int16) {
	chunk := len(s.scratch) / SampleWidth
	for len(samples) > 0 {
		k := min(len(samples), chunk)
		b := s.scratch[:k*SampleWidth]
		for i, v := range samples[:k] {
			binary.LittleEndian.PutUint16(b[i*SampleWidth:], uint16(v))
		}

		if _, err := s.sink.Write(b); err != nil {
			s.fail(err)
		}

		samples = samples[k:]
	}
}
