package audiolat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is a single-goroutine Stream for driving a Session by hand.
type fakeStream struct {
	state  StreamState
	burst  int
	size   int
	xruns  int
	setErr error
}

func (f *fakeStream) Info() StreamInfo {
	return StreamInfo{FramesPerBurst: f.burst, BufferSize: f.size, XRuns: f.xruns}
}

func (f *fakeStream) State() StreamState  { return f.state }
func (f *fakeStream) FramesPerBurst() int { return f.burst }
func (f *fakeStream) BufferSize() int     { return f.size }
func (f *fakeStream) XRunCount() int      { return f.xruns }

func (f *fakeStream) SetBufferSize(n int) (int, error) {
	if f.setErr != nil {
		return f.size, f.setErr
	}

	f.size = n

	return n, nil
}

func (f *fakeStream) Start() error {
	f.state = StreamStarted

	return nil
}

func (f *fakeStream) Stop() error {
	f.state = StreamStopped

	return nil
}

func (f *fakeStream) Close() error {
	f.state = StreamClosed

	return nil
}

func fill(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}

	return out
}

func decode(b []byte) []int16 {
	out := make([]int16, len(b)/SampleWidth)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*SampleWidth:]))
	}

	return out
}

func newTestSession(t *testing.T, cfg SessionConfig, begin, end []int16, sink *bytes.Buffer) *Session {
	t.Helper()

	s, err := NewSession(cfg, NewSignal(begin), NewSignal(end), sink)
	require.NoError(t, err)

	s.Attach(Output, &fakeStream{state: StreamStarted, burst: 16, size: 16})
	s.Attach(Input, &fakeStream{state: StreamStarted, burst: 16, size: 16})
	s.Begin()

	return s
}

func TestNewSessionErrors(t *testing.T) {
	_, err := NewSession(SessionConfig{}, Signal{}, Signal{}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewSession(SessionConfig{SampleRate: 100}, Signal{}, Signal{}, nil)
	assert.Error(t, err)
}

func TestEndToEnd100Hz(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 100, RoundInterval: time.Second, Timeout: 2 * time.Second}
	s := newTestSession(t, cfg, fill(100, 1000), fill(50, -1000), &sink)

	const n = 10
	mic := make([]int16, n)
	out := make([]int16, n)

	var played []int16
	for s.Running() {
		s.FillPlayback(out)
		played = append(played, out...)
		s.ConsumeCapture(mic)
	}

	got := decode(sink.Bytes())
	require.Len(t, got, 200)
	assert.Equal(t, fill(100, 0), got[:100], "pre-round frames are live")
	assert.Equal(t, fill(100, 1000), got[100:], "BEGIN replaces the next 100 frames")

	// The round arms in the capture call at elapsed 100; END starts with the next fill.
	require.Len(t, played, 200)
	assert.Equal(t, fill(110, 0), played[:110])
	assert.Equal(t, fill(50, -1000), played[110:160])
	assert.Equal(t, fill(40, 0), played[160:])

	st := s.Stats()
	assert.False(t, st.Running)
	assert.Equal(t, int64(200), st.FramesCaptured)
	assert.Equal(t, 2*time.Second, st.Elapsed)
	assert.Equal(t, int64(1), st.RoundsArmed)
	assert.Zero(t, st.RoundsTruncated)
	assert.Equal(t, []int64{100}, s.Rounds())
	assert.NoError(t, s.Err())
}

func TestSplicePositions(t *testing.T) {
	begin := []int16{1, 2, 3, 4}
	mic := []int16{-1, -2, -3, -4, -5, -6}

	tests := []struct {
		name string
		rem  int64
		want []int16
		left int64
	}{
		{"idle", 0, []int16{-1, -2, -3, -4, -5, -6}, 0},
		{"armed, right", 4, []int16{-1, -2, 1, 2, 3, 4}, 0},
		{"draining, left", 3, []int16{2, 3, 4, -4, -5, -6}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sink bytes.Buffer
			s := newTestSession(t, SessionConfig{SampleRate: 100}, begin, []int16{1}, &sink)
			s.recordRemaining.Store(tt.rem)

			s.splice(mic)
			assert.Equal(t, tt.want, decode(sink.Bytes()))
			assert.Equal(t, tt.left, s.recordRemaining.Load())
		})
	}

	t.Run("armed, whole callback", func(t *testing.T) {
		var sink bytes.Buffer
		s := newTestSession(t, SessionConfig{SampleRate: 100}, fill(10, 7), []int16{1}, &sink)
		s.recordRemaining.Store(10)

		s.splice(mic)
		assert.Equal(t, fill(6, 7), decode(sink.Bytes()))
		assert.Equal(t, int64(4), s.recordRemaining.Load())
	})
}

func TestByteConservation(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 1000, RoundInterval: 30 * time.Millisecond, Timeout: time.Hour, ScratchFrames: 7}
	s := newTestSession(t, cfg, fill(45, 500), fill(20, -500), &sink)

	rng := rand.New(rand.NewPCG(1, 2))
	total := 0
	for range 500 {
		n := 1 + rng.IntN(100)
		before := sink.Len()
		s.ConsumeCapture(make([]int16, n))
		require.Equal(t, n*SampleWidth, sink.Len()-before)
		total += n
	}

	assert.Equal(t, total*SampleWidth, sink.Len())
	assert.Equal(t, int64(total), s.Stats().FramesCaptured)
}

func TestBeginContiguity(t *testing.T) {
	const size = 50

	begin := make([]int16, size)
	for i := range begin {
		begin[i] = int16(10000 + i)
	}

	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 1000, RoundInterval: 200 * time.Millisecond, Timeout: time.Hour}
	s := newTestSession(t, cfg, begin, []int16{1}, &sink)

	micAt := func(i int) int16 { return int16(-1 - i%1000) }

	sizes := []int{7, 13, 64, 3, 250, 1, 49, 51}
	var frame int
	// Run a fixed number of callbacks, then let the last marker drain.
	for i := 0; i < 400 || s.recordRemaining.Load() > 0; i++ {
		n := sizes[i%len(sizes)]
		src := make([]int16, n)
		for j := range src {
			src[j] = micAt(frame + j)
		}
		s.FillPlayback(make([]int16, n))
		s.ConsumeCapture(src)
		frame += n
	}

	got := decode(sink.Bytes())
	require.Len(t, got, frame)

	rounds := s.Rounds()
	require.NotEmpty(t, rounds)
	assert.Equal(t, int64(len(rounds)), s.Stats().RoundsArmed)
	assert.Zero(t, s.Stats().RoundsTruncated)

	isBegin := make([]bool, len(got))
	for _, at := range rounds {
		require.LessOrEqual(t, int(at)+size, len(got))
		assert.Equal(t, begin, got[at:int(at)+size], "BEGIN at %d", at)
		for i := range size {
			isBegin[int(at)+i] = true
		}
	}

	// Every other frame is the live frame captured at that position.
	for i, v := range got {
		if !isBegin[i] {
			require.Equal(t, micAt(i), v, "frame %d", i)
		}
	}
}

func TestRoundSpacingIndependentOfCallbackSize(t *testing.T) {
	const rate = 16000

	var spliced []int
	for _, n := range []int{64, 128, 960} {
		var sink bytes.Buffer
		cfg := SessionConfig{SampleRate: rate, RoundInterval: 500 * time.Millisecond, Timeout: 2 * time.Second}
		s := newTestSession(t, cfg, fill(100, 1000), fill(100, -1000), &sink)

		mic := make([]int16, n)
		for s.Running() {
			s.ConsumeCapture(mic)
		}

		count := 0
		for _, v := range decode(sink.Bytes()) {
			if v == 1000 {
				count++
			}
		}
		spliced = append(spliced, count*SampleWidth)

		rounds := s.Rounds()
		require.Len(t, rounds, 3, "callback size %d", n)
		for i := 1; i < len(rounds); i++ {
			assert.InDelta(t, rate/2, rounds[i]-rounds[i-1], float64(n), "callback size %d", n)
		}
	}

	assert.Equal(t, spliced[0], spliced[1])
	assert.Equal(t, spliced[0], spliced[2])
	assert.Equal(t, 300*SampleWidth, spliced[0])
}

func TestFillPlayback(t *testing.T) {
	var sink bytes.Buffer
	end := []int16{-1, -2, -3, -4, -5}
	s := newTestSession(t, SessionConfig{SampleRate: 100}, []int16{1}, end, &sink)

	dst := fill(3, 99)
	s.FillPlayback(dst)
	assert.Equal(t, []int16{0, 0, 0}, dst, "silence when no round is armed")

	s.playoutRemaining.Store(int64(len(end)))
	s.FillPlayback(dst)
	assert.Equal(t, []int16{-1, -2, -3}, dst)

	dst = fill(4, 99)
	s.FillPlayback(dst)
	assert.Equal(t, []int16{-4, -5, 0, 0}, dst)
	assert.Zero(t, s.playoutRemaining.Load())

	// Not started: the marker waits.
	s.playout.stream.(*fakeStream).state = StreamOpen
	s.playoutRemaining.Store(int64(len(end)))
	s.FillPlayback(dst)
	assert.Equal(t, []int16{0, 0, 0, 0}, dst)
	assert.Equal(t, int64(len(end)), s.playoutRemaining.Load())
}

func TestGlitchMonitorGrowsOneBurst(t *testing.T) {
	var sink bytes.Buffer
	s, err := NewSession(SessionConfig{SampleRate: 100, Timeout: time.Hour}, NewSignal([]int16{1}), NewSignal([]int16{1}), &sink)
	require.NoError(t, err)

	rec := &fakeStream{state: StreamStarted, burst: 32, size: 32}
	play := &fakeStream{state: StreamStarted, burst: 48, size: 96}
	s.Attach(Input, rec)
	s.Attach(Output, play)
	s.Begin()

	buf := make([]int16, 8)
	steps := []struct {
		rx, px       int
		rsize, psize int
	}{
		{0, 0, 32, 96},
		{1, 0, 64, 96},
		{1, 0, 64, 96},
		{4, 2, 96, 144},
		{4, 2, 96, 144},
		{3, 2, 96, 144},
	}

	last := rec.size
	for i, st := range steps {
		rec.xruns, play.xruns = st.rx, st.px
		s.ConsumeCapture(buf)
		assert.Equal(t, st.rsize, rec.size, "step %d", i)
		assert.Equal(t, st.psize, play.size, "step %d", i)
		assert.GreaterOrEqual(t, rec.size, last)
		last = rec.size
	}

	stats := s.Stats()
	assert.Equal(t, int64(4), stats.RecordXRuns)
	assert.Equal(t, int64(2), stats.PlayoutXRuns)
	assert.Equal(t, 96, stats.RecordBuffer)
	assert.Equal(t, 144, stats.PlayoutBuffer)
}

func TestTriggerDebounce(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 100, Timeout: time.Hour, Debounce: time.Second}
	s := newTestSession(t, cfg, fill(20, 1), fill(5, 2), &sink)

	sec := int64(time.Second)
	assert.True(t, s.Trigger(1*sec))
	assert.False(t, s.Trigger(1*sec+sec/2))
	assert.True(t, s.Trigger(2*sec))

	// Two accepted triggers before a callback arm a single round.
	s.ConsumeCapture(make([]int16, 10))
	assert.Equal(t, int64(1), s.Stats().RoundsArmed)

	s.ConsumeCapture(make([]int16, 10))
	assert.Equal(t, int64(1), s.Stats().RoundsArmed, "no periodic rounds without an interval")

	fresh := newTestSession(t, cfg, fill(20, 1), fill(5, 2), &sink)
	assert.True(t, fresh.Trigger(0), "zero timestamp reads the monotonic clock")
	assert.Positive(t, fresh.lastTrigger.Load())
}

func TestRearmWhileDrainingTruncates(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 100, Timeout: time.Hour}
	s := newTestSession(t, cfg, fill(100, 1000), fill(5, 2), &sink)

	require.True(t, s.Trigger(int64(time.Second)))
	s.ConsumeCapture(make([]int16, 10))
	assert.Equal(t, int64(90), s.Stats().RecordRemaining)

	require.True(t, s.Trigger(int64(3*time.Second)))
	s.ConsumeCapture(make([]int16, 10))

	st := s.Stats()
	assert.Equal(t, int64(2), st.RoundsArmed)
	assert.Equal(t, int64(1), st.RoundsTruncated)
	assert.Equal(t, []int64{0, 10}, s.Rounds())
}

func TestTruncationFollowsPlayout(t *testing.T) {
	run := func(playback bool) Stats {
		var sink bytes.Buffer
		cfg := SessionConfig{SampleRate: 1000, RoundInterval: 200 * time.Millisecond, Timeout: time.Hour}
		s := newTestSession(t, cfg, fill(50, 1000), fill(1, 2), &sink)

		buf := make([]int16, 250)
		for range 10 {
			if playback {
				s.FillPlayback(make([]int16, 250))
			}
			s.ConsumeCapture(buf)
		}

		return s.Stats()
	}

	st := run(true)
	assert.Equal(t, int64(9), st.RoundsArmed)
	assert.Zero(t, st.RoundsTruncated)

	// END never plays out, so every later round overwrites a pending one.
	st = run(false)
	assert.Equal(t, int64(9), st.RoundsArmed)
	assert.Equal(t, int64(8), st.RoundsTruncated)
	assert.Equal(t, int64(1), st.PlayoutRemaining)
}

var errFixedBuffer = errors.New("buffer size is fixed")

func TestGlitchMonitorLatchesRejectedGrowth(t *testing.T) {
	var sink bytes.Buffer
	s, err := NewSession(SessionConfig{SampleRate: 100, Timeout: time.Hour}, NewSignal([]int16{1}), NewSignal([]int16{1}), &sink)
	require.NoError(t, err)

	rec := &fakeStream{state: StreamStarted, burst: 32, size: 64, setErr: errFixedBuffer}
	s.Attach(Input, rec)
	s.Attach(Output, &fakeStream{state: StreamStarted, burst: 32, size: 64})
	s.Begin()

	buf := make([]int16, 8)
	s.ConsumeCapture(buf)
	assert.NoError(t, s.GrowErr(Input))

	rec.xruns = 1
	s.ConsumeCapture(buf)
	rec.xruns = 3
	s.ConsumeCapture(buf)

	st := s.Stats()
	assert.Equal(t, 64, rec.size, "a refused request leaves the buffer unchanged")
	assert.Equal(t, int64(3), st.RecordXRuns)
	assert.Equal(t, int64(2), st.RecordGrowRejects)
	assert.Zero(t, st.PlayoutGrowRejects)
	assert.ErrorIs(t, s.GrowErr(Input), errFixedBuffer)
	assert.NoError(t, s.GrowErr(Output))
}

func TestRoundLogSizedFromDebounce(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 100, Timeout: 200 * time.Second, Debounce: time.Second}
	s := newTestSession(t, cfg, fill(5, 1000), fill(5, 2), &sink)

	buf := make([]int16, 10)
	out := make([]int16, 10)
	for i := range 100 {
		require.True(t, s.Trigger(int64(i+1)*int64(time.Second)))
		s.FillPlayback(out)
		s.ConsumeCapture(buf)
	}

	st := s.Stats()
	assert.Equal(t, int64(100), st.RoundsArmed)
	assert.Zero(t, st.RoundsDropped)
	assert.Len(t, s.Rounds(), 100)
}

func TestRoundsDroppedCounted(t *testing.T) {
	var sink bytes.Buffer
	cfg := SessionConfig{SampleRate: 100, Timeout: time.Hour, MaxRounds: 2}
	s := newTestSession(t, cfg, fill(5, 1000), fill(5, 2), &sink)

	buf := make([]int16, 10)
	out := make([]int16, 10)
	for i := range 3 {
		require.True(t, s.Trigger(int64(i+1)*int64(time.Second)))
		s.FillPlayback(out)
		s.ConsumeCapture(buf)
	}

	st := s.Stats()
	assert.Equal(t, int64(3), st.RoundsArmed)
	assert.Equal(t, int64(1), st.RoundsDropped)
	assert.Equal(t, []int64{5, 15}, s.Rounds())
}

type failWriter struct {
	calls int
}

var errDiskFull = errors.New("disk full")

func (w *failWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls >= 2 {
		return 0, errDiskFull
	}

	return len(p), nil
}

func TestSinkErrorLatched(t *testing.T) {
	w := &failWriter{}
	s, err := NewSession(SessionConfig{SampleRate: 100, Timeout: time.Second}, NewSignal([]int16{1}), NewSignal([]int16{1}), w)
	require.NoError(t, err)
	s.Begin()

	for s.Running() {
		s.ConsumeCapture(make([]int16, 10))
	}

	assert.ErrorIs(t, s.Err(), errDiskFull)
	assert.Equal(t, int64(100), s.Stats().FramesCaptured, "capture time advances after a write failure")
}
