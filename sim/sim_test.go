package sim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/audiolat"
)

// recorder plays a ramp and records what it captures until limit frames.
type recorder struct {
	limit int64

	mu       sync.Mutex
	captured []int16
	sizes    []int
	next     int16
	frames   atomic.Int64
}

func (r *recorder) FillPlayback(dst []int16) {
	for i := range dst {
		r.next++
		dst[i] = r.next
	}
}

func (r *recorder) ConsumeCapture(src []int16) {
	r.mu.Lock()
	r.captured = append(r.captured, src...)
	r.sizes = append(r.sizes, len(src))
	r.mu.Unlock()
	r.frames.Add(int64(len(src)))
}

func (r *recorder) Running() bool {
	return r.frames.Load() < r.limit
}

func openPair(t *testing.T, p *Platform, h audiolat.Handler) (out, in audiolat.Stream) {
	t.Helper()

	cfg := audiolat.StreamConfig{SampleRate: 1000, Device: "sim"}
	for _, dir := range []audiolat.Direction{audiolat.Output, audiolat.Input} {
		b, err := p.NewBuilder(dir)
		require.NoError(t, err)

		cfg.Direction = dir
		s, err := b.Open(cfg, h)
		require.NoError(t, err)

		if dir == audiolat.Output {
			out = s
		} else {
			in = s
		}
	}

	return out, in
}

func waitIdle(t *testing.T, r *recorder) {
	t.Helper()

	require.Eventually(t, func() bool { return !r.Running() }, 5*time.Second, time.Millisecond)
}

func TestDriverCallbackSizes(t *testing.T) {
	p := &Platform{Callbacks: []int{10, 20, 30}}
	r := &recorder{limit: 120}

	out, in := openPair(t, p, r)
	require.NoError(t, in.Start())
	assert.Empty(t, p.Played(), "driver must wait for every opened stream")
	require.NoError(t, out.Start())

	waitIdle(t, r)
	require.NoError(t, in.Stop())
	require.NoError(t, out.Stop())

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int{10, 20, 30, 10, 20, 30}, r.sizes)
	assert.Len(t, p.Played(), 120)
}

func TestLoopbackDelay(t *testing.T) {
	p := &Platform{
		Burst:         16,
		Loopback:      true,
		LoopbackDelay: 5,
		Input:         func(int64) int16 { return 100 },
	}
	r := &recorder{limit: 64}

	out, in := openPair(t, p, r)
	require.NoError(t, in.Start())
	require.NoError(t, out.Start())
	waitIdle(t, r)
	require.NoError(t, in.Stop())
	require.NoError(t, out.Stop())

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.captured, 64)

	for i := range 5 {
		assert.Equal(t, int16(100), r.captured[i])
	}
	// Played frame j is j+1 (the ramp), heard 5 frames later on top of the mic.
	for i := 5; i < 64; i++ {
		assert.Equal(t, int16(100+i-5+1), r.captured[i], "frame %d", i)
	}
}

func TestMicrophoneSaturates(t *testing.T) {
	p := &Platform{Loopback: true, Input: func(int64) int16 { return 32000 }}
	p.played = []int16{32000, -32000}

	buf := make([]int16, 3)
	p.microphone(buf, 0)
	assert.Equal(t, []int16{32767, 0, 32000}, buf)
}

func TestEventsAndFailures(t *testing.T) {
	events := &EventLog{}
	p := &Platform{
		Events: events,
		Fail: func(op string, dir audiolat.Direction) error {
			if op == "start" && dir == audiolat.Output {
				return ErrInjected
			}

			return nil
		},
	}

	r := &recorder{limit: 1}
	out, in := openPair(t, p, r)
	require.NoError(t, in.Start())
	assert.ErrorIs(t, out.Start(), ErrInjected)
	assert.Equal(t, audiolat.StreamOpen, out.State())

	require.NoError(t, in.Stop())
	require.NoError(t, in.Close())
	require.NoError(t, out.Close())

	assert.Equal(t, []string{
		"create output", "open output",
		"create input", "open input",
		"start input",
		"stop input", "close input", "close output",
	}, events.Events())
	assert.Equal(t, audiolat.StreamClosed, p.Stream(audiolat.Input).State())
}

func TestBufferSizeAndXRuns(t *testing.T) {
	p := &Platform{Burst: 32}
	r := &recorder{}
	out, _ := openPair(t, p, r)

	assert.Equal(t, 32, out.FramesPerBurst())
	assert.Equal(t, 512, out.BufferSize())

	n, err := out.SetBufferSize(64)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	n, _ = out.SetBufferSize(10_000)
	assert.Equal(t, 512, n)

	p.InjectXRun(audiolat.Output, 2)
	p.InjectXRun(audiolat.Output, 1)
	assert.Equal(t, 3, out.XRunCount())
	assert.Equal(t, 3, out.Info().XRuns)
}
