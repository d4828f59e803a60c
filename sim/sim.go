// Package sim is a deterministic in-process audio platform. A single driver
// goroutine calls the playback and capture callbacks in lockstep, with
// configurable callback sizes, a synthetic microphone and an optional
// acoustic loopback from the speaker to the microphone.
//
// The driver only runs while every opened stream is started. Unless Realtime
// is set it runs as fast as possible and idles as soon as the handler reports
// that the run is over, so a run captures a reproducible number of frames.
package sim

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/audiolat"
)

// ErrInjected is returned by operations failed through [Platform.Fail].
var ErrInjected = errors.New("injected failure")

// Platform implements audiolat.Platform. The zero value is usable.
type Platform struct {
	// Burst is the frames-per-burst reported by streams, 64 when zero.
	Burst int
	// Capacity is the buffer capacity in frames when the request does not set one, 16 bursts when zero.
	Capacity int
	// Callbacks is the cycle of callback sizes. Empty means one burst per callback.
	Callbacks []int
	// Input returns the microphone sample for capture frame i. Nil is silence.
	Input func(i int64) int16
	// Loopback adds played frames to the microphone, LoopbackDelay frames later.
	Loopback      bool
	LoopbackDelay int
	// Realtime paces the driver at the stream sample rate.
	Realtime bool
	// OnCycle is called by the driver before each callback pair.
	OnCycle func(cycle int, captured int64)
	// Fail, when set, is consulted before "create", "open", "start", "stop",
	// "close" and "release"; a non-nil result fails that operation.
	Fail func(op string, dir audiolat.Direction) error
	// Events records every platform operation. Nil disables recording.
	Events *EventLog

	mu      sync.Mutex
	streams [2]atomic.Pointer[Stream]
	quit    chan struct{}
	done    chan struct{}

	histMu sync.Mutex
	played []int16
}

// EventLog is a concurrency-safe record of platform operations such as
// "open output" or "stop input".
type EventLog struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event.
func (l *EventLog) Add(event string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []string {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.events)
}

func (p *Platform) event(op string, dir audiolat.Direction) error {
	if p.Fail != nil {
		if err := p.Fail(op, dir); err != nil {
			return err
		}
	}

	p.Events.Add(op + " " + dir.String())

	return nil
}

func (p *Platform) burst() int {
	if p.Burst > 0 {
		return p.Burst
	}

	return 64
}

// NewBuilder implements audiolat.Platform.
func (p *Platform) NewBuilder(dir audiolat.Direction) (audiolat.StreamBuilder, error) {
	if err := p.event("create", dir); err != nil {
		return nil, err
	}

	return &Builder{platform: p, dir: dir}, nil
}

// Played returns every frame the playback callback produced, in order.
func (p *Platform) Played() []int16 {
	p.histMu.Lock()
	defer p.histMu.Unlock()

	return slices.Clone(p.played)
}

// InjectXRun adds n to the cumulative xrun count of the opened stream of dir.
// It is safe to call from OnCycle.
func (p *Platform) InjectXRun(dir audiolat.Direction, n int) {
	if s := p.streams[dir].Load(); s != nil {
		s.xruns.Add(int64(n))
	}
}

// Stream returns the last stream opened for dir, or nil.
func (p *Platform) Stream(dir audiolat.Direction) *Stream {
	return p.streams[dir].Load()
}

// Builder opens simulated streams of one direction.
type Builder struct {
	platform *Platform
	dir      audiolat.Direction
	released bool
}

// Open implements audiolat.StreamBuilder.
func (b *Builder) Open(cfg audiolat.StreamConfig, h audiolat.Handler) (audiolat.Stream, error) {
	if b.released {
		return nil, errors.New("builder released")
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}

	if err := b.platform.event("open", b.dir); err != nil {
		return nil, err
	}

	p := b.platform
	burst := p.burst()
	if cfg.FramesPerBurst > 0 {
		burst = cfg.FramesPerBurst
	}

	capacity := cfg.BufferCapacity
	switch {
	case capacity <= 0 && p.Capacity > 0:
		capacity = p.Capacity
	case capacity <= 0:
		capacity = 16 * burst
	}

	s := &Stream{
		platform: p,
		dir:      b.dir,
		cfg:      cfg,
		h:        h,
		burst:    burst,
		capacity: capacity,
	}
	s.size.Store(int64(capacity))
	s.state.Store(int32(audiolat.StreamOpen))

	p.streams[b.dir].Store(s)

	return s, nil
}

// Release implements audiolat.StreamBuilder.
func (b *Builder) Release() error {
	if err := b.platform.event("release", b.dir); err != nil {
		return err
	}

	b.released = true

	return nil
}

// Stream is a simulated stream.
type Stream struct {
	platform *Platform
	dir      audiolat.Direction
	cfg      audiolat.StreamConfig
	h        audiolat.Handler

	burst    int
	capacity int
	size     atomic.Int64
	state    atomic.Int32
	xruns    atomic.Int64
}

func (s *Stream) Info() audiolat.StreamInfo {
	return audiolat.StreamInfo{
		Direction:      s.dir,
		Device:         s.cfg.Device,
		SampleRate:     s.cfg.SampleRate,
		FramesPerBurst: s.burst,
		BufferSize:     s.BufferSize(),
		BufferCapacity: s.capacity,
		Sharing:        s.cfg.Sharing,
		Performance:    s.cfg.Performance,
		Usage:          s.cfg.Usage,
		InputPreset:    s.cfg.InputPreset,
		XRuns:          s.XRunCount(),
	}
}

func (s *Stream) State() audiolat.StreamState {
	return audiolat.StreamState(s.state.Load())
}

func (s *Stream) FramesPerBurst() int {
	return s.burst
}

func (s *Stream) BufferSize() int {
	return int(s.size.Load())
}

// SetBufferSize clamps frames to [1, capacity].
func (s *Stream) SetBufferSize(frames int) (int, error) {
	n := min(max(frames, 1), s.capacity)
	s.size.Store(int64(n))

	return n, nil
}

func (s *Stream) XRunCount() int {
	return int(s.xruns.Load())
}

func (s *Stream) Start() error {
	p := s.platform
	if err := p.event("start", s.dir); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s.state.Store(int32(audiolat.StreamStarted))
	p.startDriver()

	return nil
}

func (s *Stream) Stop() error {
	p := s.platform
	if err := p.event("stop", s.dir); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s.state.Store(int32(audiolat.StreamStopping))
	p.stopDriver()
	s.state.Store(int32(audiolat.StreamStopped))

	return nil
}

func (s *Stream) Close() error {
	p := s.platform
	if err := p.event("close", s.dir); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State() == audiolat.StreamStarted {
		p.stopDriver()
	}

	s.state.Store(int32(audiolat.StreamClosed))

	return nil
}

// startDriver starts the driver once every opened stream is started.
// p.mu must be held.
func (p *Platform) startDriver() {
	if p.quit != nil {
		return
	}

	out, in := p.streams[audiolat.Output].Load(), p.streams[audiolat.Input].Load()
	for _, s := range []*Stream{out, in} {
		if s != nil && s.State() != audiolat.StreamStarted {
			return
		}
	}

	if out == nil && in == nil {
		return
	}

	p.quit = make(chan struct{})
	p.done = make(chan struct{})

	go p.drive(out, in, p.quit, p.done)
}

// stopDriver stops the driver and waits for it. p.mu must be held.
func (p *Platform) stopDriver() {
	if p.quit == nil {
		return
	}

	close(p.quit)
	<-p.done
	p.quit, p.done = nil, nil
}

func (p *Platform) drive(out, in *Stream, quit, done chan struct{}) {
	defer close(done)

	sizes := p.Callbacks
	if len(sizes) == 0 {
		sizes = []int{p.burst()}
	}

	var rate int
	var h audiolat.Handler
	if in != nil {
		rate, h = in.cfg.SampleRate, in.h
	} else {
		rate, h = out.cfg.SampleRate, out.h
	}

	runner, _ := h.(interface{ Running() bool })

	maxN := slices.Max(sizes)
	outBuf := make([]int16, maxN)
	inBuf := make([]int16, maxN)

	var captured int64
	start := time.Now()

	for cycle := 0; ; cycle++ {
		select {
		case <-quit:
			return
		default:
		}

		if !p.Realtime && runner != nil && !runner.Running() {
			select {
			case <-quit:
				return
			case <-time.After(time.Millisecond):
			}
			cycle--

			continue
		}

		n := sizes[cycle%len(sizes)]

		if p.OnCycle != nil {
			p.OnCycle(cycle, captured)
		}

		if out != nil {
			out.h.FillPlayback(outBuf[:n])

			p.histMu.Lock()
			p.played = append(p.played, outBuf[:n]...)
			p.histMu.Unlock()
		}

		if in != nil {
			p.microphone(inBuf[:n], captured)
			in.h.ConsumeCapture(inBuf[:n])
		}

		captured += int64(n)

		if p.Realtime {
			due := start.Add(time.Duration(captured * int64(time.Second) / int64(rate)))
			select {
			case <-quit:
				return
			case <-time.After(time.Until(due)):
			}
		}
	}
}

// microphone fills buf with the synthetic input for frames starting at first.
func (p *Platform) microphone(buf []int16, first int64) {
	if p.Loopback {
		p.histMu.Lock()
		defer p.histMu.Unlock()
	}

	for i := range buf {
		f := first + int64(i)

		var v int32
		if p.Input != nil {
			v = int32(p.Input(f))
		}

		if p.Loopback {
			if j := f - int64(p.LoopbackDelay); j >= 0 && j < int64(len(p.played)) {
				v += int32(p.played[j])
			}
		}

		buf[i] = int16(min(max(v, math.MinInt16), math.MaxInt16))
	}
}
