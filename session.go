package audiolat

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// SessionConfig holds the timing parameters of one measurement run.
type SessionConfig struct {
	SampleRate int
	// Timeout is the amount of captured audio after which the run flag clears.
	Timeout time.Duration
	// RoundInterval is the period between rounds. Zero or negative disables
	// periodic rounds; only external triggers arm rounds then.
	RoundInterval time.Duration
	// Debounce drops external triggers closer than this to the last accepted one.
	Debounce time.Duration
	// MaxRounds bounds the round log. Zero derives it from Timeout and
	// RoundInterval, or from Timeout and Debounce when rounds are only triggered.
	MaxRounds int
	// ScratchFrames sizes the sample conversion buffer. Zero means 4096.
	ScratchFrames int
}

// Session is the per-run state shared by the playback and capture callbacks.
// It implements [Handler].
//
// Cross-stream counters are atomics. Only the capture path arms rounds and
// advances elapsed time; the playback path only consumes playout_remaining.
type Session struct {
	rate     int
	timeout  int64
	interval int64
	debounce int64

	begin []int16
	end   []int16

	sink    io.Writer
	scratch []byte
	sinkErr error
	failed  atomic.Bool

	running          atomic.Bool
	playoutRemaining atomic.Int64
	recordRemaining  atomic.Int64
	framesCaptured   atomic.Int64

	// lastRound is owned by the capture path.
	lastRound int64
	roundLog  []int64
	rounds    atomic.Int64
	truncated atomic.Int64

	pendingTrigger atomic.Int64
	lastTrigger    atomic.Int64

	playout glitchMonitor
	record  glitchMonitor
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	Running         bool
	FramesCaptured  int64
	Elapsed         time.Duration
	RoundsArmed     int64
	RoundsTruncated int64
	// RoundsDropped counts armed rounds whose offset did not fit the round log.
	RoundsDropped    int64
	PlayoutRemaining int64
	RecordRemaining  int64
	RecordXRuns      int64
	PlayoutXRuns     int64
	RecordBuffer     int
	PlayoutBuffer    int
	// RecordGrowRejects and PlayoutGrowRejects count buffer growth requests
	// the platform refused.
	RecordGrowRejects  int64
	PlayoutGrowRejects int64
}

// NewSession creates a session writing the capture artifact to sink.
func NewSession(cfg SessionConfig, begin, end Signal, sink io.Writer) (*Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	if sink == nil {
		return nil, errors.New("nil capture sink")
	}

	scratch := cfg.ScratchFrames
	if scratch <= 0 {
		scratch = 4096
	}

	s := &Session{
		rate:     cfg.SampleRate,
		timeout:  framesIn(cfg.Timeout, cfg.SampleRate),
		interval: framesIn(cfg.RoundInterval, cfg.SampleRate),
		debounce: int64(cfg.Debounce),
		begin:    begin.samples,
		end:      end.samples,
		sink:     sink,
		scratch:  make([]byte, scratch*SampleWidth),
	}

	s.roundLog = make([]int64, roundLogSize(cfg, s.timeout, s.interval))

	return s, nil
}

func roundLogSize(cfg SessionConfig, timeout, interval int64) int {
	if cfg.MaxRounds > 0 {
		return cfg.MaxRounds
	}

	n := int64(64)
	switch debounce := framesIn(cfg.Debounce, cfg.SampleRate); {
	case interval > 0:
		n += timeout / interval
	case debounce > 0:
		n += timeout / debounce
	}

	return int(min(n, 1<<16))
}

// Attach registers the platform stream for dir. It must be called before the
// stream is started.
func (s *Session) Attach(dir Direction, st Stream) {
	switch dir {
	case Output:
		s.playout.stream = st
	case Input:
		s.record.stream = st
	}
}

// Begin sets the run flag.
func (s *Session) Begin() {
	s.running.Store(true)
}

// Halt clears the run flag.
func (s *Session) Halt() {
	s.running.Store(false)
}

// Running reports whether the run flag is set.
func (s *Session) Running() bool {
	return s.running.Load()
}

// SampleRate returns the session sample rate.
func (s *Session) SampleRate() int {
	return s.rate
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	frames := s.framesCaptured.Load()
	rounds := s.rounds.Load()

	return Stats{
		Running:          s.running.Load(),
		FramesCaptured:   frames,
		Elapsed:          framesDuration(frames, s.rate),
		RoundsArmed:      rounds,
		RoundsTruncated:  s.truncated.Load(),
		RoundsDropped:    max(0, rounds-int64(len(s.roundLog))),
		PlayoutRemaining: s.playoutRemaining.Load(),
		RecordRemaining:  s.recordRemaining.Load(),
		RecordXRuns:      s.record.count.Load(),
		PlayoutXRuns:     s.playout.count.Load(),
		RecordBuffer:     s.record.bufferSize(),
		PlayoutBuffer:    s.playout.bufferSize(),

		RecordGrowRejects:  s.record.rejected.Load(),
		PlayoutGrowRejects: s.playout.rejected.Load(),
	}
}

// Rounds returns the sink frame offsets at which each recorded BEGIN marker
// starts. It must only be called once both streams are stopped.
func (s *Session) Rounds() []int64 {
	n := min(s.rounds.Load(), int64(len(s.roundLog)))
	out := make([]int64, n)
	copy(out, s.roundLog[:n])

	return out
}

// Err returns the first sink write error, if any. It must only be called once
// the capture stream is stopped.
func (s *Session) Err() error {
	if !s.failed.Load() {
		return nil
	}

	return s.sinkErr
}

// GrowErr returns the first buffer growth error of the dir stream, if any.
func (s *Session) GrowErr(dir Direction) error {
	if dir == Input {
		return s.record.growErr()
	}

	return s.playout.growErr()
}

func (s *Session) fail(err error) {
	if s.failed.Load() {
		return
	}

	s.sinkErr = err
	s.failed.Store(true)
}
