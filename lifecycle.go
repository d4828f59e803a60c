package audiolat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stop reasons reported in [Result.StopReason].
const (
	StopTimeout     = "timeout"
	StopInterrupted = "interrupted"
	StopRequested   = "stopped"
)

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSinkOpener replaces [OpenSink] as the capture artifact factory.
func WithSinkOpener(fn func(Config) (Sink, error)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.openSink = fn
		}
	}
}

// Controller runs one measurement: it opens the sink and both streams,
// starts them, waits for the run flag to clear and tears everything down in
// order. A Controller runs once.
type Controller struct {
	platform Platform
	cfg      Config
	begin    Signal
	end      Signal

	log      *slog.Logger
	openSink func(Config) (Sink, error)

	state   atomic.Int32
	session atomic.Pointer[Session]

	stop     chan struct{}
	stopOnce sync.Once
	ran      atomic.Bool
}

// NewController returns a controller for a run of cfg on p with the given
// BEGIN and END markers.
func NewController(p Platform, cfg Config, begin, end Signal, opts ...Option) *Controller {
	c := &Controller{
		platform: p,
		cfg:      cfg,
		begin:    begin,
		end:      end,
		log:      slog.Default(),
		openSink: OpenSink,
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() LifecycleState {
	return LifecycleState(c.state.Load())
}

// Stop requests a premature end of the run. It is safe to call more than
// once and from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Trigger forwards an external round trigger at monotonic time ts to the
// running session. It returns false when no session is running or the
// trigger was debounced.
func (c *Controller) Trigger(ts int64) bool {
	s := c.session.Load()
	if s == nil || !s.Running() {
		return false
	}

	return s.Trigger(ts)
}

// Stats returns a snapshot of the current session, or zero Stats before
// the session exists.
func (c *Controller) Stats() Stats {
	if s := c.session.Load(); s != nil {
		return s.Stats()
	}

	return Stats{}
}

func (c *Controller) setState(s LifecycleState) {
	c.state.Store(int32(s))
	c.log.Debug("lifecycle", "state", s.String())
}

// runResources tracks what setup acquired so teardown releases exactly that.
type runResources struct {
	sink     Sink
	session  *Session
	builders [2]StreamBuilder
	streams  [2]Stream
	started  [2]bool
}

// Run performs the measurement. The returned Result is always non-nil
// except for ErrAlreadyRun. A nil error means the run completed, by timeout
// or by request; a setup failure is an *Error and leaves the controller in
// StateFailed.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	res := &Result{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now(),
		SampleRate: c.cfg.SampleRate,
		Output:     c.cfg.Output,
	}

	log := c.log.With("run_id", res.RunID)
	rs := &runResources{}

	err := c.setup(rs, log)
	if err == nil {
		c.setState(StateRunning)
		res.StopReason = c.wait(ctx, rs.session, log)
		c.setState(StateStopping)
	}

	c.stopStreams(rs, log)

	if rs.streams[Input] != nil {
		res.Record = rs.streams[Input].Info()
	}
	if rs.streams[Output] != nil {
		res.Playout = rs.streams[Output].Info()
	}

	if err == nil {
		c.logSettings(log, "end", rs)
	}

	if rerr := c.release(rs, log); err == nil {
		err = rerr
	}

	if s := rs.session; s != nil {
		st := s.Stats()
		res.FramesCaptured = st.FramesCaptured
		res.RoundsArmed = st.RoundsArmed
		res.RoundsTruncated = st.RoundsTruncated
		res.RoundsDropped = st.RoundsDropped
		res.RecordXRuns = st.RecordXRuns
		res.PlayoutXRuns = st.PlayoutXRuns
		res.Rounds = s.Rounds()

		if st.RoundsTruncated > 0 {
			log.Warn("rounds overwritten while draining", "truncated", st.RoundsTruncated)
		}

		if st.RoundsDropped > 0 {
			log.Warn("round log full, offsets missing from report",
				"armed", st.RoundsArmed,
				"recorded", len(res.Rounds),
				"dropped", st.RoundsDropped,
			)
		}
	}

	if err != nil && c.State() != StateStopping {
		c.setState(StateFailed)
	} else {
		c.setState(StateClosed)
	}

	res.Duration = time.Since(res.StartedAt)
	res.State = c.State().String()
	res.Status = ExitCode(err)
	if err != nil {
		res.Error = err.Error()
		log.Error("run failed", "error", err, "status", res.Status)
	} else {
		log.Info("run complete",
			"reason", res.StopReason,
			"frames", res.FramesCaptured,
			"rounds", res.RoundsArmed,
			"rxruns", res.RecordXRuns,
			"pxruns", res.PlayoutXRuns,
		)
	}

	return res, err
}

func (c *Controller) setup(rs *runResources, log *slog.Logger) error {
	sink, err := c.openSink(c.cfg)
	if err != nil {
		return &Error{Kind: IoFailure, Op: "open sink", Err: err}
	}
	rs.sink = sink

	if c.begin.Len() == 0 {
		return &Error{Kind: BufferUnavailable, Op: "begin signal", Err: ErrEmptySignal}
	}
	if c.end.Len() == 0 {
		return &Error{Kind: BufferUnavailable, Op: "end signal", Err: ErrEmptySignal}
	}

	s, err := NewSession(c.cfg.SessionConfig(), c.begin, c.end, sink)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	rs.session = s

	for _, dir := range []Direction{Output, Input} {
		b, err := c.platform.NewBuilder(dir)
		if err != nil {
			return &Error{Kind: StreamCreateFailure, Op: "create " + dir.String() + " builder", Err: err}
		}
		rs.builders[dir] = b
	}

	for _, dir := range []Direction{Output, Input} {
		st, err := rs.builders[dir].Open(c.cfg.StreamConfig(dir), s)
		if err != nil {
			return &Error{Kind: StreamOpenFailure, Op: "open " + dir.String() + " stream", Err: err}
		}
		rs.streams[dir] = st
		s.Attach(dir, st)
	}

	c.setState(StateStreamsOpened)

	c.applyBufferSize(log, Output, rs.streams[Output], c.cfg.Playout.BufferSize)
	c.applyBufferSize(log, Input, rs.streams[Input], c.cfg.Record.BufferSize)
	c.logSettings(log, "start", rs)

	c.session.Store(s)
	s.Begin()

	// Capture first so no END frame plays before recording is live.
	for _, dir := range []Direction{Input, Output} {
		if err := rs.streams[dir].Start(); err != nil {
			s.Halt()

			return &Error{Kind: StreamStartFailure, Op: "start " + dir.String() + " stream", Err: err}
		}
		rs.started[dir] = true
	}

	c.setState(StateStarted)

	return nil
}

func (c *Controller) applyBufferSize(log *slog.Logger, dir Direction, st Stream, frames int) {
	switch {
	case frames == BurstSize:
		frames = st.FramesPerBurst()
	case frames <= 0:
		return
	}

	got, err := st.SetBufferSize(frames)
	if err != nil {
		log.Warn("set buffer size", "stream", dir.String(), "frames", frames, "error", err)

		return
	}

	if got != frames {
		log.Debug("buffer size adjusted", "stream", dir.String(), "requested", frames, "actual", got)
	}
}

func (c *Controller) wait(ctx context.Context, s *Session, log *slog.Logger) string {
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	var rx, px, rrej, prej int64
	for s.Running() {
		select {
		case <-ctx.Done():
			s.Halt()

			return StopInterrupted
		case <-c.stop:
			s.Halt()

			return StopRequested
		case <-tick.C:
			st := s.Stats()
			if st.RecordXRuns != rx || st.PlayoutXRuns != px {
				log.Warn("xruns",
					"rxruns", st.RecordXRuns,
					"pxruns", st.PlayoutXRuns,
					"record_buffer", st.RecordBuffer,
					"playout_buffer", st.PlayoutBuffer,
				)
				rx, px = st.RecordXRuns, st.PlayoutXRuns
			}

			if st.RecordGrowRejects != rrej {
				log.Warn("buffer growth rejected", "stream", Input.String(),
					"rejected", st.RecordGrowRejects, "error", s.GrowErr(Input))
				rrej = st.RecordGrowRejects
			}
			if st.PlayoutGrowRejects != prej {
				log.Warn("buffer growth rejected", "stream", Output.String(),
					"rejected", st.PlayoutGrowRejects, "error", s.GrowErr(Output))
				prej = st.PlayoutGrowRejects
			}

			log.Debug("progress", "elapsed", st.Elapsed, "rounds", st.RoundsArmed)
		}
	}

	return StopTimeout
}

// stopStreams stops the started streams, capture first. No callback runs
// once it returns.
func (c *Controller) stopStreams(rs *runResources, log *slog.Logger) {
	for _, dir := range []Direction{Input, Output} {
		if !rs.started[dir] {
			continue
		}
		if err := rs.streams[dir].Stop(); err != nil {
			log.Warn("stop stream", "stream", dir.String(), "error", err)
		}
	}
}

// release closes the sink, closes the streams and releases the builders, in
// that order, skipping what was never acquired. Only sink failures are
// returned; platform errors are logged.
func (c *Controller) release(rs *runResources, log *slog.Logger) error {
	var errs []error
	if rs.session != nil {
		if err := rs.session.Err(); err != nil {
			errs = append(errs, &Error{Kind: IoFailure, Op: "write capture", Err: err})
		}
	}

	if rs.sink != nil {
		if err := rs.sink.Close(); err != nil {
			errs = append(errs, &Error{Kind: IoFailure, Op: "close sink", Err: err})
		}
	}

	for _, dir := range []Direction{Output, Input} {
		if rs.streams[dir] == nil {
			continue
		}
		if err := rs.streams[dir].Close(); err != nil {
			log.Warn("close stream", "stream", dir.String(), "error", err)
		}
	}

	for _, dir := range []Direction{Output, Input} {
		if rs.builders[dir] == nil {
			continue
		}
		if err := rs.builders[dir].Release(); err != nil {
			log.Warn("release builder", "stream", dir.String(), "error", err)
		}
	}

	return errors.Join(errs...)
}

func (c *Controller) logSettings(log *slog.Logger, stage string, rs *runResources) {
	for _, dir := range []Direction{Output, Input} {
		st := rs.streams[dir]
		if st == nil {
			continue
		}

		info := st.Info()
		burst := st.FramesPerBurst()
		size := st.BufferSize()

		log.Info("stream settings",
			"stage", stage,
			"stream", dir.String(),
			"device", info.Device,
			"sample_rate", info.SampleRate,
			"burst_frames", burst,
			"burst_ms", framesMillis(burst, info.SampleRate),
			"buffer_frames", size,
			"buffer_ms", framesMillis(size, info.SampleRate),
			"capacity", info.BufferCapacity,
			"sharing", info.Sharing.String(),
			"performance", info.Performance.String(),
			"usage", info.Usage,
			"input_preset", info.InputPreset,
			"xruns", info.XRuns,
		)
	}
}

func framesMillis(frames, rate int) float64 {
	if rate <= 0 {
		return 0
	}

	return float64(frames) * 1000 / float64(rate)
}
