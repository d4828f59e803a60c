//go:build linux && (amd64 || arm64)

// Package alsaplatform drives an audiolat session from ALSA hardware PCMs.
//
// Each stream runs one goroutine locked to its OS thread that moves one
// period (burst) per iteration between the PCM and the session callbacks.
// Playback is paced so that no more than the current buffer size is queued
// ahead of the hardware, which is how the buffer size knob trades latency
// for underrun safety.
package alsaplatform

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/audiolat"
	"github.com/gen2brain/audiolat/alsa"
)

// DefaultPeriodCount is the number of periods in the hardware buffer when
// the request does not set a capacity.
const DefaultPeriodCount = 4

// minBurst bounds the period size picked from the device capabilities.
const minBurst = 16

var errReleased = errors.New("stream builder released")

// Platform opens ALSA hardware PCMs. Devices are named "hw:C,D".
type Platform struct {
	// PeriodCount is used when a stream does not request a capacity.
	PeriodCount int
	Logger      *slog.Logger
}

// New returns a Platform logging to log, or slog.Default() when nil.
func New(log *slog.Logger) *Platform {
	if log == nil {
		log = slog.Default()
	}

	return &Platform{PeriodCount: DefaultPeriodCount, Logger: log}
}

// NewBuilder implements audiolat.Platform.
func (p *Platform) NewBuilder(dir audiolat.Direction) (audiolat.StreamBuilder, error) {
	if dir != audiolat.Output && dir != audiolat.Input {
		return nil, fmt.Errorf("invalid direction %d", dir)
	}

	return &builder{platform: p, dir: dir}, nil
}

type builder struct {
	platform *Platform
	dir      audiolat.Direction
	released atomic.Bool
}

func (b *builder) Open(cfg audiolat.StreamConfig, h audiolat.Handler) (audiolat.Stream, error) {
	if b.released.Load() {
		return nil, errReleased
	}

	card, device, err := alsa.ParseName(cfg.Device)
	if err != nil {
		return nil, err
	}

	flags := alsa.PCM_OUT
	if b.dir == audiolat.Input {
		flags = alsa.PCM_IN
	}

	pcmConfig := alsa.Config{
		Channels: 1,
		Rate:     uint32(cfg.SampleRate),
		Format:   alsa.SNDRV_PCM_FORMAT_S16_LE,
	}

	burst := cfg.FramesPerBurst
	if burst <= 0 {
		burst = b.minPeriod(card, device, flags, &pcmConfig)
	}

	pcmConfig.PeriodSize = uint32(burst)
	pcmConfig.PeriodCount = uint32(periodsFor(cfg.BufferCapacity, burst, b.platform.PeriodCount))

	pcm, err := alsa.PcmOpen(card, device, flags, &pcmConfig)
	if err != nil {
		return nil, err
	}

	s := &stream{
		dir:      b.dir,
		cfg:      cfg,
		pcm:      pcm,
		h:        h,
		log:      b.platform.Logger.With("stream", b.dir.String(), "device", pcm.Name()),
		burst:    int(pcm.PeriodSize()),
		capacity: int(pcm.BufferSize()),
		rate:     int(pcm.Rate()),
	}

	s.buf = make([]int16, s.burst)
	s.target.Store(int64(s.capacity))
	s.state.Store(int32(audiolat.StreamOpen))

	return s, nil
}

// minPeriod returns the smallest period the device supports for the stream shape.
func (b *builder) minPeriod(card, device uint, flags alsa.PcmFlag, cfg *alsa.Config) int {
	params, err := alsa.PcmParamsGetRefined(card, device, flags, cfg)
	if err != nil {
		b.platform.Logger.Debug("refine params", "error", err)

		return 4 * minBurst
	}

	period, err := params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	if err != nil || period == 0 {
		return 4 * minBurst
	}

	return max(int(period), minBurst)
}

func (b *builder) Release() error {
	b.released.Store(true)

	return nil
}

// periodsFor returns the number of periods holding capacity frames, at least two.
func periodsFor(capacity, burst, def int) int {
	if capacity <= 0 || burst <= 0 {
		return max(def, 2)
	}

	return max((capacity+burst-1)/burst, 2)
}

// clampBuffer limits a requested buffer size to [burst, capacity].
func clampBuffer(frames, burst, capacity int) int {
	return min(max(frames, burst), capacity)
}

type stream struct {
	dir audiolat.Direction
	cfg audiolat.StreamConfig
	pcm *alsa.PCM
	h   audiolat.Handler
	log *slog.Logger

	burst    int
	capacity int
	rate     int
	buf      []int16

	target atomic.Int64
	state  atomic.Int32
	quit   atomic.Bool

	mu sync.Mutex
	g  *errgroup.Group
}

func (s *stream) Info() audiolat.StreamInfo {
	return audiolat.StreamInfo{
		Direction:      s.dir,
		Device:         s.pcm.Name(),
		SampleRate:     s.rate,
		FramesPerBurst: s.burst,
		BufferSize:     s.BufferSize(),
		BufferCapacity: s.capacity,
		// Hardware PCMs are never shared.
		Sharing:     audiolat.SharingExclusive,
		Performance: s.cfg.Performance,
		Usage:       s.cfg.Usage,
		InputPreset: s.cfg.InputPreset,
		XRuns:       s.XRunCount(),
	}
}

func (s *stream) State() audiolat.StreamState {
	return audiolat.StreamState(s.state.Load())
}

func (s *stream) FramesPerBurst() int {
	return s.burst
}

func (s *stream) BufferSize() int {
	return int(s.target.Load())
}

// SetBufferSize moves the playback pacing target. The hardware buffer itself
// is fixed at open time, so the request is clamped to the capacity.
func (s *stream) SetBufferSize(frames int) (int, error) {
	n := clampBuffer(frames, s.burst, s.capacity)
	s.target.Store(int64(n))

	return n, nil
}

func (s *stream) XRunCount() int {
	return s.pcm.Xruns()
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.g != nil {
		return errors.New("stream already started")
	}

	s.state.Store(int32(audiolat.StreamStarting))

	if s.dir == audiolat.Output {
		// Queue the target amount of silence so playback starts with a full buffer.
		if _, err := s.pcm.WriteI16(make([]int16, s.BufferSize())); err != nil {
			s.state.Store(int32(audiolat.StreamOpen))

			return fmt.Errorf("prefill: %w", err)
		}
	}

	if err := s.pcm.Start(); err != nil {
		s.state.Store(int32(audiolat.StreamOpen))

		return err
	}

	s.quit.Store(false)
	s.g = new(errgroup.Group)
	s.state.Store(int32(audiolat.StreamStarted))

	if s.dir == audiolat.Output {
		s.g.Go(s.playback)
	} else {
		s.g.Go(s.capture)
	}

	return nil
}

func (s *stream) playback() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tick := s.pcm.PeriodTime() / 4
	for !s.quit.Load() {
		// Keep at most the target buffer size queued ahead of the hardware.
		for !s.quit.Load() {
			delay, err := s.pcm.Delay()
			if err != nil || int64(delay+s.burst) <= s.target.Load() {
				break
			}

			time.Sleep(tick)
		}

		s.h.FillPlayback(s.buf)
		if _, err := s.pcm.WriteI16(s.buf); err != nil {
			return s.fail(err)
		}
	}

	return nil
}

func (s *stream) capture() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for !s.quit.Load() {
		n, err := s.pcm.ReadI16(s.buf)
		if n > 0 && !s.quit.Load() {
			s.h.ConsumeCapture(s.buf[:n])
		}

		if err != nil {
			return s.fail(err)
		}
	}

	return nil
}

// fail ends the stream loop. Errors caused by Stop are not failures.
func (s *stream) fail(err error) error {
	if s.quit.Load() {
		return nil
	}

	s.state.Store(int32(audiolat.StreamDisconnected))
	s.log.Error("stream loop stopped", "error", err)

	return err
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.g == nil {
		return nil
	}

	s.quit.Store(true)
	if s.State() == audiolat.StreamStarted {
		s.state.Store(int32(audiolat.StreamStopping))
	}

	dropErr := s.pcm.Stop()
	loopErr := s.g.Wait()
	s.g = nil

	if s.State() != audiolat.StreamDisconnected {
		s.state.Store(int32(audiolat.StreamStopped))
	}

	return errors.Join(dropErr, loopErr)
}

func (s *stream) Close() error {
	if err := s.Stop(); err != nil {
		s.log.Warn("stop on close", "error", err)
	}

	s.state.Store(int32(audiolat.StreamClosed))

	return s.pcm.Close()
}
