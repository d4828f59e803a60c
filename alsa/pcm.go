//go:build linux && (amd64 || arm64)

package alsa

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a PCM stream.
type Config struct {
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32
	PeriodCount uint32
	Format      PcmFormat
	// StartThreshold in frames; 0 means 1 for capture and half the buffer for playback.
	StartThreshold uint32
	// StopThreshold in frames; 0 means the buffer size, so an xrun is raised once the ring is full.
	StopThreshold uint32
	// AvailMin in frames; 0 means one period.
	AvailMin uint32
}

// PCM represents an open ALSA PCM device handle.
type PCM struct {
	file       *os.File
	config     Config
	flags      PcmFlag
	bufferSize uint32 // In frames
	card       uint
	device     uint
	subdevice  uint32
	xruns      atomic.Int64
}

// Status is a snapshot of the kernel's view of a running stream.
type Status struct {
	State PcmState
	// Avail is the number of frames that can be written (playback) or read (capture).
	Avail uint64
	// Delay is the distance in frames between the application pointer and the hardware.
	Delay   int64
	HwPtr   uint64
	ApplPtr uint64
	// Tstamp is the time of the last hardware pointer update.
	Tstamp time.Duration
}

// ParseName splits a PCM name of the form "hw:C,D" into card and device.
func ParseName(name string) (card, device uint, err error) {
	if !strings.HasPrefix(name, "hw:") {
		return 0, 0, fmt.Errorf("invalid PCM name format: missing 'hw:' prefix")
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid PCM name format: expected 'hw:card,device'")
	}

	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid card number '%s': %w", parts[0], err)
	}

	d, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid device number '%s': %w", parts[1], err)
	}

	return uint(c), uint(d), nil
}

// PcmOpenByName opens a PCM by its name, in the format "hw:C,D".
func PcmOpenByName(name string, flags PcmFlag, config *Config) (*PCM, error) {
	card, device, err := ParseName(name)
	if err != nil {
		return nil, err
	}

	return PcmOpen(card, device, flags, config)
}

func devicePath(card, device uint, flags PcmFlag) string {
	stream := 'p'
	if (flags & PCM_IN) != 0 {
		stream = 'c'
	}

	return fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, stream)
}

// PcmOpen opens a hardware PCM device (e.g. /dev/snd/pcmC0D0p) and applies config.
// Plugin devices are not supported.
func PcmOpen(card, device uint, flags PcmFlag, config *Config) (*PCM, error) {
	if config == nil {
		return nil, errors.New("nil PCM config")
	}

	path := devicePath(card, device, flags)

	// Always open non-blocking so a busy device fails fast,
	// then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^unix.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		flags:     flags,
		card:      card,
		device:    device,
		subdevice: info.Subdevice,
	}

	if err := pcm.SetConfig(config); err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to set PCM config: %w", err)
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close closes the PCM device handle.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	err := p.file.Close()
	p.bufferSize = 0
	p.file = nil

	return err
}

// Name returns the "hw:C,D" name of the device.
func (p *PCM) Name() string {
	return fmt.Sprintf("hw:%d,%d", p.card, p.device)
}

// Config returns a copy of the PCM's negotiated configuration.
func (p *PCM) Config() Config {
	return p.config
}

// BufferSize returns the PCM's total buffer size in frames.
func (p *PCM) BufferSize() uint32 {
	return p.bufferSize
}

// Flags returns the open flags of the PCM stream.
func (p *PCM) Flags() PcmFlag {
	return p.flags
}

// PeriodSize returns the number of frames per period.
func (p *PCM) PeriodSize() uint32 {
	return p.config.PeriodSize
}

// PeriodCount returns the number of periods in the buffer.
func (p *PCM) PeriodCount() uint32 {
	return p.config.PeriodCount
}

// Channels returns the number of channels for the PCM stream.
func (p *PCM) Channels() uint32 {
	return p.config.Channels
}

// Rate returns the sample rate of the PCM stream in Hz.
func (p *PCM) Rate() uint32 {
	return p.config.Rate
}

// Format returns the sample format of the PCM stream.
func (p *PCM) Format() PcmFormat {
	return p.config.Format
}

// Subdevice returns the subdevice number of the PCM stream.
func (p *PCM) Subdevice() uint32 {
	return p.subdevice
}

// Xruns returns the number of buffer underruns (for playback) or overruns (for capture)
// recovered since the device was opened. It is safe for concurrent use.
func (p *PCM) Xruns() int {
	return int(p.xruns.Load())
}

// FrameSize returns the size of a single frame in bytes.
func (p *PCM) FrameSize() uint32 {
	return p.config.Channels * (PcmFormatToBits(p.config.Format) / 8)
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	return time.Duration(uint64(p.config.PeriodSize) * uint64(time.Second) / uint64(p.config.Rate))
}

// SetConfig sets the hardware and software parameters for the PCM device.
// It must be called before the stream is started.
func (p *PCM) SetConfig(config *Config) error {
	p.config = *config

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetMin(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	// The driver narrows every interval to the value it settled on.
	p.config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = p.config.PeriodSize * p.config.PeriodCount

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	swParams := swParamsFor(p.config, p.bufferSize, (p.flags&PCM_IN) != 0)
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}

	p.config.AvailMin = uint32(swParams.AvailMin)
	p.config.StartThreshold = uint32(swParams.StartThreshold)
	p.config.StopThreshold = uint32(swParams.StopThreshold)

	return nil
}

// swParamsFor fills in the software parameters, applying defaults for zero fields.
func swParamsFor(c Config, bufferSize uint32, capture bool) *sndPcmSwParams {
	sw := &sndPcmSwParams{
		TstampMode: 1, // SNDRV_PCM_TSTAMP_ENABLE
		PeriodStep: 1,
		AvailMin:   sndPcmUframesT(c.AvailMin),
		XferAlign:  sndPcmUframesT(c.PeriodSize / 2), // Needed for old kernels
	}

	if sw.AvailMin == 0 {
		sw.AvailMin = sndPcmUframesT(c.PeriodSize)
	}

	switch {
	case c.StartThreshold != 0:
		sw.StartThreshold = sndPcmUframesT(c.StartThreshold)
	case capture:
		sw.StartThreshold = 1
	default:
		sw.StartThreshold = sndPcmUframesT(bufferSize / 2)
	}

	// A capture overrun must be raised as soon as the ring is full, before
	// unread frames are overwritten.
	sw.StopThreshold = sndPcmUframesT(bufferSize)
	if c.StopThreshold != 0 {
		sw.StopThreshold = sndPcmUframesT(c.StopThreshold)
	}

	return sw
}

// Prepare readies the PCM device for I/O operations.
// This is also used to recover from an XRUN.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// Start explicitly starts the PCM stream.
// It ensures the stream is prepared before starting.
func (p *PCM) Start() error {
	switch p.State() {
	case SNDRV_PCM_STATE_RUNNING:
		return nil
	case SNDRV_PCM_STATE_SETUP, SNDRV_PCM_STATE_XRUN:
		if err := p.Prepare(); err != nil {
			return err
		}
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_START, 0); err != nil {
		return fmt.Errorf("ioctl START failed: %w", err)
	}

	return nil
}

// Stop abruptly stops the PCM stream, dropping any pending frames.
func (p *PCM) Stop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Delay returns the current delay for the PCM stream in frames.
// For playback this is the number of frames queued ahead of the hardware.
func (p *PCM) Delay() (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	var delay int64
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DELAY, uintptr(unsafe.Pointer(&delay))); err != nil {
		return 0, fmt.Errorf("ioctl DELAY failed: %w", err)
	}

	return int(delay), nil
}

// Status queries the stream status.
func (p *PCM) Status() (Status, error) {
	if !p.IsReady() {
		return Status{}, fmt.Errorf("PCM handle is not valid")
	}

	var st sndPcmStatus
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_STATUS, uintptr(unsafe.Pointer(&st))); err != nil {
		return Status{}, fmt.Errorf("ioctl STATUS failed: %w", err)
	}

	return Status{
		State:   st.State,
		Avail:   st.Avail,
		Delay:   st.Delay,
		HwPtr:   st.HwPtr,
		ApplPtr: st.ApplPtr,
		Tstamp:  time.Duration(st.Tstamp.Nano()),
	}, nil
}

// State returns the current state of the PCM stream.
func (p *PCM) State() PcmState {
	st, err := p.Status()
	if err != nil {
		// The device is likely unusable or disconnected.
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	return st.State
}

// xrunRecover re-prepares the stream after an XRUN (EPIPE) or a suspend (ESTRPIPE).
// An EPIPE is counted as an xrun.
func (p *PCM) xrunRecover(err error) error {
	isEPIPE := errors.Is(err, unix.EPIPE)
	isESTRPIPE := errors.Is(err, unix.ESTRPIPE)

	if !isEPIPE && !isESTRPIPE {
		return err
	}

	if isEPIPE {
		p.xruns.Add(1)
	}

	if (p.flags & PCM_NORESTART) != 0 {
		return fmt.Errorf("xrun or bad state occurred with PCM_NORESTART: %w", err)
	}

	if prepErr := p.Prepare(); prepErr != nil {
		return fmt.Errorf("recovery failed: could not prepare stream: %w", prepErr)
	}

	return nil
}
