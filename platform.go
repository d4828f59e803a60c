package audiolat

import (
	"fmt"
	"strings"
)

// Direction is the direction of an audio stream.
type Direction int

const (
	// Output is the playback direction (speaker, line-out).
	Output Direction = iota
	// Input is the capture direction (microphone, line-in).
	Input
)

// String returns "output" or "input".
func (d Direction) String() string {
	switch d {
	case Output:
		return "output"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// StreamState is the platform-reported state of a stream.
type StreamState int32

const (
	StreamUninitialized StreamState = iota
	StreamOpen
	StreamStarting
	StreamStarted
	StreamStopping
	StreamStopped
	StreamClosed
	StreamDisconnected
)

var streamStateNames = [...]string{
	StreamUninitialized: "uninitialized",
	StreamOpen:          "open",
	StreamStarting:      "starting",
	StreamStarted:       "started",
	StreamStopping:      "stopping",
	StreamStopped:       "stopped",
	StreamClosed:        "closed",
	StreamDisconnected:  "disconnected",
}

func (s StreamState) String() string {
	if s < 0 || int(s) >= len(streamStateNames) {
		return "unknown"
	}

	return streamStateNames[s]
}

// SharingMode requests exclusive or shared access to a device.
type SharingMode int

const (
	SharingShared SharingMode = iota
	SharingExclusive
)

func (m SharingMode) String() string {
	if m == SharingExclusive {
		return "exclusive"
	}

	return "shared"
}

// MarshalText implements encoding.TextMarshaler.
func (m SharingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SharingMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "shared", "":
		*m = SharingShared
	case "exclusive":
		*m = SharingExclusive
	default:
		return fmt.Errorf("unknown sharing mode %q", text)
	}

	return nil
}

// PerformanceMode is a latency/power hint for the platform.
type PerformanceMode int

const (
	PerformanceNone PerformanceMode = iota
	PerformancePowerSaving
	PerformanceLowLatency
)

func (m PerformanceMode) String() string {
	switch m {
	case PerformancePowerSaving:
		return "power-saving"
	case PerformanceLowLatency:
		return "low-latency"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m PerformanceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PerformanceMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "none", "":
		*m = PerformanceNone
	case "power-saving":
		*m = PerformancePowerSaving
	case "low-latency":
		*m = PerformanceLowLatency
	default:
		return fmt.Errorf("unknown performance mode %q", text)
	}

	return nil
}

// StreamConfig is the request passed to a [StreamBuilder].
// Channel count is always 1 and the sample format is always signed 16-bit.
type StreamConfig struct {
	Direction   Direction
	Device      string
	SampleRate  int
	Sharing     SharingMode
	Performance PerformanceMode
	// BufferCapacity is the requested capacity in frames, 0 for the platform default.
	BufferCapacity int
	// FramesPerBurst is a burst size hint in frames, 0 lets the platform choose.
	FramesPerBurst int
	Usage          int
	InputPreset    int
}

// StreamInfo describes an opened stream as negotiated by the platform.
type StreamInfo struct {
	Direction      Direction       `yaml:"-"`
	Device         string          `yaml:"device"`
	SampleRate     int             `yaml:"sample_rate"`
	FramesPerBurst int             `yaml:"frames_per_burst"`
	BufferSize     int             `yaml:"buffer_size"`
	BufferCapacity int             `yaml:"buffer_capacity"`
	Sharing        SharingMode     `yaml:"sharing"`
	Performance    PerformanceMode `yaml:"performance"`
	Usage          int             `yaml:"usage"`
	InputPreset    int             `yaml:"input_preset"`
	XRuns          int             `yaml:"xruns"`
}

// Handler is the callback surface the platform drives.
//
// FillPlayback must fill all of dst. ConsumeCapture receives freshly
// captured frames. Both run on platform realtime goroutines and must not
// block; they may run concurrently with each other.
type Handler interface {
	FillPlayback(dst []int16)
	ConsumeCapture(src []int16)
}

// Stream is an opened platform stream.
//
// FramesPerBurst, BufferSize, SetBufferSize, XRunCount and State must be safe
// to call from any stream's callback. After Stop returns no further callback
// is delivered for the stream.
type Stream interface {
	Info() StreamInfo
	State() StreamState
	FramesPerBurst() int
	BufferSize() int
	// SetBufferSize requests a new buffer size and returns the size in effect.
	SetBufferSize(frames int) (int, error)
	// XRunCount returns the cumulative number of xruns since the stream started.
	XRunCount() int
	Start() error
	Stop() error
	Close() error
}

// StreamBuilder opens one stream of a fixed direction.
type StreamBuilder interface {
	Open(cfg StreamConfig, h Handler) (Stream, error)
	Release() error
}

// Platform creates stream builders.
type Platform interface {
	NewBuilder(dir Direction) (StreamBuilder, error)
}
