package audiolat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UsageGame is the default stream usage hint (AAudio/Android USAGE_GAME).
const UsageGame = 14

// Config is the host-supplied configuration of a run.
type Config struct {
	SampleRate int `yaml:"sample_rate"`
	// Timeout is the amount of captured audio after which the run ends.
	Timeout time.Duration `yaml:"timeout"`
	// RoundInterval is the time between rounds; zero or negative disables the timer.
	RoundInterval time.Duration `yaml:"round_interval"`
	// Output is the path of the raw capture artifact.
	Output string `yaml:"output"`

	Playout StreamSettings `yaml:"playout"`
	Record  StreamSettings `yaml:"record"`

	Sharing     SharingMode     `yaml:"sharing"`
	Performance PerformanceMode `yaml:"performance"`
	Usage       int             `yaml:"usage"`
	InputPreset int             `yaml:"input_preset"`

	Sink    SinkConfig    `yaml:"sink"`
	Trigger TriggerConfig `yaml:"trigger"`

	// PollInterval is the period of the controller's wait loop.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StreamSettings configures one direction.
type StreamSettings struct {
	// Device selects the platform device, e.g. "hw:0,0" for ALSA.
	Device string `yaml:"device"`
	// BufferSize in frames; BurstSize (-1) means one hardware burst, 0 keeps the platform default.
	BufferSize int `yaml:"buffer_size"`
	// Capacity in frames, 0 for the platform default.
	Capacity int `yaml:"capacity"`
	// Burst is a frames-per-burst hint, 0 lets the platform choose.
	Burst int `yaml:"burst"`
}

// SinkConfig configures the capture artifact writer.
type SinkConfig struct {
	Mode        SinkMode `yaml:"mode"`
	BufferBytes int      `yaml:"buffer_bytes"`
	RingBytes   int      `yaml:"ring_bytes"`
}

// TriggerConfig configures the external trigger channel.
type TriggerConfig struct {
	// MIDIDevice is a raw MIDI device path. Setting it disables periodic rounds.
	MIDIDevice string `yaml:"midi_device"`
	// USB selects USB-MIDI event packets instead of a plain MIDI byte stream.
	USB      bool          `yaml:"usb"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the defaults of the original measurement app:
// 16 kHz, a 15 s run, a round every 2 s, 16-frame buffers and 64-frame
// capacities on low-latency shared streams.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Timeout:       15 * time.Second,
		RoundInterval: 2 * time.Second,
		Playout:       StreamSettings{Device: "hw:0,0", BufferSize: 16, Capacity: 64},
		Record:        StreamSettings{Device: "hw:0,0", BufferSize: 16, Capacity: 64},
		Sharing:       SharingShared,
		Performance:   PerformanceLowLatency,
		Usage:         UsageGame,
		Sink:          SinkConfig{Mode: SinkFile, BufferBytes: 64 * 1024, RingBytes: 1 << 20},
		Trigger:       TriggerConfig{Debounce: time.Second},
		PollInterval:  time.Second,
	}
}

// Load reads the YAML file at path over DefaultConfig and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	return cfg, nil
}

// LoadFromReader decodes YAML from r over DefaultConfig and validates it.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg and returns all problems joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate))
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout))
	}

	streams := []struct {
		name string
		s    StreamSettings
	}{{"playout", cfg.Playout}, {"record", cfg.Record}}

	for _, st := range streams {
		name, s := st.name, st.s
		if s.BufferSize < BurstSize {
			errs = append(errs, fmt.Errorf("%s.buffer_size must be >= -1, got %d", name, s.BufferSize))
		}

		if s.Capacity < 0 {
			errs = append(errs, fmt.Errorf("%s.capacity must not be negative, got %d", name, s.Capacity))
		}

		if s.Burst < 0 {
			errs = append(errs, fmt.Errorf("%s.burst must not be negative, got %d", name, s.Burst))
		}
	}

	switch cfg.Sink.Mode {
	case SinkFile, SinkAsync:
	default:
		errs = append(errs, fmt.Errorf("sink.mode %q is invalid; valid values: file, async", cfg.Sink.Mode))
	}

	if cfg.Trigger.Debounce < 0 {
		errs = append(errs, fmt.Errorf("trigger.debounce must not be negative, got %s", cfg.Trigger.Debounce))
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval))
	}

	return errors.Join(errs...)
}

// DefaultOutput derives the artifact name from the END signal file name,
// e.g. "chirp2_16k_300ms.wav" becomes "audiolat_chirp2_16k_300ms.raw".
func DefaultOutput(endSignal string) string {
	base := strings.TrimSuffix(filepath.Base(endSignal), filepath.Ext(endSignal))
	if base == "" || base == "." {
		base = "capture"
	}

	return "audiolat_" + base + ".raw"
}

// SessionConfig returns the timing part of cfg.
func (c *Config) SessionConfig() SessionConfig {
	interval := c.RoundInterval
	if c.Trigger.MIDIDevice != "" {
		interval = 0
	}

	return SessionConfig{
		SampleRate:    c.SampleRate,
		Timeout:       c.Timeout,
		RoundInterval: interval,
		Debounce:      c.Trigger.Debounce,
	}
}

// StreamConfig returns the platform request for dir.
func (c *Config) StreamConfig(dir Direction) StreamConfig {
	s := c.Playout
	if dir == Input {
		s = c.Record
	}

	sc := StreamConfig{
		Direction:      dir,
		Device:         s.Device,
		SampleRate:     c.SampleRate,
		Sharing:        c.Sharing,
		Performance:    c.Performance,
		BufferCapacity: s.Capacity,
		FramesPerBurst: s.Burst,
	}

	if dir == Output {
		sc.Usage = c.Usage
	} else {
		sc.InputPreset = c.InputPreset
	}

	return sc
}
