package audiolat

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Result summarizes a run. It is also the on-disk run report.
type Result struct {
	RunID      string    `yaml:"run_id"`
	Status     int       `yaml:"status"`
	State      string    `yaml:"state"`
	StopReason string    `yaml:"stop_reason,omitempty"`
	Error      string    `yaml:"error,omitempty"`
	StartedAt  time.Time `yaml:"started_at"`
	// Duration is wall-clock time from start to teardown.
	Duration time.Duration `yaml:"duration"`

	SampleRate int    `yaml:"sample_rate"`
	Output     string `yaml:"output"`

	FramesCaptured  int64 `yaml:"frames_captured"`
	RoundsArmed     int64 `yaml:"rounds_armed"`
	RoundsTruncated int64 `yaml:"rounds_truncated"`
	// RoundsDropped counts armed rounds missing from Rounds.
	RoundsDropped int64 `yaml:"rounds_dropped,omitempty"`
	// Rounds holds the sink frame offset of every recorded BEGIN marker.
	Rounds []int64 `yaml:"rounds"`

	RecordXRuns  int64 `yaml:"record_xruns"`
	PlayoutXRuns int64 `yaml:"playout_xruns"`

	Record  StreamInfo `yaml:"record"`
	Playout StreamInfo `yaml:"playout"`
}

// RoundTimes returns the round offsets as capture-relative times.
func (r *Result) RoundTimes() []time.Duration {
	out := make([]time.Duration, len(r.Rounds))
	for i, f := range r.Rounds {
		out[i] = framesDuration(f, r.SampleRate)
	}

	return out
}

// WriteReport encodes r as YAML.
func WriteReport(w io.Writer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return enc.Close()
}

// SaveReport writes r to path.
func SaveReport(path string, r *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := WriteReport(f, r); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

// ReadReport decodes a YAML run report.
func ReadReport(rd io.Reader) (*Result, error) {
	var r Result
	if err := yaml.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	return &r, nil
}

// LoadReport reads the run report at path.
func LoadReport(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadReport(f)
}
