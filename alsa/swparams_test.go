//go:build linux && (amd64 || arm64)

package alsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwParamsDefaults(t *testing.T) {
	const bufferSize = 1024

	tests := []struct {
		name    string
		config  Config
		capture bool
		start   sndPcmUframesT
		stop    sndPcmUframesT
		avail   sndPcmUframesT
	}{
		{
			name:   "playback",
			config: Config{PeriodSize: 256},
			start:  bufferSize / 2,
			stop:   bufferSize,
			avail:  256,
		},
		{
			name:    "capture",
			config:  Config{PeriodSize: 256},
			capture: true,
			start:   1,
			stop:    bufferSize,
			avail:   256,
		},
		{
			name:    "explicit",
			config:  Config{PeriodSize: 256, AvailMin: 64, StartThreshold: 128, StopThreshold: 4096},
			capture: true,
			start:   128,
			stop:    4096,
			avail:   64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := swParamsFor(tt.config, bufferSize, tt.capture)
			assert.Equal(t, tt.start, sw.StartThreshold)
			assert.Equal(t, tt.stop, sw.StopThreshold)
			assert.Equal(t, tt.avail, sw.AvailMin)
		})
	}
}
