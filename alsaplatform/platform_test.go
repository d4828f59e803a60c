//go:build linux && (amd64 || arm64)

package alsaplatform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/audiolat"
	"github.com/gen2brain/audiolat/alsa"
)

func TestPeriodsFor(t *testing.T) {
	assert.Equal(t, 4, periodsFor(0, 64, 4))
	assert.Equal(t, 2, periodsFor(0, 64, 0))
	assert.Equal(t, 2, periodsFor(64, 64, 4))
	assert.Equal(t, 3, periodsFor(130, 64, 4))
	assert.Equal(t, 16, periodsFor(1024, 64, 4))
}

func TestClampBuffer(t *testing.T) {
	assert.Equal(t, 64, clampBuffer(16, 64, 256))
	assert.Equal(t, 128, clampBuffer(128, 64, 256))
	assert.Equal(t, 256, clampBuffer(1000, 64, 256))
}

func TestBuilderReleased(t *testing.T) {
	p := New(nil)

	b, err := p.NewBuilder(audiolat.Output)
	require.NoError(t, err)
	require.NoError(t, b.Release())

	_, err = b.Open(audiolat.StreamConfig{Device: "hw:0,0", SampleRate: 48000}, nil)
	assert.ErrorIs(t, err, errReleased)

	_, err = p.NewBuilder(audiolat.Direction(7))
	assert.Error(t, err)
}

func TestLoopbackRun(t *testing.T) {
	card := alsa.FindCard("Loopback")
	if card < 0 {
		t.Skip("ALSA loopback device not found, run: sudo modprobe snd-aloop")
	}

	cfg := audiolat.DefaultConfig()
	cfg.SampleRate = 48000
	cfg.Timeout = time.Second
	cfg.RoundInterval = 300 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.Playout = audiolat.StreamSettings{Device: fmt.Sprintf("hw:%d,0", card), BufferSize: audiolat.BurstSize, Capacity: 1024, Burst: 256}
	cfg.Record = audiolat.StreamSettings{Device: fmt.Sprintf("hw:%d,1", card), BufferSize: audiolat.BurstSize, Capacity: 1024, Burst: 256}
	cfg.Output = filepath.Join(t.TempDir(), "capture.raw")

	begin := audiolat.NewSignal(repeat(1000, 480))
	end := audiolat.NewSignal(repeat(-1000, 480))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := audiolat.NewController(New(log), cfg, begin, end, audiolat.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, audiolat.StopTimeout, res.StopReason)
	assert.GreaterOrEqual(t, res.FramesCaptured, int64(48000))
	assert.GreaterOrEqual(t, res.RoundsArmed, int64(3))
	assert.Equal(t, 256, res.Record.FramesPerBurst)
	assert.Equal(t, audiolat.StateClosed, c.State())
}

func repeat(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}

	return out
}
