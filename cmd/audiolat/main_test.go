package main

import (
	"context"
	"encoding/binary"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/audiolat"
)

func TestNewLogger(t *testing.T) {
	log, closeFn, err := newLogger("debug", "json", "")
	require.NoError(t, err)
	closeFn()
	assert.True(t, log.Enabled(context.Background(), -4))

	file := filepath.Join(t.TempDir(), "audiolat.log")
	log, closeFn, err = newLogger("warn", "text", file)
	require.NoError(t, err)
	log.Warn("xrun", "stream", "record")
	closeFn()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stream=record")

	_, _, err = newLogger("loud", "text", "")
	assert.Error(t, err)

	_, _, err = newLogger("info", "xml", "")
	assert.Error(t, err)
}

func writeRaw(t *testing.T, samples ...int16) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "marker.raw")
	buf := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	return path
}

func TestLoadSignals(t *testing.T) {
	_, _, err := loadSignals(&options{}, 16000)
	assert.Equal(t, 3, audiolat.ExitCode(err))

	_, _, err = loadSignals(&options{signalPath: "missing.wav"}, 16000)
	assert.Equal(t, audiolat.BufferUnavailable, audiolat.KindOf(err))

	end := writeRaw(t, 1, 2, 3)
	begin, got, err := loadSignals(&options{signalPath: end}, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3}, got.Samples())
	assert.Equal(t, got.Samples(), begin.Samples())

	b := writeRaw(t, 9)
	begin, _, err = loadSignals(&options{signalPath: end, beginPath: b}, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{9}, begin.Samples())
}

func TestNewPlatform(t *testing.T) {
	cfg := audiolat.DefaultConfig()

	p, err := newPlatform("sim", &cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = newPlatform("oss", &cfg, nil)
	assert.Error(t, err)
}

type fixedStats audiolat.Stats

func (f fixedStats) Stats() audiolat.Stats { return audiolat.Stats(f) }

func TestMetricsHandler(t *testing.T) {
	handler, shutdown, err := newMetrics(fixedStats{Running: true, FramesCaptured: 4800, RoundsArmed: 2})
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "audiolat_capture_frames")
	assert.Contains(t, string(body), "audiolat_rounds")
}
