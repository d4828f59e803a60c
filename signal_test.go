package audiolat

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, rate, depth, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "marker.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, depth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	return path
}

func TestSignal(t *testing.T) {
	src := []int16{1, 2, 3}
	s := NewSignal(src)
	src[0] = 9

	assert.Equal(t, []int16{1, 2, 3}, s.Samples(), "NewSignal copies")
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 30*time.Millisecond, s.Duration(100))
	assert.Zero(t, Signal{}.Len())
}

func TestLoadSignalWAV(t *testing.T) {
	path := writeWAV(t, 16000, 16, 2, []int{100, 300, -100, -300, 1000, 1000})

	s, err := LoadSignal(path, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{200, -200, 1000}, s.Samples(), "stereo is downmixed")

	_, err = LoadSignal(path, 48000)
	assert.ErrorContains(t, err, "sample rate")
}

func TestLoadSignalWAV24(t *testing.T) {
	path := writeWAV(t, 8000, 24, 1, []int{256 * 1000, -256 * 1000})

	s, err := LoadSignal(path, 8000)
	require.NoError(t, err)
	assert.Equal(t, []int16{1000, -1000}, s.Samples())
}

func TestLoadSignalRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marker.raw")
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x00, 0xFF, 0xFF}, 0o644))

	s, err := LoadSignal(path, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -1}, s.Samples())

	_, err = DecodeRaw(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestLoadSignalErrors(t *testing.T) {
	_, err := LoadSignal(filepath.Join(t.TempDir(), "none.wav"), 16000)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "marker.flac")
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))
	_, err = LoadSignal(path, 16000)
	assert.ErrorContains(t, err, "unsupported")

	_, err = DecodeWAV(bytes.NewReader([]byte("not a wav file")), 16000)
	assert.Error(t, err)
}
