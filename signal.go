package audiolat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Signal is an immutable mono S16 reference signal (a BEGIN or END marker).
type Signal struct {
	samples []int16
}

// NewSignal returns a Signal holding a copy of samples.
func NewSignal(samples []int16) Signal {
	return Signal{samples: slices.Clone(samples)}
}

// Len returns the number of frames in the signal.
func (s Signal) Len() int {
	return len(s.samples)
}

// Samples returns the frames of the signal. The slice must not be modified.
func (s Signal) Samples() []int16 {
	return slices.Clip(s.samples)
}

// Duration returns the playing time of the signal at rate.
func (s Signal) Duration(rate int) time.Duration {
	return framesDuration(int64(len(s.samples)), rate)
}

// LoadSignal reads a reference signal from a .wav, .mp3 or raw (.raw, .pcm,
// .s16) file. Multichannel sources are downmixed to mono. For WAV and MP3 the
// file's sample rate must equal rate; raw files are taken as-is.
func LoadSignal(path string, rate int) (Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("open signal: %w", err)
	}
	defer f.Close()

	var sig Signal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		sig, err = DecodeWAV(f, rate)
	case ".mp3":
		sig, err = DecodeMP3(f, rate)
	case ".raw", ".pcm", ".s16":
		sig, err = DecodeRaw(f)
	default:
		return Signal{}, fmt.Errorf("unsupported signal file %q", filepath.Base(path))
	}

	if err != nil {
		return Signal{}, fmt.Errorf("decode signal %s: %w", filepath.Base(path), err)
	}

	return sig, nil
}

// DecodeWAV decodes an integer PCM WAV stream.
func DecodeWAV(r io.ReadSeeker, rate int) (Signal, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Signal{}, errors.New("invalid WAV file")
	}

	return decodeSignal(&wavSource{Decoder: d}, rate)
}

// DecodeMP3 decodes an MP3 stream.
func DecodeMP3(r io.Reader, rate int) (Signal, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return Signal{}, err
	}

	return decodeSignal(&mp3Source{decoder: d}, rate)
}

// DecodeRaw decodes headerless little-endian mono S16 samples.
func DecodeRaw(r io.Reader) (Signal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Signal{}, err
	}

	if len(data)%SampleWidth != 0 {
		return Signal{}, fmt.Errorf("raw signal has odd length %d", len(data))
	}

	samples := make([]int16, len(data)/SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*SampleWidth:]))
	}

	return Signal{samples: samples}, nil
}

// pcmSource abstracts the WAV and MP3 decoders.
type pcmSource interface {
	// PCMBuffer reads interleaved samples into buf and returns the number read.
	PCMBuffer(buf *audio.IntBuffer) (int, error)
	NumChans() int
	SampleRate() int
	BitDepth() int
	IsFloat() bool
}

func decodeSignal(src pcmSource, rate int) (Signal, error) {
	if src.IsFloat() {
		return Signal{}, errors.New("floating-point PCM is not supported")
	}

	if src.SampleRate() != rate {
		return Signal{}, fmt.Errorf("sample rate %d Hz does not match %d Hz", src.SampleRate(), rate)
	}

	channels := src.NumChans()
	if channels < 1 {
		return Signal{}, fmt.Errorf("invalid channel count %d", channels)
	}

	depth := src.BitDepth()
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:   make([]int, 4096*channels),
	}

	var samples []int16
	for {
		n, err := src.PCMBuffer(buf)
		frames := n / channels
		for i := 0; i < frames; i++ {
			sum := 0
			for c := 0; c < channels; c++ {
				sum += toS16(buf.Data[i*channels+c], depth)
			}

			samples = append(samples, int16(sum/channels))
		}

		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}

		if err != nil {
			return Signal{}, err
		}
	}

	return Signal{samples: samples}, nil
}

// toS16 scales a sample of the given bit depth to 16 bits.
func toS16(v, depth int) int {
	switch depth {
	case 8:
		return (v - 128) << 8
	case 16:
		return v
	case 24:
		return v >> 8
	case 32:
		return v >> 16
	default:
		return v
	}
}

type wavSource struct {
	*wav.Decoder
}

func (w *wavSource) NumChans() int   { return int(w.Decoder.NumChans) }
func (w *wavSource) SampleRate() int { return int(w.Decoder.SampleRate) }
func (w *wavSource) BitDepth() int   { return int(w.Decoder.BitDepth) }
func (w *wavSource) IsFloat() bool   { return w.Decoder.WavAudioFormat == 3 }

// mp3Source decodes to 16-bit stereo, which is all go-mp3 produces.
type mp3Source struct {
	decoder *mp3.Decoder
	raw     []byte
}

func (m *mp3Source) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if cap(m.raw) < len(buf.Data)*2 {
		m.raw = make([]byte, len(buf.Data)*2)
	}

	raw := m.raw[:len(buf.Data)*2]
	n, err := io.ReadFull(m.decoder, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	return samples, err
}

func (m *mp3Source) NumChans() int   { return 2 }
func (m *mp3Source) SampleRate() int { return m.decoder.SampleRate() }
func (m *mp3Source) BitDepth() int   { return 16 }
func (m *mp3Source) IsFloat() bool   { return false }
