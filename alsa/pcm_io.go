//go:build linux && (amd64 || arm64)

package alsa

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// WriteI16 writes interleaved S16 samples to a playback PCM. len(samples) must
// be a multiple of the channel count. Xruns are recovered and counted; the
// write then continues. It returns the number of frames written.
func (p *PCM) WriteI16(samples []int16) (int, error) {
	if (p.flags & PCM_IN) != 0 {
		return 0, fmt.Errorf("cannot write to a capture device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_WRITEI_FRAMES, samples)
}

// ReadI16 reads interleaved S16 samples from a capture PCM into buf and
// returns the number of frames read.
func (p *PCM) ReadI16(buf []int16) (int, error) {
	if (p.flags & PCM_IN) == 0 {
		return 0, fmt.Errorf("cannot read from a playback device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_READI_FRAMES, buf)
}

func (p *PCM) transfer(req uintptr, samples []int16) (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	if p.config.Format != SNDRV_PCM_FORMAT_S16_LE {
		return 0, fmt.Errorf("PCM format %s is not S16_LE", PcmParamFormatNames[p.config.Format])
	}

	channels := int(p.config.Channels)
	if len(samples)%channels != 0 {
		return 0, fmt.Errorf("buffer of %d samples is not a whole number of %d-channel frames", len(samples), channels)
	}

	frames := len(samples) / channels
	if frames == 0 {
		return 0, nil
	}

	defer runtime.KeepAlive(samples)

	if p.State() == SNDRV_PCM_STATE_SETUP {
		if err := p.Prepare(); err != nil {
			return 0, err
		}
	}

	base := uintptr(unsafe.Pointer(&samples[0]))
	frameBytes := uintptr(channels) * 2

	done := 0
	for done < frames {
		xfer := sndXferi{
			Buf:    base + uintptr(done)*frameBytes,
			Frames: sndPcmUframesT(frames - done),
		}

		err := ioctl(p.file.Fd(), req, uintptr(unsafe.Pointer(&xfer)))
		if xfer.Result > 0 {
			done += int(xfer.Result)
		}

		if err != nil {
			if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ESTRPIPE) {
				if errRec := p.xrunRecover(err); errRec != nil {
					return done, errRec
				}

				continue
			}

			if errors.Is(err, unix.EINTR) {
				continue
			}

			// For non-blocking mode, EAGAIN means the buffer is full (playback) or empty (capture).
			if (p.flags&PCM_NONBLOCK) != 0 && errors.Is(err, unix.EAGAIN) {
				return done, unix.EAGAIN
			}

			return done, fmt.Errorf("ioctl transfer failed: %w", err)
		}
	}

	return done, nil
}
