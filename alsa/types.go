//go:build linux && (amd64 || arm64)

package alsa

import "golang.org/x/sys/unix"

// sndPcmUframesT is an unsigned long in the ALSA headers.
type sndPcmUframesT = uint64

// sndMask is a bitmask for hardware parameters.
type sndMask struct {
	Bits [8]uint32
}

// sndInterval represents a range of values for a hardware parameter.
type sndInterval struct {
	MinVal uint32
	MaxVal uint32
	Flags  uint32
}

// sndPcmInfo contains general information about a PCM device.
type sndPcmInfo struct {
	Device          uint32
	Subdevice       uint32
	Stream          int32
	Card            int32
	Id              [64]byte
	Name            [80]byte
	Subname         [32]byte
	DevClass        int32
	DevSubclass     int32
	SubdevicesCount uint32
	SubdevicesAvail uint32
	Sync            [16]byte // snd_sync_id_t
	Reserved        [64]byte
}

// sndXferi is for interleaved read/write operations.
type sndXferi struct {
	Result int64   // ssize_t
	Buf    uintptr // void*
	Frames sndPcmUframesT
}

// sndPcmHwParams contains hardware parameters for a PCM device.
type sndPcmHwParams struct {
	Flags     uint32
	Masks     [3]sndMask
	Mres      [5]sndMask // reserved for future use
	Intervals [12]sndInterval
	Ires      [9]sndInterval // reserved for future use
	Rmask     uint32
	Cmask     uint32
	Info      uint32
	Msbits    uint32
	RateNum   uint32
	RateDen   uint32
	FifoSize  sndPcmUframesT
	Reserved  [64]byte
}

// sndPcmSwParams contains software parameters for a PCM device.
// There are 4 bytes of padding after SleepMin to align the following uint64 fields.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	_                [4]byte
	AvailMin         sndPcmUframesT
	XferAlign        sndPcmUframesT
	StartThreshold   sndPcmUframesT
	StopThreshold    sndPcmUframesT
	SilenceThreshold sndPcmUframesT
	SilenceSize      sndPcmUframesT
	Boundary         sndPcmUframesT
	Reserved         [64]byte
}

// sndPcmStatus is the reply of the STATUS ioctl.
type sndPcmStatus struct {
	State               PcmState
	_                   [4]byte
	TriggerTstamp       unix.Timespec
	Tstamp              unix.Timespec
	ApplPtr             sndPcmUframesT
	HwPtr               sndPcmUframesT
	Delay               int64
	Avail               sndPcmUframesT
	AvailMax            sndPcmUframesT
	Overrange           sndPcmUframesT
	SuspendedState      PcmState
	AudioTstampData     uint32
	AudioTstamp         unix.Timespec
	DriverTstamp        unix.Timespec
	AudioTstampAccuracy uint32
	_                   [20]byte
}
