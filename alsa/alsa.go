// Package alsa is a small pure-Go binding to the Linux ALSA PCM interface,
// limited to what a low-latency round-trip measurement needs: opening a
// hardware PCM by "hw:C,D", negotiating hardware and software parameters,
// blocking interleaved S16 I/O with xrun recovery, and status queries.
package alsa

// PcmFormat defines the sample format for a PCM stream.
// These values correspond to the SNDRV_PCM_FORMAT_* constants in the ALSA kernel headers.
type PcmFormat int32

const (
	SNDRV_PCM_FORMAT_INVALID    PcmFormat = -1
	SNDRV_PCM_FORMAT_S8         PcmFormat = 0
	SNDRV_PCM_FORMAT_U8         PcmFormat = 1
	SNDRV_PCM_FORMAT_S16_LE     PcmFormat = 2
	SNDRV_PCM_FORMAT_S16_BE     PcmFormat = 3
	SNDRV_PCM_FORMAT_S24_LE     PcmFormat = 6
	SNDRV_PCM_FORMAT_S32_LE     PcmFormat = 10
	SNDRV_PCM_FORMAT_FLOAT_LE   PcmFormat = 14
	SNDRV_PCM_FORMAT_FLOAT64_LE PcmFormat = 16
	SNDRV_PCM_FORMAT_S24_3LE    PcmFormat = 32
)

// PcmState defines the current state of a PCM stream.
// These values correspond to the SNDRV_PCM_STATE_* constants.
type PcmState int32

const (
	SNDRV_PCM_STATE_OPEN         PcmState = 0 // Stream is open.
	SNDRV_PCM_STATE_SETUP        PcmState = 1 // Stream has a setup.
	SNDRV_PCM_STATE_PREPARED     PcmState = 2 // Stream is ready to start.
	SNDRV_PCM_STATE_RUNNING      PcmState = 3 // Stream is running.
	SNDRV_PCM_STATE_XRUN         PcmState = 4 // Stream reached an underrun or overrun.
	SNDRV_PCM_STATE_DRAINING     PcmState = 5 // Stream is draining.
	SNDRV_PCM_STATE_PAUSED       PcmState = 6 // Stream is paused.
	SNDRV_PCM_STATE_SUSPENDED    PcmState = 7 // Hardware is suspended.
	SNDRV_PCM_STATE_DISCONNECTED PcmState = 8 // Hardware is disconnected.
)

var pcmStateNames = [...]string{
	"OPEN", "SETUP", "PREPARED", "RUNNING", "XRUN", "DRAINING", "PAUSED", "SUSPENDED", "DISCONNECTED",
}

func (s PcmState) String() string {
	if s < 0 || int(s) >= len(pcmStateNames) {
		return "UNKNOWN"
	}

	return pcmStateNames[s]
}

// PcmFlag defines flags for opening a PCM stream.
type PcmFlag uint32

const (
	// PCM_OUT specifies a playback stream.
	PCM_OUT PcmFlag = 0
	// PCM_IN specifies a capture stream.
	PCM_IN PcmFlag = 0x10000000
	// PCM_NORESTART makes xruns fatal instead of re-preparing the stream.
	PCM_NORESTART PcmFlag = 0x00000002
	// PCM_NONBLOCK specifies that I/O operations should not block.
	PCM_NONBLOCK PcmFlag = 0x00000010
)

// Constants for the bitfields within snd_interval.flags to match C enum.
const (
	SNDRV_PCM_INTERVAL_OPENMIN = 1 << 0
	SNDRV_PCM_INTERVAL_OPENMAX = 1 << 1
	SNDRV_PCM_INTERVAL_INTEGER = 1 << 2
	SNDRV_PCM_INTERVAL_EMPTY   = 1 << 3
)

const (
	SNDRV_PCM_ACCESS_MMAP_INTERLEAVED    = 0
	SNDRV_PCM_ACCESS_MMAP_NONINTERLEAVED = 1
	SNDRV_PCM_ACCESS_MMAP_COMPLEX        = 2
	SNDRV_PCM_ACCESS_RW_INTERLEAVED      = 3
	SNDRV_PCM_ACCESS_RW_NONINTERLEAVED   = 4
)

// PcmParam identifies a hardware parameter for a PCM device.
// These values correspond to the SNDRV_PCM_HW_PARAM_* constants.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_ACCESS       PcmParam = 0
	SNDRV_PCM_HW_PARAM_FORMAT       PcmParam = 1
	SNDRV_PCM_HW_PARAM_SUBFORMAT    PcmParam = 2
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS  PcmParam = 8
	SNDRV_PCM_HW_PARAM_FRAME_BITS   PcmParam = 9
	SNDRV_PCM_HW_PARAM_CHANNELS     PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE         PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_TIME  PcmParam = 12
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE  PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIOD_BYTES PcmParam = 14
	SNDRV_PCM_HW_PARAM_PERIODS      PcmParam = 15
	SNDRV_PCM_HW_PARAM_BUFFER_TIME  PcmParam = 16
	SNDRV_PCM_HW_PARAM_BUFFER_SIZE  PcmParam = 17
	SNDRV_PCM_HW_PARAM_BUFFER_BYTES PcmParam = 18
	SNDRV_PCM_HW_PARAM_TICK_TIME    PcmParam = 19

	firstMaskParam     = SNDRV_PCM_HW_PARAM_ACCESS
	lastMaskParam      = SNDRV_PCM_HW_PARAM_SUBFORMAT
	firstIntervalParam = SNDRV_PCM_HW_PARAM_SAMPLE_BITS
	lastIntervalParam  = SNDRV_PCM_HW_PARAM_TICK_TIME
)

func isMaskParam(p PcmParam) bool {
	return p >= firstMaskParam && p <= lastMaskParam
}

func isIntervalParam(p PcmParam) bool {
	return p >= firstIntervalParam && p <= lastIntervalParam
}

// PcmParamMask represents a bitmask for a PCM hardware parameter.
// It allows checking which specific capabilities (e.g., formats) are supported.
type PcmParamMask struct {
	bits [8]uint32 // Corresponds to sndMask->bits
}

// Test checks if a specific bit in the mask is set.
func (m *PcmParamMask) Test(bit uint) bool {
	if bit >= 256 { // SNDRV_MASK_MAX
		return false
	}

	return m.bits[bit>>5]&(1<<(bit&31)) != 0
}

// PcmParamAccessNames provides human-readable names for PCM access types.
// The index corresponds to the SNDRV_PCM_ACCESS_* value.
var PcmParamAccessNames = []string{
	"MMAP_INTERLEAVED",
	"MMAP_NONINTERLEAVED",
	"MMAP_COMPLEX",
	"RW_INTERLEAVED",
	"RW_NONINTERLEAVED",
}

// PcmParamFormatNames provides human-readable names for PCM formats.
var PcmParamFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:         "S8",
	SNDRV_PCM_FORMAT_U8:         "U8",
	SNDRV_PCM_FORMAT_S16_LE:     "S16_LE",
	SNDRV_PCM_FORMAT_S16_BE:     "S16_BE",
	SNDRV_PCM_FORMAT_S24_LE:     "S24_LE",
	SNDRV_PCM_FORMAT_S32_LE:     "S32_LE",
	SNDRV_PCM_FORMAT_FLOAT_LE:   "FLOAT_LE",
	SNDRV_PCM_FORMAT_FLOAT64_LE: "FLOAT64_LE",
	SNDRV_PCM_FORMAT_S24_3LE:    "S24_3LE",
}

// PcmFormatToBits returns the number of bits per sample for a given format.
// This reflects the space occupied in memory, so 24-bit formats in 32-bit containers return 32.
func PcmFormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_FLOAT64_LE:
		return 64
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_FLOAT_LE, SNDRV_PCM_FORMAT_S24_LE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S16_BE:
		return 16
	case SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_U8:
		return 8
	default:
		return 0
	}
}
