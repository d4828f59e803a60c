//go:build linux && (amd64 || arm64)

package alsa

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PcmParams holds the hardware capabilities of a PCM device.
type PcmParams struct {
	params *sndPcmHwParams
}

// PcmParamsGetRefined queries the hardware parameters for a PCM device to discover its range of capabilities.
// When config is not nil its format, channel count and rate constrain the query, so the returned
// period sizes are those usable for that stream shape.
func PcmParamsGetRefined(card, device uint, flags PcmFlag, config *Config) (*PcmParams, error) {
	path := devicePath(card, device, flags)

	// Use O_NONBLOCK on open to avoid getting stuck
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	if config != nil {
		paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
		paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
		paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
		paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)
	}

	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &PcmParams{params: hwParams}, nil
}

// RangeMin returns the minimum value for an interval parameter.
func (pp *PcmParams) RangeMin(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-firstIntervalParam].MinVal, nil
}

// RangeMax returns the maximum value for an interval parameter.
func (pp *PcmParams) RangeMax(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return pp.params.Intervals[param-firstIntervalParam].MaxVal, nil
}

// Mask returns the bitmask for a mask-type parameter.
func (pp *PcmParams) Mask(param PcmParam) (*PcmParamMask, error) {
	if pp == nil || pp.params == nil {
		return nil, fmt.Errorf("params not initialized")
	}

	if !isMaskParam(param) {
		return nil, fmt.Errorf("parameter %v is not a mask type", param)
	}

	return &PcmParamMask{bits: pp.params.Masks[param-firstMaskParam].Bits}, nil
}

// FormatIsSupported checks if a given PCM format is supported.
func (pp *PcmParams) FormatIsSupported(format PcmFormat) bool {
	mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if err != nil {
		return false
	}

	return mask.Test(uint(format))
}

// String returns a human-readable representation of the PCM device's capabilities.
func (pp *PcmParams) String() string {
	if pp == nil || pp.params == nil {
		return "<nil>"
	}

	var b strings.Builder

	b.WriteString("PCM device capabilities:\n")

	if mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_ACCESS); err == nil {
		var supported []string
		for i, n := range PcmParamAccessNames {
			if mask.Test(uint(i)) {
				supported = append(supported, n)
			}
		}
		if len(supported) > 0 {
			fmt.Fprintf(&b, "%12s: %s\n", "Access", strings.Join(supported, ", "))
		}
	}

	if mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT); err == nil {
		formats := make([]PcmFormat, 0, len(PcmParamFormatNames))
		for f := range PcmParamFormatNames {
			formats = append(formats, f)
		}
		slices.Sort(formats)

		var supported []string
		for _, f := range formats {
			if mask.Test(uint(f)) {
				supported = append(supported, PcmParamFormatNames[f])
			}
		}
		if len(supported) > 0 {
			fmt.Fprintf(&b, "%12s: %s\n", "Format", strings.Join(supported, ", "))
		}
	}

	intervals := []struct {
		name  string
		param PcmParam
		unit  string
	}{
		{"Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz"},
		{"Channels", SNDRV_PCM_HW_PARAM_CHANNELS, ""},
		{"Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, ""},
		{"Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames"},
		{"Periods", SNDRV_PCM_HW_PARAM_PERIODS, ""},
		{"Buffer size", SNDRV_PCM_HW_PARAM_BUFFER_SIZE, "frames"},
	}

	for _, iv := range intervals {
		lo, _ := pp.RangeMin(iv.param)
		hi, _ := pp.RangeMax(iv.param)
		if hi == 0 || hi == ^uint32(0) { // Don't print meaningless ranges
			continue
		}

		fmt.Fprintf(&b, "%12s: min=%-6d max=%-6d %s\n", iv.name, lo, hi, iv.unit)
	}

	return b.String()
}

// paramInit initializes a sndPcmHwParams struct to allow all possible values.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	for n := range p.Ires {
		p.Ires[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if !isMaskParam(param) {
		return
	}

	mask := &p.Masks[param-firstMaskParam]
	clear(mask.Bits[:])

	if bit >= 256 { // SNDRV_MASK_MAX
		return
	}

	mask.Bits[bit>>5] |= 1 << (bit & 31)
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	interval := &p.Intervals[param-firstIntervalParam]
	interval.MinVal = val
	interval.MaxVal = val
	interval.Flags = SNDRV_PCM_INTERVAL_INTEGER
}

func paramSetMin(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	p.Intervals[param-firstIntervalParam].MinVal = val
}

// paramGetInt reads the lower bound of an interval, which is the negotiated value after HW_PARAMS.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if !isIntervalParam(param) {
		return 0
	}

	return p.Intervals[param-firstIntervalParam].MinVal
}
