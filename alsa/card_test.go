package alsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procCards = ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f10000 irq 32
 2 [Loopback       ]: Loopback - Loopback
                      Loopback 1
`

const procPcm = `00-00: ALC3246 Analog : ALC3246 Analog : playback 1 : capture 1
00-03: HDMI 0 : HDMI 0 : playback 1
02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8
02-01: Loopback PCM : Loopback PCM : playback 8 : capture 8
05-00: Orphan : Orphan : playback 1
`

func TestParseCards(t *testing.T) {
	cards := parseCards(procCards, procPcm)
	require.Len(t, cards, 2)

	pch := cards[0]
	assert.Equal(t, 0, pch.ID)
	assert.Equal(t, "PCH", pch.Name)
	assert.Equal(t, "HDA-Intel - HDA Intel PCH", pch.Description)
	require.Len(t, pch.Devices, 3)
	assert.Equal(t, SoundCardDevice{ID: 0, Name: "pcm0p", Description: "ALC3246 Analog", IsPlayback: true}, pch.Devices[0])
	assert.Equal(t, SoundCardDevice{ID: 0, Name: "pcm0c", Description: "ALC3246 Analog"}, pch.Devices[1])
	assert.Equal(t, "pcm3p", pch.Devices[2].Name)

	loop := cards[1]
	assert.Equal(t, 2, loop.ID)
	assert.Equal(t, "Loopback", loop.Name)
	require.Len(t, loop.Devices, 4)
	assert.Equal(t, "hw:2,1", loop.Devices[2].HwName(loop.ID))
}

func TestParseCardsEmpty(t *testing.T) {
	assert.Empty(t, parseCards("", ""))
	assert.Empty(t, parseCards("--- no soundcards ---\n", ""))
}

func TestSoundCardString(t *testing.T) {
	cards := parseCards(procCards, procPcm)
	require.NotEmpty(t, cards)

	s := cards[1].String()
	assert.Contains(t, s, "Card 2: Loopback (Loopback - Loopback)")
	assert.Contains(t, s, "Device 1: pcm1c (Loopback PCM) [Capture]")
}
