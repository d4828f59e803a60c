// Package midi turns MIDI note releases into latency round triggers.
//
// Two wire formats are understood: the raw MIDI 1.0 byte stream exposed by
// ALSA rawmidi devices (/dev/snd/midiCxDy) and the 4-byte event packets of
// the USB MIDI class.
package midi

import "fmt"

// Channel voice commands.
const (
	NoteOff         = 0x80
	NoteOn          = 0x90
	PolyAftertouch  = 0xA0
	ControlChange   = 0xB0
	ProgramChange   = 0xC0
	ChannelPressure = 0xD0
	PitchBend       = 0xE0
)

// Message is a channel voice message. Data2 is zero for one-byte messages.
type Message struct {
	Status byte
	Data1  byte
	Data2  byte
}

// Command returns the status with the channel bits cleared.
func (m Message) Command() byte {
	return m.Status & 0xF0
}

// Channel returns the zero-based channel.
func (m Message) Channel() int {
	return int(m.Status & 0x0F)
}

// Note returns the key number of note messages.
func (m Message) Note() int {
	return int(m.Data1)
}

// IsNoteOn reports a key press.
func (m Message) IsNoteOn() bool {
	return m.Command() == NoteOn && m.Data2 > 0
}

// IsNoteOff reports a key release, including a note-on with zero velocity.
func (m Message) IsNoteOff() bool {
	return m.Command() == NoteOff || (m.Command() == NoteOn && m.Data2 == 0)
}

func (m Message) String() string {
	return fmt.Sprintf("%02X %02X %02X", m.Status, m.Data1, m.Data2)
}

// dataLen returns the number of data bytes following a channel status.
func dataLen(status byte) int {
	switch status & 0xF0 {
	case ProgramChange, ChannelPressure:
		return 1
	default:
		return 2
	}
}

// Parser decodes a raw MIDI byte stream into channel voice messages.
// It honours running status, ignores realtime bytes wherever they appear and
// skips system exclusive and system common messages. The zero value is ready.
type Parser struct {
	status byte
	data   [2]byte
	n      int
	sysex  bool
}

// Feed consumes one byte and returns a message when b completes one.
func (p *Parser) Feed(b byte) (Message, bool) {
	switch {
	case b >= 0xF8:
		// Realtime, may interleave with anything.
		return Message{}, false
	case b == 0xF0:
		p.sysex = true
		p.status, p.n = 0, 0

		return Message{}, false
	case b >= 0xF1:
		// End of sysex or system common. Both cancel running status.
		p.sysex = false
		p.status, p.n = 0, 0

		return Message{}, false
	case b >= 0x80:
		p.sysex = false
		p.status, p.n = b, 0

		return Message{}, false
	}

	if p.sysex || p.status == 0 {
		return Message{}, false
	}

	p.data[p.n] = b
	p.n++

	if p.n < dataLen(p.status) {
		return Message{}, false
	}

	p.n = 0
	msg := Message{Status: p.status, Data1: p.data[0]}
	if dataLen(p.status) == 2 {
		msg.Data2 = p.data[1]
	}

	return msg, true
}

// Reset clears running status and any partial message.
func (p *Parser) Reset() {
	*p = Parser{}
}
