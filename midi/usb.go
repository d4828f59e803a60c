package midi

// PacketSize is the size of a USB MIDI event packet.
const PacketSize = 4

// Packet is a USB MIDI event packet: a header byte holding the cable number
// and the code index number (CIN), followed by up to three MIDI bytes.
type Packet [PacketSize]byte

// Cable returns the virtual cable number.
func (p Packet) Cable() int {
	return int(p[0] >> 4)
}

// CodeIndex returns the code index number classifying the event.
func (p Packet) CodeIndex() int {
	return int(p[0] & 0x0F)
}

// Message returns the channel voice message carried by the packet. Packets
// of other classes (sysex, system common, realtime, misc) report false.
func (p Packet) Message() (Message, bool) {
	cin := p.CodeIndex()
	if cin < 0x8 || cin > 0xE {
		return Message{}, false
	}

	// The CIN of a channel message mirrors its command nibble.
	if p[1]>>4 != byte(cin) {
		return Message{}, false
	}

	msg := Message{Status: p[1], Data1: p[2]}
	if dataLen(p[1]) == 2 {
		msg.Data2 = p[3]
	}

	return msg, true
}

// packetReader splits a byte stream on packet boundaries, keeping a partial
// packet until the rest of it arrives.
type packetReader struct {
	pending [PacketSize]byte
	n       int
}

// feed calls fn for every complete packet in b.
func (r *packetReader) feed(b []byte, fn func(Packet)) {
	for _, c := range b {
		r.pending[r.n] = c
		r.n++

		if r.n == PacketSize {
			fn(Packet(r.pending))
			r.n = 0
		}
	}
}
