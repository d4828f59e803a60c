package midi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gen2brain/audiolat"
)

// Format selects the wire format read by a Listener.
type Format int

const (
	// FormatRaw is a MIDI 1.0 byte stream.
	FormatRaw Format = iota
	// FormatUSB is a stream of USB MIDI event packets.
	FormatUSB
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatUSB:
		return "usb"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses "raw" or "usb".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "raw":
		return FormatRaw, nil
	case "usb":
		return FormatUSB, nil
	default:
		return 0, fmt.Errorf("unknown midi format %q", s)
	}
}

// Listener reads MIDI input and calls Trigger for every note release.
type Listener struct {
	Format Format
	// Filter, when set, selects the releases that trigger a round.
	Filter func(Message) bool
	// Now returns the trigger timestamp in monotonic nanoseconds.
	Now func() int64
	// Trigger receives the timestamp and reports whether a round was requested.
	Trigger func(ts int64) bool
	Logger  *slog.Logger
}

// Open opens a MIDI device node for reading.
func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open midi device: %w", err)
	}

	return f, nil
}

// Run reads r until EOF or until ctx is done. When r is an io.Closer it is
// closed on cancellation to unblock the pending read. A read error after
// cancellation is not reported.
func (l *Listener) Run(ctx context.Context, r io.Reader) error {
	if l.Trigger == nil {
		return errors.New("midi listener has no trigger")
	}

	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("format", l.Format.String())

	now := l.Now
	if now == nil {
		now = audiolat.MonotonicNow
	}

	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	var parser Parser
	var packets packetReader

	handle := func(msg Message) {
		if !msg.IsNoteOff() {
			return
		}

		if l.Filter != nil && !l.Filter(msg) {
			return
		}

		ts := now()
		if l.Trigger(ts) {
			log.Debug("round triggered", "note", msg.Note(), "channel", msg.Channel(), "ts", ts)
		} else {
			log.Debug("trigger ignored", "note", msg.Note(), "channel", msg.Channel())
		}
	}

	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)

		switch l.Format {
		case FormatUSB:
			packets.feed(buf[:n], func(p Packet) {
				if msg, ok := p.Message(); ok {
					handle(msg)
				}
			})
		default:
			for _, b := range buf[:n] {
				if msg, ok := parser.Feed(b); ok {
					handle(msg)
				}
			}
		}

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("read midi: %w", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
