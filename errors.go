package audiolat

import (
	"errors"
	"fmt"
)

// Kind classifies run failures.
type Kind int

const (
	KindUnknown Kind = iota
	// IoFailure: the capture artifact could not be opened or written.
	IoFailure
	// BufferUnavailable: a reference signal is missing or empty.
	BufferUnavailable
	// StreamCreateFailure: the platform refused to create a stream builder.
	StreamCreateFailure
	// StreamOpenFailure: the platform refused to open a stream.
	StreamOpenFailure
	// StreamStartFailure: the platform refused to start a stream.
	StreamStartFailure
	// DataGlitch is an overrun or underrun. It is recovered locally and never
	// returned from a run.
	DataGlitch
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	IoFailure:           "io failure",
	BufferUnavailable:   "buffer unavailable",
	StreamCreateFailure: "stream create failure",
	StreamOpenFailure:   "stream open failure",
	StreamStartFailure:  "stream start failure",
	DataGlitch:          "data glitch",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}

	return kindNames[k]
}

var (
	// ErrEmptySignal is returned when a reference signal has no frames.
	ErrEmptySignal = errors.New("empty reference signal")
	// ErrSinkOverflow is latched when the asynchronous sink ring is full.
	ErrSinkOverflow = errors.New("capture sink overflow")
	// ErrAlreadyRun is returned when Run is called twice on a Controller.
	ErrAlreadyRun = errors.New("controller already ran")
)

// Error is a classified run failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind with no Op and no
// cause, so that errors.Is(err, &Error{Kind: StreamOpenFailure}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// ExitCode maps a run error to a process status: 0 for nil, 2..6 for the
// setup failure kinds and 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch KindOf(err) {
	case IoFailure:
		return 2
	case BufferUnavailable:
		return 3
	case StreamCreateFailure:
		return 4
	case StreamOpenFailure:
		return 5
	case StreamStartFailure:
		return 6
	default:
		return 1
	}
}
