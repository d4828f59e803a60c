package audiolat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{&Error{Kind: IoFailure, Op: "open sink"}, 2},
		{&Error{Kind: BufferUnavailable, Op: "begin signal", Err: ErrEmptySignal}, 3},
		{&Error{Kind: StreamCreateFailure}, 4},
		{fmt.Errorf("run: %w", &Error{Kind: StreamOpenFailure}), 5},
		{&Error{Kind: StreamStartFailure}, 6},
		{errors.New("other"), 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("setup: %w", &Error{Kind: StreamOpenFailure, Op: "open input stream", Err: ErrEmptySignal})

	assert.ErrorIs(t, err, &Error{Kind: StreamOpenFailure})
	assert.NotErrorIs(t, err, &Error{Kind: StreamStartFailure})
	assert.ErrorIs(t, err, ErrEmptySignal)
	assert.Equal(t, StreamOpenFailure, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, "setup: open input stream: stream open failure: empty reference signal", err.Error())
	assert.Equal(t, "x: io failure", (&Error{Kind: IoFailure, Op: "x"}).Error())
	assert.Equal(t, "unknown", Kind(42).String())
}
