package audiolat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sync/atomic"
)

// Sink is the append-only destination of the capture artifact.
type Sink interface {
	io.Writer
	// Close flushes pending bytes and releases the destination.
	Close() error
}

// SinkMode selects how the capture path writes the artifact.
type SinkMode string

const (
	// SinkFile writes synchronously through a buffered file on the capture path.
	SinkFile SinkMode = "file"
	// SinkAsync hands bytes to a lock-free ring drained by a writer goroutine.
	SinkAsync SinkMode = "async"
)

// FileSink is a buffered raw file.
type FileSink struct {
	file *os.File
	w    *bufio.Writer
}

// CreateFileSink creates or truncates the file at path.
func CreateFileSink(path string, bufferSize int) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}

	return &FileSink{file: file, w: bufio.NewWriterSize(file, bufferSize)}, nil
}

func (f *FileSink) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

// Flush writes buffered bytes to the file.
func (f *FileSink) Flush() error {
	return f.w.Flush()
}

func (f *FileSink) Close() error {
	ferr := f.w.Flush()
	cerr := f.file.Close()

	return errors.Join(ferr, cerr)
}

// AsyncSink decouples the capture callback from file I/O. Write copies into
// a single-producer/single-consumer ring and never blocks; a writer goroutine
// drains the ring into the destination. When the ring is full the bytes are
// dropped and ErrSinkOverflow is returned, and reported again by Close.
type AsyncSink struct {
	dst  io.WriteCloser
	ring []byte
	mask uint64

	head atomic.Uint64
	tail atomic.Uint64

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	overflow atomic.Int64
	err      error
}

// NewAsyncSink starts the writer goroutine. size is rounded up to a power of
// two, with a minimum of 4 KiB.
func NewAsyncSink(dst io.WriteCloser, size int) *AsyncSink {
	size = max(size, 4096)
	size = 1 << bits.Len(uint(size-1))

	a := &AsyncSink{
		dst:  dst,
		ring: make([]byte, size),
		mask: uint64(size - 1),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	go a.run()

	return a
}

func (a *AsyncSink) Write(p []byte) (int, error) {
	head := a.head.Load()
	free := uint64(len(a.ring)) - (head - a.tail.Load())
	if uint64(len(p)) > free {
		a.overflow.Add(int64(len(p)))

		return 0, ErrSinkOverflow
	}

	n := copy(a.ring[head&a.mask:], p)
	copy(a.ring, p[n:])
	a.head.Store(head + uint64(len(p)))

	select {
	case a.wake <- struct{}{}:
	default:
	}

	return len(p), nil
}

// Dropped returns the number of bytes lost to overflow.
func (a *AsyncSink) Dropped() int64 {
	return a.overflow.Load()
}

func (a *AsyncSink) run() {
	defer close(a.done)

	for {
		select {
		case <-a.wake:
			a.drain()
		case <-a.quit:
			a.drain()

			return
		}
	}
}

func (a *AsyncSink) drain() {
	for {
		tail := a.tail.Load()
		head := a.head.Load()
		if tail == head {
			return
		}

		start := tail & a.mask
		end := min(start+(head-tail), uint64(len(a.ring)))
		if a.err == nil {
			if _, err := a.dst.Write(a.ring[start:end]); err != nil {
				a.err = err
			}
		}

		a.tail.Store(tail + (end - start))
	}
}

// Close drains the ring and closes the destination. The producer must have
// stopped writing.
func (a *AsyncSink) Close() error {
	close(a.quit)
	<-a.done

	errs := []error{a.err, a.dst.Close()}
	if n := a.overflow.Load(); n > 0 {
		errs = append(errs, fmt.Errorf("%w: %d bytes dropped", ErrSinkOverflow, n))
	}

	return errors.Join(errs...)
}

// OpenSink opens the capture artifact described by cfg.
func OpenSink(cfg Config) (Sink, error) {
	file, err := CreateFileSink(cfg.Output, cfg.Sink.BufferBytes)
	if err != nil {
		return nil, err
	}

	if cfg.Sink.Mode == SinkAsync {
		return NewAsyncSink(file, cfg.Sink.RingBytes), nil
	}

	return file, nil
}
