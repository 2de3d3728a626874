package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	errWriterClosed = errors.New("logger: writer closed")
	errNoSinks      = errors.New("logger: every sink has failed")
)

// sink is one log destination. closer is set for sinks the logger opened itself.
type sink struct {
	name   string
	w      io.Writer
	closer io.Closer
	failed bool
}

// lineWriter writes whole lines to every healthy sink under one lock, so lines from
// concurrent updates never interleave. A sink that fails once is reported on stderr and skipped
// from then on; stdout keeps logging when the log file becomes unwritable.
type lineWriter struct {
	mu     sync.Mutex
	sinks  []*sink
	closed bool
}

func newLineWriter(sinks ...*sink) *lineWriter {
	w := &lineWriter{}
	for _, s := range sinks {
		if s != nil && s.w != nil {
			w.sinks = append(w.sinks, s)
		}
	}
	return w
}

// Write delivers one formatted line.
func (w *lineWriter) Write(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}
	healthy := 0
	for _, s := range w.sinks {
		if s.failed {
			continue
		}
		if _, err := s.w.Write(line); err != nil {
			s.failed = true
			fmt.Fprintf(os.Stderr, "logger: sink %s disabled: %v\n", s.name, err)
			continue
		}
		healthy++
	}
	if healthy == 0 && len(w.sinks) > 0 {
		return errNoSinks
	}
	return nil
}

// Close closes the sinks the logger opened. Later writes fail with errWriterClosed.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	for _, s := range w.sinks {
		if s.closer == nil {
			continue
		}
		if err := s.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
