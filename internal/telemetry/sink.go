package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sweeney/handpump-sensor/internal/logic"
)

// Sink receives one line per accepted measurement.
type Sink interface {
	// WriteRecord emits the record. Errors should not stop the caller.
	WriteRecord(rec logic.Record) error

	// Close releases the underlying transport.
	Close() error
}

// WriterSink writes newline-terminated lines to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w. Closing the sink closes w if
// it implements io.Closer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteRecord writes the formatted line and a newline in a single write.
func (s *WriterSink) WriteRecord(rec logic.Record) error {
	line := Format(rec) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}

// Close closes the writer when it is closable.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MultiSink fans a record out to several sinks.
type MultiSink []Sink

// WriteRecord writes to every sink, returning all errors joined.
func (m MultiSink) WriteRecord(rec logic.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
