package telemetry

import "github.com/sweeney/handpump-sensor/internal/logic"

// FakeSink records written lines for test assertions.
type FakeSink struct {
	// Records contains every record written.
	Records []logic.Record

	// Lines contains the formatted lines, without newline.
	Lines []string

	// WriteError, if set, is returned by WriteRecord.
	WriteError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSink creates an empty FakeSink.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// WriteRecord records the record and its line.
func (f *FakeSink) WriteRecord(rec logic.Record) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Records = append(f.Records, rec)
	f.Lines = append(f.Lines, Format(rec))
	return nil
}

// Close marks the sink as closed.
func (f *FakeSink) Close() error {
	f.Closed = true
	return nil
}
