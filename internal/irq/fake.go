package irq

// FakeLine is a test double that raises the signal on demand.
type FakeLine struct {
	signal *Signal

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeLine creates a FakeLine that notifies sig.
func NewFakeLine(sig *Signal) *FakeLine {
	return &FakeLine{signal: sig}
}

// Trigger simulates a falling edge. It is ignored after Close.
func (f *FakeLine) Trigger() {
	if f.Closed {
		return
	}
	f.signal.Notify()
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.Closed = true
	return nil
}
