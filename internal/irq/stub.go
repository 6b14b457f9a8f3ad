//go:build !linux

package irq

import "errors"

// RealLine is not available on non-Linux platforms.
type RealLine struct{}

// RequestLine returns an error on non-Linux platforms.
func RequestLine(chip string, pin int, sig *Signal) (*RealLine, error) {
	return nil, errors.New("irq: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (r *RealLine) Close() error {
	return nil
}

// OutputLine is not available on non-Linux platforms.
type OutputLine struct{}

// RequestOutput returns an error on non-Linux platforms.
func RequestOutput(chip string, pin int, initial int) (*OutputLine, error) {
	return nil, errors.New("irq: not supported on this platform (requires Linux)")
}

// SetValue is not implemented on non-Linux platforms.
func (o *OutputLine) SetValue(v int) error {
	return errors.New("irq: not supported")
}

// Close is not implemented on non-Linux platforms.
func (o *OutputLine) Close() error {
	return nil
}
