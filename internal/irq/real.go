//go:build linux

package irq

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLine watches the sensor's interrupt pin for falling edges using the
// Linux GPIO character device.
type RealLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// RequestLine requests pin on chip as an input with pull-up and falling-edge
// detection. Every edge notifies sig. The handler performs no bus I/O.
func RequestLine(chipName string, pin int, sig *Signal) (*RealLine, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("handpump-irq"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			sig.Notify()
		}),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request IRQ pin %d: %w", pin, err)
	}

	return &RealLine{chip: chip, line: line}, nil
}

// Close stops edge detection and releases the line and chip.
func (r *RealLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close IRQ pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// OutputLine drives a single GPIO output, used for the sensor's XSHUT pin.
type OutputLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// RequestOutput requests pin on chip as an output at the initial level.
func RequestOutput(chipName string, pin int, initial int) (*OutputLine, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("handpump-xshut"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(initial))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}

	return &OutputLine{chip: chip, line: line}, nil
}

// SetValue drives the pin high (1) or low (0).
func (o *OutputLine) SetValue(v int) error {
	return o.line.SetValue(v)
}

// Close returns the pin to an input with pull-down, matching boot defaults,
// then releases it.
func (o *OutputLine) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output pin: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pin: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
