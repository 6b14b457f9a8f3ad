// Package irq delivers the distance sensor's data-ready interrupt to the
// measurement loop. The real implementation uses the Linux GPIO character
// device. The fake implementation allows testing without hardware.
package irq

// Line is a requested interrupt line.
type Line interface {
	// Close releases the GPIO line. No further notifications are sent.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinIRQ   = 5 // VL53L4CD GPIO1, open drain, active low
	DefaultPinXShut = 4 // VL53L4CD XSHUT
	DefaultChip     = "gpiochip0"
)
