package telemetry

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the satellite modem's UART.
const DefaultBaudRate = 115200

// SerialSink writes telemetry lines to a serial port. Close closes the port.
type SerialSink struct {
	*WriterSink
}

// NewSerialSink opens the named port at baud 8N1.
func NewSerialSink(name string, baud int) (*SerialSink, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}

	return &SerialSink{WriterSink: NewWriterSink(port)}, nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
