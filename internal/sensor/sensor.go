// Package sensor provides the pump node's I2C peripherals behind small
// interfaces. Real drivers talk to the bus through periph.io; fakes allow
// testing without hardware.
package sensor

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Default I2C addresses.
const (
	AddrVL53L4CD = 0x29
	AddrMLX90614 = 0x5A
	AddrMCP3425  = 0x68
)

var (
	// ErrADCRead is returned when the ADC conversion could not be read.
	ErrADCRead = errors.New("adc read failed")
	// ErrWrongDevice is returned when a device identifies as something else.
	ErrWrongDevice = errors.New("unexpected device id")
	// ErrTimeout is returned when a device does not reach the expected state.
	ErrTimeout = errors.New("device timeout")
)

// RangeResult is one ranging measurement.
type RangeResult struct {
	DistanceMM     int
	Status         uint8 // 0 = valid; see VL53L4CD user manual for others
	SigmaMM        int
	SignalRateKcps int
}

// Valid reports whether the sensor flagged the range as valid.
func (r RangeResult) Valid() bool {
	return r.Status == 0
}

// Ranger is a time-of-flight distance sensor.
type Ranger interface {
	Init() error
	Off() error
	SetRangeTiming(budgetMs, interMeasurementMs int) error
	StartRanging() error
	StopRanging() error
	DataReady() (bool, error)
	ClearInterrupt() error
	Result() (RangeResult, error)
}

// Thermometer is a non-contact infrared thermometer.
type Thermometer interface {
	Init() error
	AmbientC() (float64, error)
	ObjectC() (float64, error)
	Emissivity() (float64, error)
}

// ADC is an external analog-to-digital converter.
type ADC interface {
	Init() error
	// ReadRaw returns the signed conversion result. A failed read returns
	// an error wrapping ErrADCRead, never a stale value.
	ReadRaw() (int, error)
}

// OpenBus initialises the host drivers and opens the named I2C bus.
// An empty name opens the first bus found, usually /dev/i2c-1.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return bus, nil
}
