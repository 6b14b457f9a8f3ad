// Package acquire reads one set of sensor values after a ready signal.
package acquire

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/sensor"
)

// ErrNotReady is returned when the ready signal fired but the ranging
// sensor has no new result.
var ErrNotReady = errors.New("no new range result")

// Acquirer reads the distance, ADC and temperature sensors in turn.
type Acquirer struct {
	ranger  sensor.Ranger
	thermo  sensor.Thermometer
	adc     sensor.ADC
	inRange func(distanceMM int) bool
	logger  *slog.Logger
}

// New creates an Acquirer. inRange decides whether the remaining sensors
// are read at all; out-of-range samples only carry the distance.
func New(r sensor.Ranger, th sensor.Thermometer, adc sensor.ADC, inRange func(int) bool, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		ranger:  r,
		thermo:  th,
		adc:     adc,
		inRange: inRange,
		logger:  logger,
	}
}

// Acquire takes one sample. It returns ErrNotReady when the sensor has no
// new result. A failed ADC read is reported in the sample, not as an error;
// distance and temperature failures abort the cycle.
func (a *Acquirer) Acquire(now time.Time) (logic.Sample, error) {
	ready, err := a.ranger.DataReady()
	if err != nil {
		return logic.Sample{}, fmt.Errorf("check data ready: %w", err)
	}
	if !ready {
		return logic.Sample{}, ErrNotReady
	}

	// The interrupt must be cleared to start the next measurement.
	if err := a.ranger.ClearInterrupt(); err != nil {
		return logic.Sample{}, fmt.Errorf("clear interrupt: %w", err)
	}

	res, err := a.ranger.Result()
	if err != nil {
		return logic.Sample{}, fmt.Errorf("read range: %w", err)
	}
	if !res.Valid() {
		a.logger.Debug("range status", "status", res.Status, "distance_mm", res.DistanceMM)
	}

	s := logic.Sample{Time: now, DistanceMM: res.DistanceMM}
	if !a.InRange(res.DistanceMM) {
		return s, nil
	}

	raw, err := a.adc.ReadRaw()
	if err != nil {
		a.logger.Warn("adc read failed", "error", err)
	} else {
		s.ADCRaw = raw
		s.ADCValid = true
	}

	if s.AmbientC, err = a.thermo.AmbientC(); err != nil {
		return logic.Sample{}, fmt.Errorf("read ambient temperature: %w", err)
	}
	if s.ObjectC, err = a.thermo.ObjectC(); err != nil {
		return logic.Sample{}, fmt.Errorf("read object temperature: %w", err)
	}

	return s, nil
}

// InRange reports whether a sample at distanceMM carries the full set of
// readings. Without a range check every distance does.
func (a *Acquirer) InRange(distanceMM int) bool {
	return a.inRange == nil || a.inRange(distanceMM)
}
