// Package telemetry formats measurement records as text lines and writes
// them to line-oriented sinks such as the satellite modem's serial port.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/handpump-sensor/internal/logic"
)

// Prefix starts every measurement line.
const Prefix = "MEAS:"

// ErrMalformed is returned by Parse for lines that are not measurement records.
var ErrMalformed = errors.New("malformed measurement line")

// Format renders a record as
//
//	MEAS:<distance_mm>,<adc_raw>,<ambient_C>,<object_C>,<total_volume_L>,<pump_state>
//
// without a trailing newline. A failed ADC read is written as 0.
func Format(rec logic.Record) string {
	adc := rec.ADCRaw
	if !rec.ADCValid {
		adc = 0
	}
	return fmt.Sprintf("%s%d,%d,%f,%f,%f,%d",
		Prefix, rec.DistanceMM, adc, rec.AmbientC, rec.ObjectC, rec.TotalLiters, int(rec.State))
}

// Parse reads a line produced by Format. Whitespace around fields is ignored.
func Parse(line string) (logic.Record, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return logic.Record{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}

	parts := strings.Split(strings.TrimPrefix(line, Prefix), ",")
	if len(parts) != 6 {
		return logic.Record{}, fmt.Errorf("%w: expected 6 comma-separated values, got %d", ErrMalformed, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var rec logic.Record
	var err error

	if rec.DistanceMM, err = strconv.Atoi(parts[0]); err != nil {
		return logic.Record{}, fmt.Errorf("%w: distance: %v", ErrMalformed, err)
	}
	if rec.ADCRaw, err = strconv.Atoi(parts[1]); err != nil {
		return logic.Record{}, fmt.Errorf("%w: adc: %v", ErrMalformed, err)
	}
	rec.ADCValid = true
	if rec.AmbientC, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return logic.Record{}, fmt.Errorf("%w: ambient: %v", ErrMalformed, err)
	}
	if rec.ObjectC, err = strconv.ParseFloat(parts[3], 64); err != nil {
		return logic.Record{}, fmt.Errorf("%w: object: %v", ErrMalformed, err)
	}
	if rec.TotalLiters, err = strconv.ParseFloat(parts[4], 64); err != nil {
		return logic.Record{}, fmt.Errorf("%w: total volume: %v", ErrMalformed, err)
	}

	switch parts[5] {
	case "0":
		rec.State = logic.StateInactive
	case "1":
		rec.State = logic.StateActive
	default:
		return logic.Record{}, fmt.Errorf("%w: pump state %q", ErrMalformed, parts[5])
	}

	return rec, nil
}
