// Package logic contains pure business logic for hand pump volume tracking.
// This package has NO external dependencies (no GPIO, I2C, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// PumpState is the classification of pump activity for one cycle.
type PumpState int

const (
	StateInactive PumpState = 0
	StateActive   PumpState = 1
)

// String returns "ACTIVE" or "INACTIVE".
func (s PumpState) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Measurement limits and pump geometry.
const (
	DistThresholdMM = 5 // minimum displacement between samples
	TempThresholdC  = 2 // minimum object/ambient differential

	MinWaterTempC = 0  // freezing point
	MaxWaterTempC = 50 // 122 °F

	MinDistanceMM = 50
	MaxDistanceMM = 450

	PumpBoreAreaMM2 = 1963.5 // Afridev rising main, 50 mm bore
	MM3PerLiter     = 1e6
)

// Thresholds holds the classification and accrual constants.
type Thresholds struct {
	DistanceMM    int
	TemperatureC  float64
	MinWaterTempC float64
	MaxWaterTempC float64
	MinDistanceMM int
	MaxDistanceMM int
	BoreAreaMM2   float64
	MM3PerLiter   float64
}

// DefaultThresholds returns the constants for the Afridev pump.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DistanceMM:    DistThresholdMM,
		TemperatureC:  TempThresholdC,
		MinWaterTempC: MinWaterTempC,
		MaxWaterTempC: MaxWaterTempC,
		MinDistanceMM: MinDistanceMM,
		MaxDistanceMM: MaxDistanceMM,
		BoreAreaMM2:   PumpBoreAreaMM2,
		MM3PerLiter:   MM3PerLiter,
	}
}

// Sample is one set of sensor readings taken after a ready signal.
type Sample struct {
	Time       time.Time
	DistanceMM int
	ADCRaw     int
	ADCValid   bool // false when the ADC read failed this cycle
	AmbientC   float64
	ObjectC    float64
}

// Record is the outcome of one accepted measurement cycle.
type Record struct {
	Time        time.Time
	DistanceMM  int
	ADCRaw      int
	ADCValid    bool
	AmbientC    float64
	ObjectC     float64
	DeltaLiters float64
	TotalLiters float64
	State       PumpState
}

// Counts tracks cycle outcomes since startup.
type Counts struct {
	Records   int // in-range samples turned into records
	Discarded int // out-of-range samples
	Active    int // records classified active
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp   time.Time
	Uptime      time.Duration
	Counts      Counts
	TotalLiters float64
}
