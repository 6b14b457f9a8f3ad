package logic

// Classify reports whether the pump is active using the default thresholds.
func Classify(distanceMM int, ambientC, objectC float64, previousMM int) PumpState {
	return DefaultThresholds().Classify(distanceMM, ambientC, objectC, previousMM)
}

// Classify fails closed to StateInactive when the object temperature is not
// plausible for water. Otherwise both the displacement since the previous
// sample and the object/ambient differential must exceed their thresholds.
func (t Thresholds) Classify(distanceMM int, ambientC, objectC float64, previousMM int) PumpState {
	if objectC < t.MinWaterTempC || objectC > t.MaxWaterTempC {
		return StateInactive
	}

	deltaDist := absInt(distanceMM - previousMM)
	deltaTemp := absFloat(objectC - ambientC)

	if deltaDist > t.DistanceMM && deltaTemp > t.TemperatureC {
		return StateActive
	}
	return StateInactive
}

// InRange reports whether a distance reading is inside the accepted window.
func (t Thresholds) InRange(distanceMM int) bool {
	return distanceMM >= t.MinDistanceMM && distanceMM <= t.MaxDistanceMM
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
