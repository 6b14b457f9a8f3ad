package logic

// AccrueVolume returns the liters discharged between two samples using the
// default thresholds.
func AccrueVolume(state PumpState, currentMM, previousMM int) float64 {
	return DefaultThresholds().AccrueVolume(state, currentMM, previousMM)
}

// AccrueVolume returns zero unless the pump is active and the water column
// rose toward the sensor by more than the distance threshold. The result is
// the swept bore volume in liters. The caller owns the running total.
func (t Thresholds) AccrueVolume(state PumpState, currentMM, previousMM int) float64 {
	if state != StateActive {
		return 0
	}
	rise := previousMM - currentMM
	if rise <= t.DistanceMM {
		return 0
	}
	return float64(rise) * t.BoreAreaMM2 / t.MM3PerLiter
}
