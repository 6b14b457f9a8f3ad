package logic

import "time"

// Meter accumulates pumped volume across measurement cycles.
type Meter struct {
	thresholds    Thresholds
	previousMM    int
	baselined     bool
	totalLiters   float64
	counts        Counts
	last          *Record
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewMeter creates a meter with the given thresholds.
// The startTime is used for calculating uptime in heartbeat events.
func NewMeter(thresholds Thresholds, startTime time.Time) *Meter {
	return &Meter{
		thresholds:    thresholds,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes a new sample and returns the record to emit.
// Out-of-range distances return false and leave all state untouched apart
// from the discard counter. The first in-range sample only establishes the
// baseline distance and is reported inactive.
func (m *Meter) Process(s Sample) (Record, bool) {
	if !m.thresholds.InRange(s.DistanceMM) {
		m.counts.Discarded++
		return Record{}, false
	}

	state := StateInactive
	var delta float64
	if m.baselined {
		state = m.thresholds.Classify(s.DistanceMM, s.AmbientC, s.ObjectC, m.previousMM)
		delta = m.thresholds.AccrueVolume(state, s.DistanceMM, m.previousMM)
	}

	m.totalLiters += delta
	m.previousMM = s.DistanceMM
	m.baselined = true

	m.counts.Records++
	if state == StateActive {
		m.counts.Active++
	}

	rec := Record{
		Time:        s.Time,
		DistanceMM:  s.DistanceMM,
		ADCRaw:      s.ADCRaw,
		ADCValid:    s.ADCValid,
		AmbientC:    s.AmbientC,
		ObjectC:     s.ObjectC,
		DeltaLiters: delta,
		TotalLiters: m.totalLiters,
		State:       state,
	}
	m.last = &rec
	return rec, true
}

// InRange reports whether the distance would be accepted by Process.
func (m *Meter) InRange(distanceMM int) bool {
	return m.thresholds.InRange(distanceMM)
}

// IsBaselined returns whether an in-range sample has been seen.
func (m *Meter) IsBaselined() bool {
	return m.baselined
}

// PreviousDistance returns the last accepted distance in millimetres.
func (m *Meter) PreviousDistance() int {
	return m.previousMM
}

// TotalLiters returns the running volume total.
func (m *Meter) TotalLiters() float64 {
	return m.totalLiters
}

// CountsSnapshot returns a copy of the cycle counters.
func (m *Meter) CountsSnapshot() Counts {
	return m.counts
}

// LastRecord returns the most recent record, or nil before the first one.
func (m *Meter) LastRecord() *Record {
	if m.last == nil {
		return nil
	}
	rec := *m.last
	return &rec
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (m *Meter) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}

	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp:   now,
		Uptime:      now.Sub(m.startTime),
		Counts:      m.counts,
		TotalLiters: m.totalLiters,
	}
}
