// Package status provides a thread-safe status tracker for the
// handpump-sensor daemon. It is read by the HTTP handlers and by the
// heartbeat and lifecycle MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/handpump-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TimingBudgetMs int
	HeartbeatMs    int64
	Broker         string
	HTTPPort       string
	SerialPort     string
	WSBroker       string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Last          *logic.Record // nil until the first record
	Baselined     bool
	Counts        logic.Counts
	IRQEdges      uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// TotalLiters returns the running total carried by the last record.
func (s Snapshot) TotalLiters() float64 {
	if s.Last == nil {
		return 0
	}
	return s.Last.TotalLiters
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest meter state. A nil rec keeps the previous one.
// Called from runLoop after every measurement cycle.
func (t *Tracker) Update(rec *logic.Record, baselined bool, counts logic.Counts, edges uint64) {
	var last *logic.Record
	if rec != nil {
		r := *rec
		last = &r
	}

	t.mu.Lock()
	if last != nil {
		t.snap.Last = last
	}
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.snap.IRQEdges = edges
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
