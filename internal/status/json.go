package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Ready         bool         `json:"ready"`
	TotalLiters   float64      `json:"total_l"`
	Last          *LastJSON    `json:"last,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	IRQEdges      uint64       `json:"irq_edges"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// LastJSON is the most recent measurement.
type LastJSON struct {
	Timestamp   string  `json:"timestamp"`
	DistanceMM  int     `json:"distance_mm"`
	ADCRaw      *int    `json:"adc_raw,omitempty"`
	AmbientC    float64 `json:"ambient_c"`
	ObjectC     float64 `json:"object_c"`
	DeltaLiters float64 `json:"delta_l"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of cycle counters.
type CountsJSON struct {
	Records   int `json:"records"`
	Active    int `json:"active"`
	Discarded int `json:"discarded"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TimingBudgetMs int    `json:"timing_budget_ms"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	Broker         string `json:"broker"`
	HTTPPort       string `json:"http_port"`
	SerialPort     string `json:"serial_port,omitempty"`
	WSBroker       string `json:"ws_broker,omitempty"`
}

// StateName returns ACTIVE or INACTIVE for the last record, UNKNOWN before one exists.
func (s Snapshot) StateName() string {
	if s.Last == nil {
		return "UNKNOWN"
	}
	return s.Last.State.String()
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.StateName(),
		Ready:         snap.Baselined,
		TotalLiters:   snap.TotalLiters(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Records:   snap.Counts.Records,
			Active:    snap.Counts.Active,
			Discarded: snap.Counts.Discarded,
		},
		IRQEdges: snap.IRQEdges,
		Config: ConfigJSON{
			TimingBudgetMs: snap.Config.TimingBudgetMs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			Broker:         snap.Config.Broker,
			HTTPPort:       snap.Config.HTTPPort,
			SerialPort:     snap.Config.SerialPort,
			WSBroker:       snap.Config.WSBroker,
		},
	}

	if r := snap.Last; r != nil {
		inner.Last = &LastJSON{
			Timestamp:   r.Time.UTC().Format(time.RFC3339),
			DistanceMM:  r.DistanceMM,
			AmbientC:    r.AmbientC,
			ObjectC:     r.ObjectC,
			DeltaLiters: r.DeltaLiters,
		}
		if r.ADCValid {
			adc := r.ADCRaw
			inner.Last.ADCRaw = &adc
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
