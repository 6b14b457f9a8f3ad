// Package mqtt mirrors measurement records and lifecycle events to an MQTT
// broker, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/telemetry"
)

// Topic is the MQTT topic for measurement records.
const Topic = "water/handpump/sensor/measurements"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "water/handpump/sensor/system"

// Publisher publishes records to MQTT.
type Publisher interface {
	// Publish sends a measurement record to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(rec logic.Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Measurement MeasurementPayload `json:"measurement"`
}

// MeasurementPayload carries one record plus its MEAS line so that
// subscribers and the satellite relay see the same bytes.
type MeasurementPayload struct {
	Timestamp   string  `json:"timestamp"`
	DistanceMM  int     `json:"distance_mm"`
	ADCRaw      *int    `json:"adc_raw,omitempty"`
	AmbientC    float64 `json:"ambient_c"`
	ObjectC     float64 `json:"object_c"`
	DeltaLiters float64 `json:"delta_l"`
	TotalLiters float64 `json:"total_l"`
	State       string  `json:"state"`
	Line        string  `json:"line"`
}

// FormatPayload creates the JSON payload for a record.
func FormatPayload(rec logic.Record) ([]byte, error) {
	m := MeasurementPayload{
		Timestamp:   rec.Time.UTC().Format(time.RFC3339),
		DistanceMM:  rec.DistanceMM,
		AmbientC:    rec.AmbientC,
		ObjectC:     rec.ObjectC,
		DeltaLiters: rec.DeltaLiters,
		TotalLiters: rec.TotalLiters,
		State:       rec.State.String(),
		Line:        telemetry.Format(rec),
	}
	if rec.ADCValid {
		adc := rec.ADCRaw
		m.ADCRaw = &adc
	}
	return json.Marshal(Payload{Measurement: m})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
