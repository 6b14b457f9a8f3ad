package main

import (
	"errors"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/handpump-sensor/internal/acquire"
	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/mqtt"
	"github.com/sweeney/handpump-sensor/internal/status"
	"github.com/sweeney/handpump-sensor/internal/telemetry"
)

// daemon owns the measurement loop and everything it writes to.
// publisher, mqttStatus and tracker may be nil.
type daemon struct {
	acq        *acquire.Acquirer
	meter      *logic.Meter
	sink       telemetry.Sink
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	edges      func() uint64
	heartbeat  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// runLoop runs one measurement cycle per ready notification until a
// signal arrives. tick also triggers a cycle so a missed edge cannot stall
// the sensor, and drives heartbeat events.
func (d *daemon) runLoop(ready <-chan struct{}, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case <-ready:
			d.cycle(d.now())

		case <-tick:
			t := d.now()
			d.cycle(t)
			d.checkHeartbeat(t)
		}
	}
}

// cycle acquires one sample and emits its record.
func (d *daemon) cycle(t time.Time) {
	s, err := d.acq.Acquire(t)
	if errors.Is(err, acquire.ErrNotReady) {
		return
	}
	if err != nil {
		d.logger.Error("measurement cycle aborted", "err", err)
		return
	}

	rec, ok := d.meter.Process(s)
	if !ok {
		d.logger.Debug("distance out of range, sample discarded", "distance_mm", s.DistanceMM)
		d.updateTracker(nil)
		return
	}

	d.logger.Debug("record",
		"distance_mm", rec.DistanceMM,
		"state", rec.State,
		"ambient_c", rec.AmbientC,
		"object_c", rec.ObjectC,
		"adc_valid", rec.ADCValid)
	if rec.DeltaLiters > 0 {
		d.logger.Info("water pumped", "delta_l", rec.DeltaLiters, "total_l", rec.TotalLiters)
	}

	if err := d.sink.WriteRecord(rec); err != nil {
		d.logger.Warn("telemetry write error", "err", err)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(rec); err != nil {
			// Don't crash on publish failure
			d.logger.Warn("publish error", "err", err)
		}
	}

	d.updateTracker(&rec)
}

func (d *daemon) updateTracker(rec *logic.Record) {
	if d.tracker == nil {
		return
	}
	var edges uint64
	if d.edges != nil {
		edges = d.edges()
	}
	d.tracker.Update(rec, d.meter.IsBaselined(), d.meter.CountsSnapshot(), edges)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) checkHeartbeat(t time.Time) {
	hb := d.meter.CheckHeartbeat(t, d.heartbeat)
	if hb == nil {
		return
	}

	d.logger.Info("heartbeat",
		"uptime", hb.Uptime,
		"records", hb.Counts.Records,
		"active", hb.Counts.Active,
		"discarded", hb.Counts.Discarded,
		"total_l", hb.TotalLiters)

	if d.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if d.tracker != nil {
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		d.updateTracker(nil)
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("heartbeat publish error", "err", err)
	}
}

func (d *daemon) shutdown(s os.Signal) {
	d.logger.Info("shutting down", "signal", s)

	reason := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		reason = "SIGINT"
	case syscall.SIGTERM:
		reason = "SIGTERM"
	}

	if d.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: d.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if d.tracker != nil {
		d.updateTracker(nil)
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish shutdown event", "err", err)
	} else {
		d.logger.Info("published shutdown event")
	}
}
