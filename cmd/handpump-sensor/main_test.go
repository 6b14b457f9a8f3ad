package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/handpump-sensor/internal/acquire"
	"github.com/sweeney/handpump-sensor/internal/config"
	"github.com/sweeney/handpump-sensor/internal/display"
	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/mqtt"
	"github.com/sweeney/handpump-sensor/internal/sensor"
	"github.com/sweeney/handpump-sensor/internal/status"
	"github.com/sweeney/handpump-sensor/internal/telemetry"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "cellular")
	t.Setenv(envNetworkIP, "10.64.0.7")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "10.64.0.1")
	t.Setenv(envNetworkWifiStatus, "")
	t.Setenv(envNetworkWifiSSID, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{Type: "cellular", IP: "10.64.0.7", Status: "connected", Gateway: "10.64.0.1"}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		ws, broker, want string
	}{
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"=broker", "", ""},
		{"off", "tcp://192.168.1.200:1883", ""},
		{"", "tcp://192.168.1.200:1883", ""},
		{"ws://other:8080/mqtt", "tcp://192.168.1.200:1883", "ws://other:8080/mqtt"},
		{"=broker", "://bad", ""},
	}
	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker, logger); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q) = %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}

func TestParseFlagsOnlyExplicitOverrides(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "/tmp/x.yaml", "-broker", "tcp://b:1883", "-display"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/tmp/x.yaml" || !opts.display || opts.printState {
		t.Errorf("unexpected options: %+v", opts)
	}
	if len(opts.overrides) != 1 || opts.overrides["broker"] != "tcp://b:1883" {
		t.Errorf("unexpected overrides: %v", opts.overrides)
	}

	cfg := config.Default()
	cfg.HTTP.Addr = ":8080"
	if err := opts.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("broker not applied: %q", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("unset flag overwrote config: %q", cfg.HTTP.Addr)
	}
}

func TestParseFlagsEmptyValueDisables(t *testing.T) {
	opts, err := parseFlags([]string{"-http", "", "-serial", "", "-heartbeat", "0s"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := config.Default()
	cfg.Telemetry.SerialPort = "/dev/ttyS0"
	if err := opts.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.HTTP.Addr != "" || cfg.Telemetry.SerialPort != "" || cfg.Heartbeat != 0 {
		t.Errorf("expected disabled http/serial/heartbeat, got %q %q %v", cfg.HTTP.Addr, cfg.Telemetry.SerialPort, cfg.Heartbeat)
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	if _, err := parseFlags([]string{"-poll", "1s"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts, _ := parseFlags([]string{"-config", path, "-log-level", "warn"})
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("flag should win over file, got %q", cfg.Log.Level)
	}

	opts, _ = parseFlags([]string{"-config", path, "-log-level", "loud"})
	if _, err := loadConfig(opts); err == nil {
		t.Error("expected validation error")
	}
}

func TestStartSensorsOrder(t *testing.T) {
	d := devices{
		ranger: sensor.NewFakeRanger(100),
		thermo: &sensor.FakeThermometer{Emiss: 1},
		adc:    &sensor.FakeADC{},
	}
	dist := config.DistanceConfig{TimingBudgetMs: 100, InterMeasurementMs: 0}

	if err := startSensors(d, dist, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("startSensors: %v", err)
	}

	r := d.ranger.(*sensor.FakeRanger)
	if !r.Initialized || !r.Ranging || r.PoweredOff {
		t.Errorf("ranger not started: %+v", r)
	}
	if r.BudgetMs != 100 || r.InterMs != 0 {
		t.Errorf("timing: got %d/%d, want 100/0", r.BudgetMs, r.InterMs)
	}
	if !d.adc.(*sensor.FakeADC).Initialized {
		t.Error("adc not initialized")
	}
}

func TestStartSensorsThermometerFailureIsFatal(t *testing.T) {
	r := sensor.NewFakeRanger(100)
	adc := &sensor.FakeADC{}
	d := devices{
		ranger: r,
		thermo: &sensor.FakeThermometer{InitError: errors.New("nack")},
		adc:    adc,
	}

	err := startSensors(d, config.DistanceConfig{TimingBudgetMs: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "thermometer") {
		t.Fatalf("expected thermometer error, got %v", err)
	}
	if adc.Initialized || r.Initialized {
		t.Error("later devices must not be initialized after a failure")
	}
}

func TestStartSensorsRangerFailure(t *testing.T) {
	r := sensor.NewFakeRanger(100)
	r.InitError = sensor.ErrWrongDevice
	d := devices{ranger: r, thermo: &sensor.FakeThermometer{}, adc: &sensor.FakeADC{}}

	err := startSensors(d, config.DistanceConfig{TimingBudgetMs: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, sensor.ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	if r.Ranging {
		t.Error("ranging must not start after init failure")
	}
}

func TestOpenSinksStdout(t *testing.T) {
	var buf bytes.Buffer
	sinks, err := openSinks(config.TelemetryConfig{Stdout: true}, false, &buf)
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	if len(sinks) != 1 {
		t.Fatalf("expected 1 sink, got %d", len(sinks))
	}
	sinks.WriteRecord(logic.Record{DistanceMM: 120, State: logic.StateActive})
	if got := buf.String(); got != "MEAS:120,0,0.000000,0.000000,0.000000,1\n" {
		t.Errorf("unexpected line: %q", got)
	}
}

func TestOpenSinksDashboard(t *testing.T) {
	var buf bytes.Buffer
	sinks, err := openSinks(config.TelemetryConfig{Stdout: true}, true, &buf)
	if err != nil {
		t.Fatalf("openSinks: %v", err)
	}
	if len(sinks) != 1 {
		t.Fatalf("expected 1 sink, got %d", len(sinks))
	}
	if _, ok := sinks[0].(*display.Dashboard); !ok {
		t.Errorf("expected dashboard sink, got %T", sinks[0])
	}
}

func TestOpenSinksSerialFailure(t *testing.T) {
	_, err := openSinks(config.TelemetryConfig{SerialPort: "/dev/does-not-exist", BaudRate: 115200}, false, io.Discard)
	if err == nil {
		t.Error("expected error for missing serial port")
	}
}

func TestPrintState(t *testing.T) {
	r := sensor.NewFakeRanger(120)
	r.NotReady = 2
	acq := acquire.New(r, &sensor.FakeThermometer{Ambient: 20, Object: 25}, &sensor.FakeADC{Raw: 5}, logic.DefaultThresholds().InRange, nil)

	var buf bytes.Buffer
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := printState(&buf, acq, now, func(time.Duration) {}, time.Second); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "Distance: 120 mm, ADC: 5, Ambient: 20.00 C, Object: 25.00 C\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrintStateSkipsOutOfRange(t *testing.T) {
	r := sensor.NewFakeRanger(30, 120)
	acq := acquire.New(r, &sensor.FakeThermometer{Ambient: 20, Object: 25}, &sensor.FakeADC{Raw: 5}, logic.DefaultThresholds().InRange, nil)

	var buf bytes.Buffer
	slept := 0
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := printState(&buf, acq, now, func(time.Duration) { slept++ }, time.Second); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "Distance: 120 mm, ADC: 5, Ambient: 20.00 C, Object: 25.00 C\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if slept != 1 {
		t.Errorf("expected one retry after the discarded sample, got %d", slept)
	}
}

func TestPrintStateOutOfRangeTimeout(t *testing.T) {
	r := sensor.NewFakeRanger(30)
	acq := acquire.New(r, &sensor.FakeThermometer{}, &sensor.FakeADC{}, logic.DefaultThresholds().InRange, nil)

	var buf bytes.Buffer
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sleep := func(d time.Duration) { clock.Advance(d) }
	if err := printState(&buf, acq, clock.Now, sleep, 100*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
	if buf.Len() != 0 {
		t.Errorf("out-of-range sample must not be printed, got %q", buf.String())
	}
}

func TestPrintStateTimeout(t *testing.T) {
	r := sensor.NewFakeRanger(120)
	r.NotReady = 1 << 30
	acq := acquire.New(r, &sensor.FakeThermometer{}, &sensor.FakeADC{}, nil, nil)

	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sleep := func(d time.Duration) { clock.Advance(d) }
	if err := printState(io.Discard, acq, clock.Now, sleep, 100*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}

// fakeClock is safe to read from the loop goroutine while the test advances it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// harness wires a daemon to fakes and drives runLoop through its channels.
type harness struct {
	ranger  *sensor.FakeRanger
	thermo  *sensor.FakeThermometer
	adc     *sensor.FakeADC
	sink    *telemetry.FakeSink
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	clock   *fakeClock
	d       *daemon

	ready chan struct{}
	tick  chan time.Time
	sig   chan os.Signal
	done  chan error
}

func newHarness(distances ...int) *harness {
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	h := &harness{
		ranger:  sensor.NewFakeRanger(distances...),
		thermo:  &sensor.FakeThermometer{Ambient: 20, Object: 25},
		adc:     &sensor.FakeADC{Raw: 1234},
		sink:    telemetry.NewFakeSink(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(clock.Now(), status.Config{}),
		clock:   clock,
		ready:   make(chan struct{}),
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal),
		done:    make(chan error, 1),
	}
	h.pub.Connected = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meter := logic.NewMeter(logic.DefaultThresholds(), clock.Now())
	h.d = &daemon{
		acq:        acquire.New(h.ranger, h.thermo, h.adc, meter.InRange, logger),
		meter:      meter,
		sink:       h.sink,
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		edges:      func() uint64 { return 42 },
		now:        clock.Now,
		logger:     logger,
	}
	return h
}

func (h *harness) start() {
	go func() {
		h.done <- h.d.runLoop(h.ready, h.tick, h.sig)
	}()
}

func (h *harness) cycles(n int) {
	for i := 0; i < n; i++ {
		h.ready <- struct{}{}
	}
}

func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func TestRunLoopPumpingAccrues(t *testing.T) {
	h := newHarness(100, 90, 500, 80)
	h.start()
	h.cycles(4)
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 3 {
		t.Fatalf("expected 3 records (one discarded), got %d", len(h.sink.Records))
	}
	wantStates := []logic.PumpState{logic.StateInactive, logic.StateActive, logic.StateActive}
	for i, rec := range h.sink.Records {
		if rec.State != wantStates[i] {
			t.Errorf("record %d: got %s, want %s", i, rec.State, wantStates[i])
		}
	}
	total := h.sink.Records[2].TotalLiters
	if math.Abs(total-2*0.019635) > 1e-9 {
		t.Errorf("total: got %v, want %v", total, 2*0.019635)
	}
	if h.sink.Lines[1] != "MEAS:90,1234,20.000000,25.000000,0.019635,1" {
		t.Errorf("unexpected line: %q", h.sink.Lines[1])
	}
	if h.ranger.Cleared != 4 {
		t.Errorf("expected interrupt cleared every cycle, got %d", h.ranger.Cleared)
	}

	if h.pub.RecordCount() != 3 {
		t.Errorf("expected 3 published records, got %d", h.pub.RecordCount())
	}

	snap := h.tracker.Snapshot()
	if snap.Counts.Records != 3 || snap.Counts.Discarded != 1 || snap.Counts.Active != 2 {
		t.Errorf("tracker counts: %+v", snap.Counts)
	}
	if snap.IRQEdges != 42 {
		t.Errorf("tracker edges: got %d, want 42", snap.IRQEdges)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should reflect MQTT connection")
	}
}

func TestRunLoopADCFailureFlagged(t *testing.T) {
	h := newHarness(100, 90)
	h.adc.ReadError = sensor.ErrADCRead
	h.start()
	h.cycles(2)
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(h.sink.Records))
	}
	rec := h.sink.Records[1]
	if rec.ADCValid {
		t.Error("expected ADCValid=false")
	}
	if rec.State != logic.StateActive {
		t.Errorf("ADC failure must not affect classification, got %s", rec.State)
	}
	if !strings.HasPrefix(h.sink.Lines[1], "MEAS:90,0,") {
		t.Errorf("expected zero ADC field, got %q", h.sink.Lines[1])
	}
}

func TestRunLoopTemperatureFailureAbortsCycle(t *testing.T) {
	h := newHarness(100, 90)
	h.thermo.ReadError = errors.New("pec mismatch")
	h.start()
	h.cycles(2)
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 0 {
		t.Errorf("expected no records, got %d", len(h.sink.Records))
	}
	if h.d.meter.IsBaselined() {
		t.Error("aborted cycles must not establish a baseline")
	}
}

func TestRunLoopNotReadyIgnored(t *testing.T) {
	h := newHarness(100)
	h.ranger.NotReady = 1
	h.start()
	h.cycles(2)
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(h.sink.Records))
	}
	if h.ranger.Cleared != 1 {
		t.Errorf("interrupt should only be cleared on a ready result, got %d", h.ranger.Cleared)
	}
}

func TestRunLoopSinkErrorContinues(t *testing.T) {
	h := newHarness(100, 90)
	h.sink.WriteError = errors.New("modem unplugged")
	h.pub.PublishError = errors.New("broker gone")
	h.start()
	h.cycles(2)
	h.stop(t, syscall.SIGTERM)

	if h.d.meter.CountsSnapshot().Records != 2 {
		t.Errorf("loop should keep metering, got %+v", h.d.meter.CountsSnapshot())
	}
}

func TestRunLoopTickPolls(t *testing.T) {
	h := newHarness(100, 90)
	h.start()
	h.tick <- h.clock.Now()
	h.tick <- h.clock.Now()
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 2 {
		t.Errorf("expected tick to run cycles, got %d records", len(h.sink.Records))
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(100, 90)
	h.d.heartbeat = 15 * time.Minute
	h.ranger.NotReady = 1 << 30
	h.start()

	h.tick <- h.clock.Now()
	h.clock.Advance(15 * time.Minute)
	h.tick <- h.clock.Now()
	h.stop(t, syscall.SIGTERM)

	names := h.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("expected HEARTBEAT then SHUTDOWN, got %v", names)
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if payload.Status.Event != "HEARTBEAT" {
		t.Errorf("payload event: got %q", payload.Status.Event)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.64.0.7")

	h := newHarness(100)
	h.d.heartbeat = time.Minute
	h.ranger.NotReady = 1 << 30
	h.start()
	h.clock.Advance(time.Minute)
	h.tick <- h.clock.Now()
	h.stop(t, syscall.SIGTERM)

	var payload status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if payload.Status.Network == nil || payload.Status.Network.IP != "10.64.0.7" {
		t.Errorf("expected network info in heartbeat, got %+v", payload.Status.Network)
	}
}

func TestRunLoopShutdownReason(t *testing.T) {
	for _, tt := range []struct {
		sig    os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		h := newHarness(100)
		h.start()
		h.stop(t, tt.sig)

		if len(h.pub.SystemEvents) != 1 {
			t.Fatalf("%s: expected 1 system event, got %d", tt.reason, len(h.pub.SystemEvents))
		}
		e := h.pub.SystemEvents[0]
		if e.Event != "SHUTDOWN" || e.Reason != tt.reason || !e.Retained {
			t.Errorf("%s: unexpected event %+v", tt.reason, e)
		}
		var payload status.StatusJSON
		if err := json.Unmarshal(h.pub.SystemPayloads[0], &payload); err != nil {
			t.Fatalf("invalid shutdown payload: %v", err)
		}
		if payload.Status.Reason != tt.reason {
			t.Errorf("payload reason: got %q, want %q", payload.Status.Reason, tt.reason)
		}
	}
}

func TestRunLoopWithoutMQTT(t *testing.T) {
	h := newHarness(100, 90)
	h.d.publisher = nil
	h.d.mqttStatus = nil
	h.d.tracker = nil
	h.d.heartbeat = time.Minute
	h.start()
	h.cycles(2)
	h.clock.Advance(time.Minute)
	h.tick <- h.clock.Now()
	h.stop(t, syscall.SIGTERM)

	if len(h.sink.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(h.sink.Records))
	}
	if h.pub.RecordCount() != 0 || len(h.pub.SystemEvents) != 0 {
		t.Error("nothing should reach a detached publisher")
	}
}
