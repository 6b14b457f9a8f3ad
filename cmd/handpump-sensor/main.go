// Command handpump-sensor measures the water pumped by a hand pump and
// emits one MEAS telemetry line per measurement cycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/handpump-sensor/internal/acquire"
	"github.com/sweeney/handpump-sensor/internal/config"
	"github.com/sweeney/handpump-sensor/internal/display"
	"github.com/sweeney/handpump-sensor/internal/irq"
	"github.com/sweeney/handpump-sensor/internal/logging"
	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/mqtt"
	"github.com/sweeney/handpump-sensor/internal/sensor"
	"github.com/sweeney/handpump-sensor/internal/status"
	"github.com/sweeney/handpump-sensor/internal/telemetry"
	"github.com/sweeney/handpump-sensor/internal/web"
)

// pollInterval drives heartbeat checks and recovers from a missed IRQ edge,
// which would otherwise leave the sensor's interrupt uncleared.
const pollInterval = time.Second

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	if opts.listPorts {
		ports, err := telemetry.Ports()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.Log.Level)
	color := os.Getenv("TERM") != "" && os.Getenv("NO_COLOR") == ""
	// stdout carries telemetry, so logs go to stderr.
	logger := logging.New(os.Stderr, level, cfg.Log.Format, color)
	slog.SetDefault(logger)

	// A non-zero exit lets systemd restart the node after an init failure.
	if err := run(cfg, opts, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// options holds the command line. Flags that mirror config keys are only
// applied when given explicitly.
type options struct {
	configPath string
	printState bool
	display    bool
	listPorts  bool
	overrides  map[string]string
}

var overridable = map[string]bool{
	"broker":    true,
	"ws-broker": true,
	"http":      true,
	"serial":    true,
	"log-level": true,
	"heartbeat": true,
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("handpump-sensor", flag.ContinueOnError)

	var o options
	fs.StringVar(&o.configPath, "config", config.DefaultPath, "YAML config file (missing file uses defaults)")
	fs.BoolVar(&o.printState, "print-state", false, "Take one measurement, print it and exit")
	fs.BoolVar(&o.display, "display", false, "Draw an ANSI dashboard on stdout instead of MEAS lines")
	fs.BoolVar(&o.listPorts, "list-ports", false, "List serial ports and exit")
	fs.String("broker", "", "MQTT broker address (empty disables MQTT)")
	fs.String("ws-broker", "", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	fs.String("http", "", "HTTP status address (empty to disable)")
	fs.String("serial", "", "Serial port for MEAS lines (empty to disable)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.Duration("heartbeat", 0, "Heartbeat interval (0 to disable)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o.overrides = make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		if overridable[f.Name] {
			o.overrides[f.Name] = f.Value.String()
		}
	})
	return o, nil
}

// apply writes explicit flag values over the loaded config.
func (o options) apply(cfg *config.Config) error {
	for name, v := range o.overrides {
		switch name {
		case "broker":
			cfg.MQTT.Broker = v
		case "ws-broker":
			cfg.MQTT.WSBroker = v
		case "http":
			cfg.HTTP.Addr = v
		case "serial":
			cfg.Telemetry.SerialPort = v
		case "log-level":
			cfg.Log.Level = v
		case "heartbeat":
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			cfg.Heartbeat = d
		}
	}
	return nil
}

func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := o.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// devices groups the three peripherals sharing the I2C bus.
type devices struct {
	ranger sensor.Ranger
	thermo sensor.Thermometer
	adc    sensor.ADC
}

// startSensors brings the peripherals up in the order the hardware needs:
// thermometer, ADC, then the ranger, which is left ranging.
func startSensors(d devices, dist config.DistanceConfig, logger *slog.Logger) error {
	if err := d.thermo.Init(); err != nil {
		return fmt.Errorf("init thermometer: %w", err)
	}
	if e, err := d.thermo.Emissivity(); err != nil {
		logger.Warn("read emissivity", "err", err)
	} else {
		logger.Info("thermometer ready", "emissivity", e)
	}

	if err := d.adc.Init(); err != nil {
		return fmt.Errorf("init adc: %w", err)
	}

	if err := d.ranger.Off(); err != nil {
		return fmt.Errorf("power off ranger: %w", err)
	}
	if err := d.ranger.Init(); err != nil {
		return fmt.Errorf("init ranger: %w", err)
	}
	if err := d.ranger.SetRangeTiming(dist.TimingBudgetMs, dist.InterMeasurementMs); err != nil {
		return fmt.Errorf("set range timing: %w", err)
	}
	if err := d.ranger.StartRanging(); err != nil {
		return fmt.Errorf("start ranging: %w", err)
	}
	logger.Info("ranger started", "budget_ms", dist.TimingBudgetMs, "inter_ms", dist.InterMeasurementMs)
	return nil
}

func run(cfg *config.Config, opts options, logger *slog.Logger) error {
	bus, err := sensor.OpenBus(cfg.I2C.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	var xshut sensor.Shutdown
	if cfg.Distance.XShutPin >= 0 {
		out, err := irq.RequestOutput(cfg.Distance.GPIOChip, cfg.Distance.XShutPin, 0)
		if err != nil {
			return fmt.Errorf("init xshut: %w", err)
		}
		defer out.Close()
		xshut = out
	}

	defaultConfig, _ := cfg.Distance.DefaultConfigBytes()
	devs := devices{
		ranger: sensor.NewVL53L4CD(bus, sensor.VL53L4CDOpts{
			Addr:          cfg.Distance.Address,
			XShut:         xshut,
			DefaultConfig: defaultConfig,
		}),
		thermo: sensor.NewMLX90614(bus, cfg.Temperature.Address),
		adc:    sensor.NewMCP3425(bus, cfg.ADC.Address),
	}
	if err := startSensors(devs, cfg.Distance, logger); err != nil {
		return err
	}
	defer devs.ranger.StopRanging()

	meter := logic.NewMeter(cfg.LogicThresholds(), time.Now())
	acq := acquire.New(devs.ranger, devs.thermo, devs.adc, meter.InRange, logger)

	if opts.printState {
		return printState(os.Stdout, acq, time.Now, time.Sleep, 2*time.Second)
	}

	sig := irq.NewSignal()
	line, err := irq.RequestLine(cfg.Distance.GPIOChip, cfg.Distance.IRQPin, sig)
	if err != nil {
		return fmt.Errorf("init irq: %w", err)
	}
	defer line.Close()

	sink, err := openSinks(cfg.Telemetry, opts.display, os.Stdout)
	if err != nil {
		return err
	}
	defer sink.Close()

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			logger.Warn("mqtt disabled", "err", err)
		} else {
			defer p.Close()
			publisher = p
			mqttStatus = p
		}
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsBroker := resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker, logger)
	tracker := status.NewTracker(time.Now(), status.Config{
		TimingBudgetMs: cfg.Distance.TimingBudgetMs,
		HeartbeatMs:    cfg.Heartbeat.Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		HTTPPort:       cfg.HTTP.Addr,
		SerialPort:     cfg.Telemetry.SerialPort,
		WSBroker:       wsBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			logger.Warn("failed to publish startup event", "err", err)
		} else {
			logger.Info("published startup event")
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"irq_pin", cfg.Distance.IRQPin,
		"serial", cfg.Telemetry.SerialPort,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		acq:        acq,
		meter:      meter,
		sink:       sink,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		edges:      sig.Edges,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
		logger:     logger,
	}
	return d.runLoop(sig.C(), ticker.C, sigCh)
}

// openSinks builds the telemetry outputs. With dashboard set, stdout shows
// the ANSI screen instead of raw lines.
func openSinks(cfg config.TelemetryConfig, dashboard bool, stdout io.Writer) (telemetry.MultiSink, error) {
	var sinks telemetry.MultiSink

	switch {
	case dashboard:
		sinks = append(sinks, display.New(stdout))
	case cfg.Stdout:
		// Hide any Close method so stdout stays open.
		sinks = append(sinks, telemetry.NewWriterSink(struct{ io.Writer }{stdout}))
	}

	if cfg.SerialPort != "" {
		s, err := telemetry.NewSerialSink(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// printState waits up to timeout for one in-range sample and prints it.
func printState(w io.Writer, acq *acquire.Acquirer, now func() time.Time, sleep func(time.Duration), timeout time.Duration) error {
	deadline := now().Add(timeout)
	for {
		s, err := acq.Acquire(now())
		switch {
		case err == nil && acq.InRange(s.DistanceMM):
		case err == nil, errors.Is(err, acquire.ErrNotReady):
			// Not ready, or out of range and so missing its other readings.
			if now().After(deadline) {
				return errors.New("no in-range measurement before timeout")
			}
			sleep(10 * time.Millisecond)
			continue
		default:
			return err
		}

		adc := "n/a"
		if s.ADCValid {
			adc = fmt.Sprintf("%d", s.ADCRaw)
		}
		fmt.Fprintf(w, "Distance: %d mm, ADC: %s, Ambient: %.2f C, Object: %.2f C\n",
			s.DistanceMM, adc, s.AmbientC, s.ObjectC)
		return nil
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws-broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or
// no broker disables.
func resolveWSBroker(ws, broker string, logger *slog.Logger) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		logger.Warn("ws-broker: cannot parse broker", "broker", broker, "err", err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
