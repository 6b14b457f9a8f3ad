// Package config loads the handpump-sensor daemon configuration from YAML.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/handpump-sensor/internal/irq"
	"github.com/sweeney/handpump-sensor/internal/logic"
	"github.com/sweeney/handpump-sensor/internal/sensor"
	"github.com/sweeney/handpump-sensor/internal/telemetry"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/handpump-sensor/config.yaml"

// Config represents the daemon configuration.
type Config struct {
	I2C         I2CConfig        `yaml:"i2c"`
	Distance    DistanceConfig   `yaml:"distance"`
	Temperature DeviceConfig     `yaml:"temperature"`
	ADC         DeviceConfig     `yaml:"adc"`
	Thresholds  ThresholdsConfig `yaml:"thresholds"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	HTTP        HTTPConfig       `yaml:"http"`
	Heartbeat   time.Duration    `yaml:"heartbeat"` // 0 disables heartbeat events
	Log         LogConfig        `yaml:"log"`
}

// I2CConfig selects the bus shared by all three peripherals.
type I2CConfig struct {
	Bus string `yaml:"bus"` // empty selects the first bus found
}

// DistanceConfig configures the VL53L4CD and its GPIO lines.
type DistanceConfig struct {
	Address            uint16 `yaml:"address"`
	TimingBudgetMs     int    `yaml:"timing_budget_ms"`
	InterMeasurementMs int    `yaml:"inter_measurement_ms"` // 0 = continuous
	GPIOChip           string `yaml:"gpio_chip"`
	IRQPin             int    `yaml:"irq_pin"`
	XShutPin           int    `yaml:"xshut_pin"`      // negative = not wired
	DefaultConfig      string `yaml:"default_config"` // hex blob replacing the built-in 0x2D table
}

// DeviceConfig holds the bus address of a simple I2C peripheral.
type DeviceConfig struct {
	Address uint16 `yaml:"address"`
}

// ThresholdsConfig mirrors logic.Thresholds.
type ThresholdsConfig struct {
	DistanceMM    int     `yaml:"distance_mm"`
	TemperatureC  float64 `yaml:"temperature_c"`
	MinWaterTempC float64 `yaml:"min_water_temp_c"`
	MaxWaterTempC float64 `yaml:"max_water_temp_c"`
	MinDistanceMM int     `yaml:"min_distance_mm"`
	MaxDistanceMM int     `yaml:"max_distance_mm"`
	BoreAreaMM2   float64 `yaml:"bore_area_mm2"`
}

// TelemetryConfig selects where MEAS lines go.
type TelemetryConfig struct {
	SerialPort string `yaml:"serial_port"` // empty disables the serial sink
	BaudRate   int    `yaml:"baud_rate"`
	Stdout     bool   `yaml:"stdout"`
}

// MQTTConfig configures the optional record mirror.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables MQTT
	ClientID string `yaml:"client_id"`
	WSBroker string `yaml:"ws_broker"` // "=broker", "off" or a ws:// URL
}

// HTTPConfig configures the status page.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a default configuration matching the reference hardware.
func Default() *Config {
	th := logic.DefaultThresholds()
	return &Config{
		Distance: DistanceConfig{
			Address:        sensor.AddrVL53L4CD,
			TimingBudgetMs: 100,
			GPIOChip:       irq.DefaultChip,
			IRQPin:         irq.DefaultPinIRQ,
			XShutPin:       irq.DefaultPinXShut,
		},
		Temperature: DeviceConfig{Address: sensor.AddrMLX90614},
		ADC:         DeviceConfig{Address: sensor.AddrMCP3425},
		Thresholds: ThresholdsConfig{
			DistanceMM:    th.DistanceMM,
			TemperatureC:  th.TemperatureC,
			MinWaterTempC: th.MinWaterTempC,
			MaxWaterTempC: th.MaxWaterTempC,
			MinDistanceMM: th.MinDistanceMM,
			MaxDistanceMM: th.MaxDistanceMM,
			BoreAreaMM2:   th.BoreAreaMM2,
		},
		Telemetry: TelemetryConfig{
			BaudRate: telemetry.DefaultBaudRate,
			Stdout:   true,
		},
		MQTT: MQTTConfig{
			ClientID: "handpump-sensor",
			WSBroker: "=broker",
		},
		HTTP:      HTTPConfig{Addr: ":80"},
		Heartbeat: 15 * time.Minute,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults, and keys absent from the file keep their defaults. Explicit
// zeros are kept except where zero can never be valid.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero values that are never meaningful.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Distance.Address == 0 {
		c.Distance.Address = def.Distance.Address
	}
	if c.Distance.TimingBudgetMs == 0 {
		c.Distance.TimingBudgetMs = def.Distance.TimingBudgetMs
	}
	if c.Distance.GPIOChip == "" {
		c.Distance.GPIOChip = def.Distance.GPIOChip
	}
	if c.Temperature.Address == 0 {
		c.Temperature.Address = def.Temperature.Address
	}
	if c.ADC.Address == 0 {
		c.ADC.Address = def.ADC.Address
	}

	// Zero is a usable threshold and lower bound, so only the upper
	// bounds and the bore area fall back here.
	if c.Thresholds.MaxWaterTempC == 0 {
		c.Thresholds.MaxWaterTempC = def.Thresholds.MaxWaterTempC
	}
	if c.Thresholds.MaxDistanceMM == 0 {
		c.Thresholds.MaxDistanceMM = def.Thresholds.MaxDistanceMM
	}
	if c.Thresholds.BoreAreaMM2 == 0 {
		c.Thresholds.BoreAreaMM2 = def.Thresholds.BoreAreaMM2
	}

	if c.Telemetry.BaudRate == 0 {
		c.Telemetry.BaudRate = def.Telemetry.BaudRate
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate reports every setting the hardware cannot honour.
func (c *Config) Validate() error {
	var errs []error

	for name, addr := range map[string]uint16{
		"distance":    c.Distance.Address,
		"temperature": c.Temperature.Address,
		"adc":         c.ADC.Address,
	} {
		if addr < 0x03 || addr > 0x77 {
			errs = append(errs, fmt.Errorf("%s address 0x%02X outside 7-bit range", name, addr))
		}
	}

	if c.Distance.TimingBudgetMs < 10 || c.Distance.TimingBudgetMs > 200 {
		errs = append(errs, fmt.Errorf("timing_budget_ms %d outside [10, 200]", c.Distance.TimingBudgetMs))
	}
	if c.Distance.InterMeasurementMs != 0 && c.Distance.InterMeasurementMs <= c.Distance.TimingBudgetMs {
		errs = append(errs, fmt.Errorf("inter_measurement_ms %d must be 0 or greater than timing_budget_ms", c.Distance.InterMeasurementMs))
	}
	if _, err := c.Distance.DefaultConfigBytes(); err != nil {
		errs = append(errs, err)
	}

	t := c.Thresholds
	if t.DistanceMM < 0 || t.TemperatureC < 0 {
		errs = append(errs, errors.New("thresholds must not be negative"))
	}
	if t.MinWaterTempC >= t.MaxWaterTempC {
		errs = append(errs, fmt.Errorf("min_water_temp_c %v must be below max_water_temp_c %v", t.MinWaterTempC, t.MaxWaterTempC))
	}
	if t.MinDistanceMM >= t.MaxDistanceMM {
		errs = append(errs, fmt.Errorf("min_distance_mm %d must be below max_distance_mm %d", t.MinDistanceMM, t.MaxDistanceMM))
	}
	if t.BoreAreaMM2 <= 0 {
		errs = append(errs, fmt.Errorf("bore_area_mm2 %v must be positive", t.BoreAreaMM2))
	}

	if c.Telemetry.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate %d must be positive", c.Telemetry.BaudRate))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat %v must not be negative", c.Heartbeat))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (allowed: text, json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// LogicThresholds converts the thresholds section for the meter.
func (c *Config) LogicThresholds() logic.Thresholds {
	th := logic.DefaultThresholds()
	th.DistanceMM = c.Thresholds.DistanceMM
	th.TemperatureC = c.Thresholds.TemperatureC
	th.MinWaterTempC = c.Thresholds.MinWaterTempC
	th.MaxWaterTempC = c.Thresholds.MaxWaterTempC
	th.MinDistanceMM = c.Thresholds.MinDistanceMM
	th.MaxDistanceMM = c.Thresholds.MaxDistanceMM
	th.BoreAreaMM2 = c.Thresholds.BoreAreaMM2
	return th
}

// DefaultConfigBytes decodes the optional VL53L4CD configuration blob.
func (d DistanceConfig) DefaultConfigBytes() ([]byte, error) {
	s := strings.Join(strings.Fields(d.DefaultConfig), "")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("default_config: %w", err)
	}
	return b, nil
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}
