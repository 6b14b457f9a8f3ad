package sensor

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
)

// MLX90614 RAM and EEPROM addresses (SMBus commands).
const (
	mlxRegAmbient    = 0x06
	mlxRegObject1    = 0x07
	mlxRegEmissivity = 0x24 // EEPROM 0x04
)

// pecTable is the SMBus PEC: polynomial x^8+x^2+x+1, initial value zero.
var pecTable = crc8.MakeTable(crc8.CRC8)

// ErrPEC is returned when the packet error code does not match.
var ErrPEC = errors.New("mlx90614: packet error code mismatch")

// MLX90614 is an infrared thermometer.
type MLX90614 struct {
	dev i2c.Dev
}

// NewMLX90614 returns a driver for the thermometer at addr on bus.
func NewMLX90614(bus i2c.Bus, addr uint16) *MLX90614 {
	return &MLX90614{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Init checks that the device answers with a valid ambient reading.
func (m *MLX90614) Init() error {
	if _, err := m.AmbientC(); err != nil {
		return fmt.Errorf("mlx90614 init: %w", err)
	}
	return nil
}

// AmbientC returns the die temperature in degrees Celsius.
func (m *MLX90614) AmbientC() (float64, error) {
	return m.readTemp(mlxRegAmbient)
}

// ObjectC returns the object temperature in degrees Celsius.
func (m *MLX90614) ObjectC() (float64, error) {
	return m.readTemp(mlxRegObject1)
}

// Emissivity returns the configured emissivity in the range 0.1 to 1.
func (m *MLX90614) Emissivity() (float64, error) {
	raw, err := m.readWord(mlxRegEmissivity)
	if err != nil {
		return 0, err
	}
	return float64(raw) / 65535, nil
}

func (m *MLX90614) readTemp(reg byte) (float64, error) {
	raw, err := m.readWord(reg)
	if err != nil {
		return 0, err
	}
	if raw&0x8000 != 0 {
		return 0, fmt.Errorf("mlx90614 register 0x%02x: error flag set (0x%04x)", reg, raw)
	}
	return float64(raw)*0.02 - 273.15, nil
}

// readWord performs an SMBus read word and verifies the trailing PEC byte.
func (m *MLX90614) readWord(reg byte) (uint16, error) {
	var r [3]byte
	if err := m.dev.Tx([]byte{reg}, r[:]); err != nil {
		return 0, fmt.Errorf("mlx90614 read 0x%02x: %w", reg, err)
	}
	addr := byte(m.dev.Addr << 1)
	if pec := crc8.Checksum([]byte{addr, reg, addr | 1, r[0], r[1]}, pecTable); pec != r[2] {
		return 0, fmt.Errorf("register 0x%02x: %w (got 0x%02x, want 0x%02x)", reg, ErrPEC, r[2], pec)
	}
	return uint16(r[0]) | uint16(r[1])<<8, nil
}
