package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const (
	mcpConfigContinuous12 = 0x10 // RDY=0, continuous conversion, 240 SPS (12-bit), PGA x1

	adcMax    = 2047
	adcAdjust = 4095
)

// MCP3425 is a single-channel delta-sigma ADC.
type MCP3425 struct {
	dev i2c.Dev
}

// NewMCP3425 returns a driver for the ADC at addr on bus.
func NewMCP3425(bus i2c.Bus, addr uint16) *MCP3425 {
	return &MCP3425{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Init selects continuous 12-bit conversion.
func (m *MCP3425) Init() error {
	if err := m.dev.Tx([]byte{mcpConfigContinuous12}, nil); err != nil {
		return fmt.Errorf("mcp3425 config: %w", err)
	}
	return nil
}

// ReadRaw reads the latest conversion.
func (m *MCP3425) ReadRaw() (int, error) {
	var r [2]byte
	if err := m.dev.Tx(nil, r[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrADCRead, err)
	}
	return ConvertADC(r[0], r[1]), nil
}

// ConvertADC turns the two output bytes into a signed 12-bit value.
// Codes above 2047 are negative and are shifted down by 4095.
func ConvertADC(msb, lsb byte) int {
	raw := int(msb&0x0F)<<8 | int(lsb)
	if raw > adcMax {
		raw -= adcAdjust
	}
	return raw
}
