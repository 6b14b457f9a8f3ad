package sensor

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// VL53L4CD register map (16-bit addresses, big-endian data).
const (
	vlRegOscFreq             = 0x0006
	vlRegVHVTimeoutLoopBound = 0x0008
	vlRegVHVRefSel           = 0x000B
	vlRegVHVConfigInit       = 0x0024
	vlRegDefaultConfigStart  = 0x002D
	vlRegGPIOHVMuxCtrl       = 0x0030
	vlRegGPIOTioHVStatus     = 0x0031
	vlRegRangeConfigA        = 0x005E
	vlRegRangeConfigB        = 0x0061
	vlRegIntermeasurementMs  = 0x006C
	vlRegInterruptClear      = 0x0086
	vlRegSystemStart         = 0x0087
	vlRegResultRangeStatus   = 0x0089
	vlRegResultSignalRate    = 0x008E
	vlRegResultSigma         = 0x0092
	vlRegResultDistance      = 0x0096
	vlRegOscCalibrateVal     = 0x00DE
	vlRegFirmwareStatus      = 0x00E5
	vlRegModelID             = 0x010F
)

const (
	vlModelID         = 0xEBAA
	vlBooted          = 0x03
	vlStartContinuous = 0x21
	vlStartAutonomous = 0x40
	vlStop            = 0x80

	vlMinBudgetMs = 10
	vlMaxBudgetMs = 200
)

// vlStatusMap translates the raw range status into the user-manual codes.
// 255 marks codes the device never reports.
var vlStatusMap = [24]uint8{
	255, 255, 255, 5, 2, 4, 1, 7, 3, 0,
	255, 255, 9, 13, 255, 255, 255, 255, 10, 6,
	255, 255, 11, 12,
}

// vlDefaultConfig is ST's register table for 0x2D..0x87. It selects the
// active-low new-sample interrupt on GPIO1, the I2C and GPIO pull-ups, the
// sigma and signal limits, and leaves ranging stopped.
var vlDefaultConfig = []byte{
	0x12, 0x00, 0x00, 0x11, 0x02, 0x00, 0x02, 0x08, // 0x2D
	0x00, 0x08, 0x10, 0x01, 0x01, 0x00, 0x00, 0x00, // 0x35
	0x00, 0xFF, 0x00, 0x0F, 0x00, 0x00, 0x00, 0x00, // 0x3D
	0x00, 0x20, 0x0B, 0x00, 0x00, 0x02, 0x14, 0x21, // 0x45
	0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0xC8, // 0x4D
	0x00, 0x00, 0x38, 0xFF, 0x01, 0x00, 0x08, 0x00, // 0x55
	0x00, 0x01, 0xCC, 0x07, 0x01, 0xF1, 0x05, 0x00, // 0x5D
	0xA0, 0x00, 0x80, 0x08, 0x38, 0x00, 0x00, 0x00, // 0x65
	0x00, 0x0F, 0x89, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x6D
	0x00, 0x00, 0x01, 0x07, 0x05, 0x06, 0x06, 0x00, // 0x75
	0x00, 0x02, 0xC7, 0xFF, 0x9B, 0x00, 0x00, 0x00, // 0x7D
	0x01, 0x00, 0x00,                               // 0x85
}

// Shutdown drives the sensor's XSHUT pin. irq.OutputLine satisfies it.
type Shutdown interface {
	SetValue(v int) error
}

// VL53L4CDOpts configures the distance sensor driver.
type VL53L4CDOpts struct {
	Addr uint16
	// XShut, when set, is pulsed to power-cycle the sensor.
	XShut Shutdown
	// DefaultConfig replaces the built-in register table written from 0x2D
	// on Init.
	DefaultConfig []byte
	// Timeout bounds the boot and VHV waits.
	Timeout time.Duration
	// Sleep is used between polls; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// VL53L4CD is a time-of-flight ranging sensor.
type VL53L4CD struct {
	dev           i2c.Dev
	xshut         Shutdown
	defaultConfig []byte
	timeout       time.Duration
	sleep         func(time.Duration)
}

// NewVL53L4CD returns a driver for the sensor on bus.
func NewVL53L4CD(bus i2c.Bus, opts VL53L4CDOpts) *VL53L4CD {
	if opts.Addr == 0 {
		opts.Addr = AddrVL53L4CD
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if len(opts.DefaultConfig) == 0 {
		opts.DefaultConfig = vlDefaultConfig
	}
	return &VL53L4CD{
		dev:           i2c.Dev{Bus: bus, Addr: opts.Addr},
		xshut:         opts.XShut,
		defaultConfig: opts.DefaultConfig,
		timeout:       opts.Timeout,
		sleep:         opts.Sleep,
	}
}

// Off holds the sensor in shutdown. It is a no-op without an XSHUT line.
func (v *VL53L4CD) Off() error {
	if v.xshut == nil {
		return nil
	}
	if err := v.xshut.SetValue(0); err != nil {
		return fmt.Errorf("vl53l4cd xshut low: %w", err)
	}
	v.sleep(10 * time.Millisecond)
	return nil
}

// Init powers the sensor up, waits for boot, checks the model id, loads the
// default configuration, runs the VHV calibration, and sets a 50 ms budget.
func (v *VL53L4CD) Init() error {
	if v.xshut != nil {
		if err := v.xshut.SetValue(1); err != nil {
			return fmt.Errorf("vl53l4cd xshut high: %w", err)
		}
		v.sleep(10 * time.Millisecond)
	}

	if err := v.waitBoot(); err != nil {
		return err
	}

	id, err := v.readWord(vlRegModelID)
	if err != nil {
		return err
	}
	if id != vlModelID {
		return fmt.Errorf("vl53l4cd: %w 0x%04x", ErrWrongDevice, id)
	}

	if err := v.write(vlRegDefaultConfigStart, v.defaultConfig...); err != nil {
		return fmt.Errorf("vl53l4cd default config: %w", err)
	}

	// VHV calibration runs on the first ranging after boot.
	if err := v.writeByte(vlRegSystemStart, vlStartAutonomous); err != nil {
		return err
	}
	if err := v.waitDataReady(); err != nil {
		return err
	}
	if err := v.ClearInterrupt(); err != nil {
		return err
	}
	if err := v.StopRanging(); err != nil {
		return err
	}

	if err := v.writeByte(vlRegVHVTimeoutLoopBound, 0x09); err != nil {
		return err
	}
	if err := v.writeByte(vlRegVHVRefSel, 0x00); err != nil {
		return err
	}
	if err := v.writeWord(vlRegVHVConfigInit, 0x0500); err != nil {
		return err
	}

	return v.SetRangeTiming(50, 0)
}

// SetRangeTiming programs the timing budget and inter-measurement period.
// An inter-measurement period of zero selects continuous ranging.
func (v *VL53L4CD) SetRangeTiming(budgetMs, interMeasurementMs int) error {
	if budgetMs < vlMinBudgetMs || budgetMs > vlMaxBudgetMs {
		return fmt.Errorf("vl53l4cd: timing budget %dms outside [%d, %d]", budgetMs, vlMinBudgetMs, vlMaxBudgetMs)
	}
	if interMeasurementMs != 0 && interMeasurementMs < budgetMs {
		return fmt.Errorf("vl53l4cd: inter-measurement %dms shorter than budget %dms", interMeasurementMs, budgetMs)
	}

	osc, err := v.readWord(vlRegOscFreq)
	if err != nil {
		return err
	}
	if osc == 0 {
		return fmt.Errorf("vl53l4cd: oscillator frequency not set")
	}

	budgetUs := uint32(budgetMs) * 1000
	if interMeasurementMs == 0 {
		if err := v.writeDWord(vlRegIntermeasurementMs, 0); err != nil {
			return err
		}
		budgetUs -= 2500
	} else {
		pll, err := v.readWord(vlRegOscCalibrateVal)
		if err != nil {
			return err
		}
		pll &= 0x3FF
		period := uint32(1.055 * float64(interMeasurementMs) * float64(pll))
		if err := v.writeDWord(vlRegIntermeasurementMs, period); err != nil {
			return err
		}
		budgetUs -= 4300
		budgetUs /= 2
	}

	macroPeriodUs := (uint32(2304) * (uint32(0x40000000) / uint32(osc))) >> 6
	budgetUs <<= 12

	if err := v.writeWord(vlRegRangeConfigA, encodeTimeout(budgetUs, macroPeriodUs*16)); err != nil {
		return err
	}
	return v.writeWord(vlRegRangeConfigB, encodeTimeout(budgetUs, macroPeriodUs*12))
}

// encodeTimeout converts a budget into the register's mantissa/exponent form.
func encodeTimeout(budgetUs, period uint32) uint16 {
	p := period >> 6
	ls := (budgetUs+(p>>1))/p - 1
	var ms uint32
	for ls&0xFFFFFF00 > 0 {
		ls >>= 1
		ms++
	}
	return uint16(ms<<8 + ls&0xFF)
}

// StartRanging starts continuous or autonomous ranging depending on the
// programmed inter-measurement period.
func (v *VL53L4CD) StartRanging() error {
	inter, err := v.readDWord(vlRegIntermeasurementMs)
	if err != nil {
		return err
	}
	mode := byte(vlStartContinuous)
	if inter != 0 {
		mode = vlStartAutonomous
	}
	return v.writeByte(vlRegSystemStart, mode)
}

// StopRanging stops any ranging in progress.
func (v *VL53L4CD) StopRanging() error {
	return v.writeByte(vlRegSystemStart, vlStop)
}

// DataReady reports whether a new result is available.
func (v *VL53L4CD) DataReady() (bool, error) {
	mux, err := v.readByte(vlRegGPIOHVMuxCtrl)
	if err != nil {
		return false, err
	}
	polarity := byte(1)
	if mux&0x10 != 0 {
		polarity = 0
	}
	st, err := v.readByte(vlRegGPIOTioHVStatus)
	if err != nil {
		return false, err
	}
	return st&0x01 == polarity, nil
}

// ClearInterrupt re-arms the interrupt so the next measurement can start.
func (v *VL53L4CD) ClearInterrupt() error {
	return v.writeByte(vlRegInterruptClear, 0x01)
}

// Result reads the last ranging result.
func (v *VL53L4CD) Result() (RangeResult, error) {
	raw, err := v.readByte(vlRegResultRangeStatus)
	if err != nil {
		return RangeResult{}, err
	}
	raw &= 0x1F
	status := uint8(255)
	if int(raw) < len(vlStatusMap) {
		status = vlStatusMap[raw]
	}

	signal, err := v.readWord(vlRegResultSignalRate)
	if err != nil {
		return RangeResult{}, err
	}
	sigma, err := v.readWord(vlRegResultSigma)
	if err != nil {
		return RangeResult{}, err
	}
	dist, err := v.readWord(vlRegResultDistance)
	if err != nil {
		return RangeResult{}, err
	}

	return RangeResult{
		DistanceMM:     int(dist),
		Status:         status,
		SigmaMM:        int(sigma) / 4,
		SignalRateKcps: int(signal) * 8,
	}, nil
}

func (v *VL53L4CD) waitBoot() error {
	for waited := time.Duration(0); waited < v.timeout; waited += time.Millisecond {
		st, err := v.readByte(vlRegFirmwareStatus)
		if err == nil && st == vlBooted {
			return nil
		}
		v.sleep(time.Millisecond)
	}
	return fmt.Errorf("vl53l4cd boot: %w", ErrTimeout)
}

func (v *VL53L4CD) waitDataReady() error {
	for waited := time.Duration(0); waited < v.timeout; waited += time.Millisecond {
		ready, err := v.DataReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		v.sleep(time.Millisecond)
	}
	return fmt.Errorf("vl53l4cd vhv: %w", ErrTimeout)
}

func (v *VL53L4CD) read(reg uint16, r []byte) error {
	var w [2]byte
	binary.BigEndian.PutUint16(w[:], reg)
	if err := v.dev.Tx(w[:], r); err != nil {
		return fmt.Errorf("vl53l4cd read 0x%04x: %w", reg, err)
	}
	return nil
}

func (v *VL53L4CD) write(reg uint16, data ...byte) error {
	w := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(w, reg)
	w = append(w, data...)
	if err := v.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("vl53l4cd write 0x%04x: %w", reg, err)
	}
	return nil
}

func (v *VL53L4CD) readByte(reg uint16) (byte, error) {
	var r [1]byte
	err := v.read(reg, r[:])
	return r[0], err
}

func (v *VL53L4CD) readWord(reg uint16) (uint16, error) {
	var r [2]byte
	if err := v.read(reg, r[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r[:]), nil
}

func (v *VL53L4CD) readDWord(reg uint16) (uint32, error) {
	var r [4]byte
	if err := v.read(reg, r[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r[:]), nil
}

func (v *VL53L4CD) writeByte(reg uint16, b byte) error {
	return v.write(reg, b)
}

func (v *VL53L4CD) writeWord(reg uint16, w uint16) error {
	return v.write(reg, byte(w>>8), byte(w))
}

func (v *VL53L4CD) writeDWord(reg uint16, d uint32) error {
	return v.write(reg, byte(d>>24), byte(d>>16), byte(d>>8), byte(d))
}
