// Package power reports battery charge from a fuel gauge or a voltage divider.
package power

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// DefaultGaugeAddress is the fixed I2C address of the LC709203F.
const DefaultGaugeAddress = 0x0B

// LC709203F registers.
const (
	regInitRSOC       = 0x07
	regCellVoltage    = 0x09
	regAPA            = 0x0B
	regCellITE        = 0x0F
	regBatteryProfile = 0x12
	regPowerMode      = 0x15
)

const (
	powerModeOperate = 0x0001
	initRSOCMagic    = 0xAA55
	profile3V7       = 0x0001
)

// PackSize is the LC709203F adjustment pack application (APA) value.
type PackSize uint16

var packSizes = map[int]PackSize{
	100:  0x08,
	200:  0x0B,
	500:  0x10,
	1000: 0x19,
	2000: 0x2D,
	3000: 0x36,
}

// PackSizeFromMAh returns the APA value for a supported battery capacity.
func PackSizeFromMAh(mAh int) (PackSize, error) {
	p, ok := packSizes[mAh]
	if !ok {
		return 0, fmt.Errorf("unsupported pack size %d mAh (allowed: 100, 200, 500, 1000, 2000, 3000)", mAh)
	}
	return p, nil
}

// Gauge is a telemetry.PowerSource backed by an LC709203F fuel gauge. The
// reported percentage is passed through unchanged.
type Gauge struct {
	dev *i2c.Dev
}

// NewGauge wakes the gauge and configures it for a single 3.7V cell of the
// given pack size.
func NewGauge(bus i2c.Bus, addr uint16, pack PackSize) (*Gauge, error) {
	g := &Gauge{dev: &i2c.Dev{Bus: bus, Addr: addr}}

	steps := []struct {
		reg   byte
		value uint16
	}{
		{regPowerMode, powerModeOperate},
		{regAPA, uint16(pack)},
		{regBatteryProfile, profile3V7},
		{regInitRSOC, initRSOCMagic},
	}
	for _, s := range steps {
		if err := g.writeWord(s.reg, s.value); err != nil {
			return nil, fmt.Errorf("lc709203f init: %w", err)
		}
	}
	return g, nil
}

// ReadPower returns the cell charge in percent.
func (g *Gauge) ReadPower(ctx context.Context) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	v, err := g.readWord(regCellITE)
	if err != nil {
		return 0, false, fmt.Errorf("lc709203f cell percent: %w", err)
	}
	return float64(v) / 10, true, nil
}

// CellVoltage returns the cell voltage in volts.
func (g *Gauge) CellVoltage() (float64, error) {
	v, err := g.readWord(regCellVoltage)
	if err != nil {
		return 0, fmt.Errorf("lc709203f cell voltage: %w", err)
	}
	return float64(v) / 1000, nil
}

func (g *Gauge) readWord(reg byte) (uint16, error) {
	r := make([]byte, 3)
	if err := g.dev.Tx([]byte{reg}, r); err != nil {
		return 0, err
	}
	addr := byte(g.dev.Addr << 1)
	want := crc8([]byte{addr, reg, addr | 1, r[0], r[1]})
	if r[2] != want {
		return 0, fmt.Errorf("crc mismatch on register %#02x: got %#02x want %#02x", reg, r[2], want)
	}
	return uint16(r[0]) | uint16(r[1])<<8, nil
}

func (g *Gauge) writeWord(reg byte, v uint16) error {
	lsb, msb := byte(v), byte(v>>8)
	crc := crc8([]byte{byte(g.dev.Addr << 1), reg, lsb, msb})
	return g.dev.Tx([]byte{reg, lsb, msb, crc}, nil)
}

// crc8 is CRC-8/ATM: poly 0x07, init 0x00.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
