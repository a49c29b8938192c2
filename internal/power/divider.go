package power

import (
	"context"
	"fmt"
	"math"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

// DefaultCalibration converts a 16-bit raw sample of the divided battery
// voltage into volts.
const DefaultCalibration = 5370.0

// Step maps a voltage threshold to a charge level.
type Step struct {
	Volts float64
	Level float64
}

// LiPoSteps is the coarse 1S LiPo table. Thresholds must stay ascending.
var LiPoSteps = []Step{
	{3.700, 1}, {3.705, 2}, {3.710, 3}, {3.725, 4}, {3.740, 5},
	{3.755, 6}, {3.770, 7}, {3.785, 8}, {3.800, 9}, {3.820, 10},
	{3.840, 11}, {3.860, 12}, {3.880, 13}, {3.900, 14}, {3.920, 15},
	{3.940, 16}, {3.960, 17}, {3.980, 18}, {4.000, 19}, {4.025, 20},
	{4.050, 21}, {4.075, 22}, {4.100, 23}, {4.125, 24}, {4.150, 25},
}

// LevelForVoltage walks steps in ascending order and keeps the level of the
// last threshold strictly exceeded. Below the first threshold the level is 0.
func LevelForVoltage(v float64, steps []Step) float64 {
	level := 0.0
	for _, s := range steps {
		if v > s.Volts {
			level = s.Level
		}
	}
	return level
}

// Sampler is the part of analog.PinADC the divider needs.
type Sampler interface {
	Read() (analog.Sample, error)
}

// Divider is a telemetry.PowerSource that estimates charge from the battery
// voltage seen through a resistor divider.
type Divider struct {
	pin          Sampler
	calibration  float64
	rawFullScale int32
	steps        []Step
}

// NewDivider builds a Divider. rawFullScale is the raw count the ADC reports at
// its full range; samples are rescaled to 16 bits before calibration.
func NewDivider(pin Sampler, calibration float64, rawFullScale int, steps []Step) (*Divider, error) {
	if pin == nil {
		return nil, fmt.Errorf("divider: sampler is required")
	}
	if calibration <= 0 {
		return nil, fmt.Errorf("divider: calibration must be positive, got %v", calibration)
	}
	if rawFullScale <= 0 || rawFullScale > math.MaxInt32 {
		return nil, fmt.Errorf("divider: raw full scale must be in 1..%d, got %d", math.MaxInt32, rawFullScale)
	}
	if steps == nil {
		steps = LiPoSteps
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Volts <= steps[i-1].Volts {
			return nil, fmt.Errorf("divider: thresholds must be strictly ascending (%v after %v)", steps[i].Volts, steps[i-1].Volts)
		}
	}
	return &Divider{pin: pin, calibration: calibration, rawFullScale: int32(rawFullScale), steps: steps}, nil
}

// Voltage samples the pin and returns the battery voltage rounded to 10mV.
func (d *Divider) Voltage() (float64, error) {
	s, err := d.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("divider read: %w", err)
	}
	raw := float64(s.Raw) * 65535 / float64(d.rawFullScale)
	return math.Round(raw/d.calibration*100) / 100, nil
}

func (d *Divider) ReadPower(ctx context.Context) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	v, err := d.Voltage()
	if err != nil {
		return 0, false, err
	}
	return LevelForVoltage(v, d.steps), true, nil
}

var adsChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// OpenADS1115 returns a single-ended ADC pin on an ADS1115 at addr.
func OpenADS1115(bus i2c.Bus, addr uint16, channel int) (analog.PinADC, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("ads1115: invalid channel %d", channel)
	}
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = addr
	adc, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("ads1115 at %#x: %w", addr, err)
	}
	pin, err := adc.PinForChannel(adsChannels[channel], 5*physic.Volt, physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		return nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}
	return pin, nil
}

// None never has a reading.
type None struct{}

func (None) ReadPower(context.Context) (float64, bool, error) { return 0, false, nil }
