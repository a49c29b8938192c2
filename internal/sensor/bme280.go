// Package sensor reads temperature, humidity and pressure from a BME280.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// ErrNoSensor is reported by Unavailable.
var ErrNoSensor = errors.New("no environment sensor configured")

type senser interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 is a telemetry.SensorSource backed by a Bosch BME280 on I2C.
type BME280 struct {
	dev senser
}

// NewBME280 opens the sensor at addr (0x76 or 0x77).
func NewBME280(bus i2c.Bus, addr uint16) (*BME280, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80 at %#x: %w", addr, err)
	}
	return &BME280{dev: dev}, nil
}

func (s *BME280) ReadEnvironment(ctx context.Context) (telemetry.Environment, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Environment{}, &telemetry.SensorReadError{Err: err}
	}
	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return telemetry.Environment{}, &telemetry.SensorReadError{Err: err}
	}
	return FromEnv(e), nil
}

// Halt puts the sensor to sleep.
func (s *BME280) Halt() error {
	return s.dev.Halt()
}

// FromEnv converts periph fixed point units to °C, %rH and hPa.
func FromEnv(e physic.Env) telemetry.Environment {
	return telemetry.Environment{
		Temperature: e.Temperature.Celsius(),
		Humidity:    float64(e.Humidity) / float64(physic.PercentRH),
		Pressure:    float64(e.Pressure) / float64(100*physic.Pascal),
	}
}

// Unavailable is used when no sensor is wired; every read fails the cycle.
type Unavailable struct{}

func (Unavailable) ReadEnvironment(context.Context) (telemetry.Environment, error) {
	return telemetry.Environment{}, &telemetry.SensorReadError{Err: ErrNoSensor}
}
