// Package app wires configuration, hardware and transports into the logger
// and ingest processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/hw"
	"github.com/bbeesley/temperature-logger/internal/matrix"
	"github.com/bbeesley/temperature-logger/internal/power"
	"github.com/bbeesley/temperature-logger/internal/report"
	"github.com/bbeesley/temperature-logger/internal/sensor"
	"github.com/bbeesley/temperature-logger/internal/store"
	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// Device holds the resources of one logger process. They are created once by
// OpenDevice and released together by Close.
type Device struct {
	Sensor   telemetry.SensorSource
	Power    telemetry.PowerSource
	Reporter telemetry.Reporter
	Journal  *store.Journal
	VBUS     *power.VBUS

	logger  *slog.Logger
	bus     i2c.BusCloser
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// OpenDevice opens the I2C bus only when a sensor or power profile needs it.
// On error everything opened so far is released.
func OpenDevice(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Device, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Device{logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	if err := d.openSensor(cfg); err != nil {
		return nil, err
	}
	if err := d.openPower(cfg); err != nil {
		return nil, err
	}
	if err := d.openReporter(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.JournalPath != "" {
		j, closeFn, err := OpenJournal(ctx, cfg.JournalPath, logger)
		if err != nil {
			return nil, err
		}
		d.Journal = j
		d.onClose("journal", closeFn)
	}
	return d, nil
}

func (d *Device) i2cBus(name string) (i2c.Bus, error) {
	if d.bus != nil {
		return d.bus, nil
	}
	bus, err := hw.OpenI2C(name)
	if err != nil {
		return nil, err
	}
	d.bus = bus
	d.onClose("i2c", bus.Close)
	return bus, nil
}

func (d *Device) openSensor(cfg config.Config) error {
	switch cfg.SensorKind {
	case "bme280":
		bus, err := d.i2cBus(cfg.I2CBus)
		if err != nil {
			return err
		}
		s, err := sensor.NewBME280(bus, cfg.BME280Address)
		if err != nil {
			return err
		}
		d.Sensor = s
		d.onClose("bme280", s.Halt)
	default:
		d.logger.Warn("no environment sensor configured, every cycle will fail", "sensor", cfg.SensorKind)
		d.Sensor = sensor.Unavailable{}
	}
	return nil
}

func (d *Device) openPower(cfg config.Config) error {
	switch cfg.PowerSource {
	case "gauge":
		bus, err := d.i2cBus(cfg.I2CBus)
		if err != nil {
			return err
		}
		pack, err := power.PackSizeFromMAh(cfg.GaugePackSize)
		if err != nil {
			return err
		}
		g, err := power.NewGauge(bus, cfg.GaugeAddress, pack)
		if err != nil {
			return err
		}
		d.Power = g
	case "divider":
		bus, err := d.i2cBus(cfg.I2CBus)
		if err != nil {
			return err
		}
		pin, err := power.OpenADS1115(bus, cfg.ADCAddress, cfg.ADCChannel)
		if err != nil {
			return err
		}
		d.onClose("ads1115", pin.Halt)
		div, err := power.NewDivider(pin, cfg.DividerCalibration, cfg.DividerRawFullScale, nil)
		if err != nil {
			return err
		}
		d.Power = div
	default:
		d.Power = power.None{}
	}

	if cfg.VBUSPin != "" {
		pin, err := hw.Pin(cfg.VBUSPin)
		if err != nil {
			return err
		}
		v, err := power.NewVBUS(pin)
		if err != nil {
			return err
		}
		d.VBUS = v
	}
	return nil
}

func (d *Device) openReporter(ctx context.Context, cfg config.Config) error {
	switch cfg.Transport {
	case "mqtt":
		m, err := report.NewMQTT(report.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.LoggerID,
			Password: cfg.APIKey,
		}, d.logger)
		if err != nil {
			return err
		}
		d.onClose("mqtt", func() error { m.Disconnect(); return nil })

		// The client keeps retrying in the background; cycles before the
		// first connection fail as transport errors.
		connectCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		err = m.Connect(connectCtx)
		cancel()
		if err != nil {
			d.logger.Warn("mqtt connection failed (continuing, will retry)", "broker", cfg.MQTTBroker, "error", err)
		}
		d.Reporter = m
	default:
		client := report.NewHTTPClient(cfg.RequestTimeout)
		r, err := report.NewHTTPS(cfg.Identity(), client)
		if err != nil {
			return err
		}
		d.onClose("http", func() error { client.CloseIdleConnections(); return nil })
		d.Reporter = r
	}
	return nil
}

func (d *Device) onClose(name string, fn func() error) {
	d.closers = append(d.closers, closer{name: name, fn: fn})
}

// JournalOrNil keeps a nil *store.Journal from becoming a non-nil interface.
func (d *Device) JournalOrNil() telemetry.Journal {
	if d.Journal == nil {
		return nil
	}
	return d.Journal
}

// Close releases resources in reverse order of acquisition.
func (d *Device) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.fn(); err != nil {
			d.logger.Error("device close", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenJournal opens and migrates the journal database at path.
func OpenJournal(ctx context.Context, path string, logger *slog.Logger) (*store.Journal, func() error, error) {
	db, err := store.Open(store.Options{Path: path, MaxOpenConns: 1, MaxIdleConns: 1, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	if _, err := store.Migrate(ctx, db, logger); err != nil {
		_ = store.Close(db)
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	return store.NewJournal(db), func() error { return store.Close(db) }, nil
}

// Display is the NeoPixel matrix plus its release function.
type Display struct {
	*matrix.NeoPixel
	close func() error
}

// OpenDisplay opens the NeoPixel matrix on the configured SPI port and powers
// it up.
func OpenDisplay(cfg config.Config) (*Display, error) {
	port, err := hw.OpenSPI(cfg.MatrixSPIPort)
	if err != nil {
		return nil, err
	}

	var powerPin gpio.PinOut
	if cfg.MatrixPowerPin != "" {
		p, err := hw.Pin(cfg.MatrixPowerPin)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		powerPin = p
	}

	np, err := matrix.NewNeoPixel(port, matrix.Pixels, powerPin)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	if err := np.SetPower(true); err != nil {
		_ = port.Close()
		return nil, err
	}
	return &Display{
		NeoPixel: np,
		close: func() error {
			return errors.Join(np.Halt(), port.Close())
		},
	}, nil
}

func (d *Display) Close() error { return d.close() }

// Animate runs the configured matrix animation until ctx is done.
func Animate(ctx context.Context, cfg config.Config, d matrix.Display, palette matrix.Palette, logger *slog.Logger) error {
	a := matrix.NewAnimation(d, cfg.MatrixShape, cfg.MatrixTrail, logger)
	err := matrix.Run(ctx, a, d, cfg.MatrixTick, palette)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
