package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/matrix"
	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// RunLogger runs the telemetry loop until ctx is cancelled or the restart
// policy stops it. With the matrix enabled the animation runs alongside.
func RunLogger(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ValidateReporting(); err != nil {
		return err
	}

	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"logger", cfg.LoggerID,
		"transport", cfg.Transport,
		"transportPolicy", string(cfg.TransportPolicy),
		"interval", cfg.Interval,
		"sensor", cfg.SensorKind,
		"power", cfg.PowerSource,
		"journal", cfg.JournalPath,
		"matrix", cfg.MatrixEnabled,
	)

	dev, err := OpenDevice(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Error("device close", "error", err)
		}
	}()

	loop, err := newLoop(cfg, dev, logger)
	if err != nil {
		return err
	}

	if dev.VBUS != nil {
		logger.Info("power supply", "vbus", dev.VBUS.Present())
	}

	if cfg.MatrixEnabled {
		animCtx, stop := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			stop()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDisplay(animCtx, cfg, logger)
		}()
	}

	return loop.Run(ctx)
}

// RunOnce performs a single cycle and returns its result.
func RunOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) (telemetry.CycleResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ValidateReporting(); err != nil {
		return telemetry.CycleResult{}, err
	}

	dev, err := OpenDevice(ctx, cfg, logger)
	if err != nil {
		return telemetry.CycleResult{}, err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Error("device close", "error", err)
		}
	}()

	loop, err := newLoop(cfg, dev, logger)
	if err != nil {
		return telemetry.CycleResult{}, err
	}
	return loop.Cycle(ctx), nil
}

func newLoop(cfg config.Config, dev *Device, logger *slog.Logger) (*telemetry.Loop, error) {
	return telemetry.NewLoop(cfg.Identity(), dev.Sensor, dev.Power, dev.Reporter, telemetry.Options{
		Interval: cfg.Interval,
		Policy:   cfg.TransportPolicy,
		Journal:  dev.JournalOrNil(),
		Logger:   logger,
	})
}

// runDisplay is cosmetic; failures are logged and never stop the logger.
func runDisplay(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	d, err := OpenDisplay(cfg)
	if err != nil {
		logger.Warn("matrix unavailable", "error", err)
		return
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("matrix close", "error", err)
		}
	}()
	if err := Animate(ctx, cfg, d, matrix.Rainbow, logger); err != nil {
		logger.Warn("matrix animation stopped", "error", err)
	}
}
