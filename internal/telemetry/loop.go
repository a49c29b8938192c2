// Package telemetry runs the sense-and-report cycle: read power, read the
// environment sensor, build a measurement, submit it, sleep, repeat.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultInterval is the time between two cycles.
const DefaultInterval = 60 * time.Second

// SensorSource yields one environment sample per call.
type SensorSource interface {
	ReadEnvironment(ctx context.Context) (Environment, error)
}

// PowerSource yields a charge reading. ok is false when no reading is
// available; that is never an error.
type PowerSource interface {
	ReadPower(ctx context.Context) (charge float64, ok bool, err error)
}

// Reporter submits a measurement and returns the status reported back by the
// receiving side.
type Reporter interface {
	Submit(ctx context.Context, m Measurement) (status string, err error)
}

// Journal records cycle outcomes. It is never read back for resubmission.
type Journal interface {
	Record(ctx context.Context, r CycleResult) error
}

// TransportPolicy decides what a failed submission does to the loop.
type TransportPolicy string

const (
	// PolicyContinue logs the failure and waits for the next cycle.
	PolicyContinue TransportPolicy = "continue"
	// PolicyRestart stops the loop with ErrRestartRequired.
	PolicyRestart TransportPolicy = "restart"
)

// ParseTransportPolicy parses "continue" or "restart".
func ParseTransportPolicy(s string) (TransportPolicy, error) {
	switch TransportPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyContinue:
		return PolicyContinue, nil
	case PolicyRestart:
		return PolicyRestart, nil
	default:
		return PolicyContinue, fmt.Errorf("invalid transport policy %q (allowed: continue, restart)", s)
	}
}

// Outcome is the result of one cycle.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeSensorError    Outcome = "sensor_error"
	OutcomeTransportError Outcome = "transport_error"
)

// CycleResult describes a finished cycle.
type CycleResult struct {
	Time        time.Time
	LoggerID    string
	Outcome     Outcome
	Measurement *Measurement
	Status      string
	Err         error
}

// Options tune a Loop. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Policy   TransportPolicy
	Journal  Journal
	Logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Loop is the single-threaded telemetry cycle. It is not safe for concurrent
// use; Run and Cycle must not overlap.
type Loop struct {
	identity Identity
	sensor   SensorSource
	power    PowerSource
	reporter Reporter
	journal  Journal

	interval time.Duration
	policy   TransportPolicy
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewLoop wires the collaborators into a Loop. power and the journal may be nil.
func NewLoop(identity Identity, sensor SensorSource, power PowerSource, reporter Reporter, opts Options) (*Loop, error) {
	if identity.LoggerID == "" {
		return nil, errors.New("telemetry: logger id is required")
	}
	if sensor == nil {
		return nil, errors.New("telemetry: sensor source is required")
	}
	if reporter == nil {
		return nil, errors.New("telemetry: reporter is required")
	}

	l := &Loop{
		identity: identity,
		sensor:   sensor,
		power:    power,
		reporter: reporter,
		journal:  opts.Journal,
		interval: opts.Interval,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      opts.now,
		sleep:    opts.sleep,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.policy == "" {
		l.policy = PolicyContinue
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	return l, nil
}

// Run cycles until ctx is cancelled, or until a submission fails under
// PolicyRestart, in which case the returned error wraps ErrRestartRequired.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("telemetry loop started",
		"logger", l.identity.LoggerID,
		"endpoint", l.identity.Endpoint,
		"interval", l.interval,
		"policy", string(l.policy),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := l.Cycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if res.Outcome == OutcomeTransportError && l.policy == PolicyRestart {
			l.logger.Error("submission failed, restart required", "error", res.Err)
			return fmt.Errorf("%w: %w", ErrRestartRequired, res.Err)
		}

		if err := l.sleep(ctx, l.interval); err != nil {
			return err
		}
	}
}

// Cycle performs exactly one read-build-submit pass. It never retries.
func (l *Loop) Cycle(ctx context.Context) CycleResult {
	res := CycleResult{Time: l.now(), LoggerID: l.identity.LoggerID}

	charge, hasCharge := l.readPower(ctx)

	env, err := l.sensor.ReadEnvironment(ctx)
	if err != nil {
		var sre *SensorReadError
		if !errors.As(err, &sre) {
			err = &SensorReadError{Err: err}
		}
		l.logger.Warn("could not get environment measurement", "error", err)
		res.Outcome = OutcomeSensorError
		res.Err = err
		l.record(ctx, res)
		return res
	}

	m, err := BuildMeasurement(l.identity.LoggerID, env, charge, hasCharge)
	if err != nil {
		// Identity is validated in NewLoop, so this only trips on misuse.
		res.Outcome = OutcomeSensorError
		res.Err = &SensorReadError{Err: err}
		l.record(ctx, res)
		return res
	}
	res.Measurement = &m

	l.logger.Debug("submitting measurement",
		"endpoint", l.identity.Endpoint,
		"temperature", m.Temperature,
		"humidity", m.Humidity,
		"pressure", m.Pressure,
		"charge", m.Charge,
	)

	status, err := l.reporter.Submit(ctx, m)
	if err != nil {
		err = NewTransportError("submit", err)
		l.logger.Warn("could not send measurement", "error", err)
		res.Outcome = OutcomeTransportError
		res.Err = err
		l.record(ctx, res)
		return res
	}

	l.logger.Info("measurement accepted", "status", status)
	res.Outcome = OutcomeSent
	res.Status = status
	l.record(ctx, res)
	return res
}

func (l *Loop) readPower(ctx context.Context) (float64, bool) {
	if l.power == nil {
		return 0, false
	}
	charge, ok, err := l.power.ReadPower(ctx)
	if err != nil {
		l.logger.Warn("power read failed, charge omitted", "error", err)
		return 0, false
	}
	if ok {
		l.logger.Info("battery charge", "charge", charge)
	}
	return charge, ok
}

func (l *Loop) record(ctx context.Context, res CycleResult) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Record(ctx, res); err != nil {
		l.logger.Error("journal record failed", "outcome", string(res.Outcome), "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
