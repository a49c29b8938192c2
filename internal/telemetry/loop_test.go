package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSensor struct {
	env   Environment
	err   error
	calls int
}

func (s *fakeSensor) ReadEnvironment(context.Context) (Environment, error) {
	s.calls++
	return s.env, s.err
}

type fakePower struct {
	charge float64
	ok     bool
	err    error
}

func (p *fakePower) ReadPower(context.Context) (float64, bool, error) {
	return p.charge, p.ok, p.err
}

type fakeReporter struct {
	status    string
	err       error
	submitted []Measurement
}

func (r *fakeReporter) Submit(_ context.Context, m Measurement) (string, error) {
	r.submitted = append(r.submitted, m)
	return r.status, r.err
}

type fakeJournal struct {
	results []CycleResult
}

func (j *fakeJournal) Record(_ context.Context, r CycleResult) error {
	j.results = append(j.results, r)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(t *testing.T, sensor SensorSource, power PowerSource, reporter Reporter, opts Options) *Loop {
	t.Helper()
	opts.Logger = discardLogger()
	if opts.now == nil {
		opts.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	}
	l, err := NewLoop(Identity{LoggerID: "dev1", APIKey: "K", Endpoint: "https://example.test/m"}, sensor, power, reporter, opts)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

func TestNewLoop_Validation(t *testing.T) {
	sensor := &fakeSensor{}
	reporter := &fakeReporter{}

	tests := []struct {
		name     string
		id       Identity
		sensor   SensorSource
		reporter Reporter
	}{
		{name: "missing logger id", id: Identity{}, sensor: sensor, reporter: reporter},
		{name: "missing sensor", id: Identity{LoggerID: "a"}, sensor: nil, reporter: reporter},
		{name: "missing reporter", id: Identity{LoggerID: "a"}, sensor: sensor, reporter: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoop(tt.id, tt.sensor, nil, tt.reporter, Options{}); err == nil {
				t.Fatalf("NewLoop() error = nil, want non-nil")
			}
		})
	}
}

func TestNewLoop_Defaults(t *testing.T) {
	l, err := NewLoop(Identity{LoggerID: "a"}, &fakeSensor{}, nil, &fakeReporter{}, Options{})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	if l.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", l.interval, DefaultInterval)
	}
	if l.policy != PolicyContinue {
		t.Errorf("policy = %q, want %q", l.policy, PolicyContinue)
	}
}

func TestCycle_Sent(t *testing.T) {
	sensor := &fakeSensor{env: Environment{Temperature: 21.5, Humidity: 40, Pressure: 1013.2}}
	power := &fakePower{charge: 87, ok: true}
	reporter := &fakeReporter{status: "ok"}
	journal := &fakeJournal{}
	l := newTestLoop(t, sensor, power, reporter, Options{Journal: journal})

	res := l.Cycle(context.Background())

	if res.Outcome != OutcomeSent {
		t.Fatalf("outcome = %q, want %q (err=%v)", res.Outcome, OutcomeSent, res.Err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
	if len(reporter.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(reporter.submitted))
	}
	got := reporter.submitted[0]
	if got.LoggerID != "dev1" || got.Temperature != 21.5 || got.Humidity != 40 || got.Pressure != 1013.2 {
		t.Errorf("submitted measurement = %+v", got)
	}
	if got.Charge == nil || *got.Charge != 87 {
		t.Errorf("charge = %v, want 87", got.Charge)
	}
	if len(journal.results) != 1 || journal.results[0].Outcome != OutcomeSent {
		t.Errorf("journal = %+v, want one sent entry", journal.results)
	}
}

func TestCycle_SensorErrorSubmitsNothing(t *testing.T) {
	sensor := &fakeSensor{err: errors.New("i2c nack")}
	reporter := &fakeReporter{status: "ok"}
	journal := &fakeJournal{}
	l := newTestLoop(t, sensor, &fakePower{charge: 50, ok: true}, reporter, Options{Journal: journal})

	res := l.Cycle(context.Background())

	if res.Outcome != OutcomeSensorError {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeSensorError)
	}
	var sre *SensorReadError
	if !errors.As(res.Err, &sre) {
		t.Fatalf("err = %v, want SensorReadError", res.Err)
	}
	if len(reporter.submitted) != 0 {
		t.Fatalf("submitted = %d, want 0", len(reporter.submitted))
	}
	if res.Measurement != nil {
		t.Errorf("measurement = %+v, want nil", res.Measurement)
	}
	if sensor.calls != 1 {
		t.Errorf("sensor calls = %d, want 1 (no retry)", sensor.calls)
	}
	if len(journal.results) != 1 || journal.results[0].Outcome != OutcomeSensorError {
		t.Errorf("journal = %+v, want one sensor_error entry", journal.results)
	}
}

func TestCycle_PowerFailureOmitsCharge(t *testing.T) {
	tests := []struct {
		name  string
		power PowerSource
	}{
		{name: "nil power source", power: nil},
		{name: "power error", power: &fakePower{err: errors.New("gauge busy")}},
		{name: "no reading", power: &fakePower{ok: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &fakeReporter{status: "ok"}
			l := newTestLoop(t, &fakeSensor{env: Environment{Temperature: 1}}, tt.power, reporter, Options{})

			res := l.Cycle(context.Background())
			if res.Outcome != OutcomeSent {
				t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeSent)
			}
			if reporter.submitted[0].HasCharge() {
				t.Errorf("charge = %v, want omitted", *reporter.submitted[0].Charge)
			}
		})
	}
}

func TestCycle_TransportError(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("connection refused")}
	l := newTestLoop(t, &fakeSensor{}, nil, reporter, Options{})

	res := l.Cycle(context.Background())

	if res.Outcome != OutcomeTransportError {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeTransportError)
	}
	var te *TransportError
	if !errors.As(res.Err, &te) {
		t.Fatalf("err = %v, want TransportError", res.Err)
	}
	if res.Measurement == nil {
		t.Errorf("measurement = nil, want the attempted measurement")
	}
}

func TestRun_ContinuePolicyKeepsCycling(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("timeout")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	opts := Options{
		Interval: 5 * time.Second,
		Policy:   PolicyContinue,
		sleep: func(_ context.Context, d time.Duration) error {
			if d != 5*time.Second {
				t.Errorf("sleep(%v), want 5s", d)
			}
			sleeps++
			if sleeps == 3 {
				cancel()
				return context.Canceled
			}
			return nil
		},
	}
	l := newTestLoop(t, &fakeSensor{}, nil, reporter, opts)

	err := l.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(reporter.submitted) != 3 {
		t.Errorf("submitted = %d, want 3", len(reporter.submitted))
	}
}

func TestRun_RestartPolicyStopsOnTransportError(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("tls handshake")}
	opts := Options{
		Policy: PolicyRestart,
		sleep: func(context.Context, time.Duration) error {
			t.Fatal("sleep called, want immediate restart")
			return nil
		},
	}
	l := newTestLoop(t, &fakeSensor{}, nil, reporter, opts)

	err := l.Run(context.Background())
	if !errors.Is(err, ErrRestartRequired) {
		t.Fatalf("Run() error = %v, want ErrRestartRequired", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("Run() error = %v, want wrapped TransportError", err)
	}
}

func TestRun_RestartPolicyIgnoresSensorErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := &fakeReporter{status: "ok"}
	opts := Options{
		Policy: PolicyRestart,
		sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	}
	l := newTestLoop(t, &fakeSensor{err: errors.New("crc")}, nil, reporter, opts)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(reporter.submitted) != 0 {
		t.Errorf("submitted = %d, want 0", len(reporter.submitted))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reporter := &fakeReporter{}
	l := newTestLoop(t, &fakeSensor{}, nil, reporter, Options{})
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(reporter.submitted) != 0 {
		t.Errorf("submitted = %d, want 0", len(reporter.submitted))
	}
}

func TestParseTransportPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    TransportPolicy
		wantErr bool
	}{
		{in: "continue", want: PolicyContinue},
		{in: " Restart ", want: PolicyRestart},
		{in: "reboot", want: PolicyContinue, wantErr: true},
		{in: "", want: PolicyContinue, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTransportPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTransportPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTransportPolicy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext() error = %v, want context.Canceled", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext() error = %v, want nil", err)
	}
}
