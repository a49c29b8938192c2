package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

//go:embed queries/insert-cycle.sql
var insertCycleSQL string

//go:embed queries/get-recent-cycles.sql
var getRecentCyclesSQL string

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CycleRecord is one journal row.
type CycleRecord struct {
	ID          int64
	Time        time.Time
	LoggerID    string
	Outcome     telemetry.Outcome
	Temperature *float64
	Humidity    *float64
	Pressure    *float64
	Charge      *float64
	Status      string
	Error       string
}

// Journal is a telemetry.Journal backed by the cycles table. Rows are only
// written by the loop and read back for inspection.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Record(ctx context.Context, r telemetry.CycleResult) error {
	var temperature, humidity, pressure, charge any
	if m := r.Measurement; m != nil {
		temperature, humidity, pressure = m.Temperature, m.Humidity, m.Pressure
		if m.Charge != nil {
			charge = *m.Charge
		}
	}
	var status, errText any
	if r.Status != "" {
		status = r.Status
	}
	if r.Err != nil {
		errText = r.Err.Error()
	}

	_, err := j.db.ExecContext(ctx, insertCycleSQL,
		r.Time.UTC().Format(timestampLayout),
		r.LoggerID,
		string(r.Outcome),
		temperature, humidity, pressure, charge,
		status, errText,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit journal rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := j.db.QueryContext(ctx, getRecentCyclesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close cycle rows", "error", err)
		}
	}()

	var out []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var ts, outcome string
		var status, errText sql.NullString
		var temperature, humidity, pressure, charge sql.NullFloat64
		if err := rows.Scan(&rec.ID, &ts, &rec.LoggerID, &outcome,
			&temperature, &humidity, &pressure, &charge, &status, &errText); err != nil {
			return nil, err
		}
		if rec.Time, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		rec.Outcome = telemetry.Outcome(outcome)
		rec.Temperature = nullFloat(temperature)
		rec.Humidity = nullFloat(humidity)
		rec.Pressure = nullFloat(pressure)
		rec.Charge = nullFloat(charge)
		rec.Status = status.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, ts)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", ts, err, err2)
		}
	}
	return t, nil
}
