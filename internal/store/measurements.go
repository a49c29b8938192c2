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

//go:embed queries/insert-measurement.sql
var insertMeasurementSQL string

//go:embed queries/get-latest-measurements.sql
var getLatestMeasurementsSQL string

//go:embed queries/get-loggers.sql
var getLoggersSQL string

// Sources a stored measurement can arrive through.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// StoredMeasurement is a measurement as kept by the ingest service.
type StoredMeasurement struct {
	ID          int64     `json:"id"`
	LoggerID    string    `json:"logger"`
	ReceivedAt  time.Time `json:"received_at"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	Charge      *float64  `json:"charge,omitempty"`
	Source      string    `json:"source"`
}

// LoggerSummary counts the measurements received from one logger.
type LoggerSummary struct {
	LoggerID string    `json:"logger"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type MeasurementRepository interface {
	Insert(ctx context.Context, m telemetry.Measurement, receivedAt time.Time, source string) (int64, error)
	Latest(ctx context.Context, loggerID string, limit int) ([]StoredMeasurement, error)
	Loggers(ctx context.Context) ([]LoggerSummary, error)
}

type measurementRepository struct {
	db *sql.DB
}

func NewMeasurementRepository(db *sql.DB) MeasurementRepository {
	return &measurementRepository{db: db}
}

func (r *measurementRepository) Insert(ctx context.Context, m telemetry.Measurement, receivedAt time.Time, source string) (int64, error) {
	if m.LoggerID == "" {
		return 0, fmt.Errorf("logger is required")
	}
	if m.Humidity < 0 || m.Humidity > 100 {
		return 0, fmt.Errorf("humidity out of range: %f (must be 0-100)", m.Humidity)
	}
	if m.Pressure <= 0 {
		return 0, fmt.Errorf("pressure must be positive: %f", m.Pressure)
	}
	var charge any
	if m.Charge != nil {
		if *m.Charge < 0 || *m.Charge > 100 {
			return 0, fmt.Errorf("charge out of range: %f (must be 0-100)", *m.Charge)
		}
		charge = *m.Charge
	}
	if source == "" {
		source = SourceHTTP
	}

	res, err := r.db.ExecContext(ctx, insertMeasurementSQL,
		m.LoggerID,
		receivedAt.UTC().Format(timestampLayout),
		m.Temperature, m.Humidity, m.Pressure, charge,
		source,
	)
	if err != nil {
		return 0, fmt.Errorf("insert measurement: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns up to limit rows, newest first. An empty loggerID matches
// every logger.
func (r *measurementRepository) Latest(ctx context.Context, loggerID string, limit int) ([]StoredMeasurement, error) {
	rows, err := r.db.QueryContext(ctx, getLatestMeasurementsSQL, loggerID, loggerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close measurement rows", "error", err)
		}
	}()

	out := []StoredMeasurement{}
	for rows.Next() {
		var rec StoredMeasurement
		var ts string
		var charge sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.LoggerID, &ts,
			&rec.Temperature, &rec.Humidity, &rec.Pressure, &charge, &rec.Source); err != nil {
			return nil, err
		}
		if rec.ReceivedAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		rec.Charge = nullFloat(charge)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *measurementRepository) Loggers(ctx context.Context) ([]LoggerSummary, error) {
	rows, err := r.db.QueryContext(ctx, getLoggersSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close logger rows", "error", err)
		}
	}()

	out := []LoggerSummary{}
	for rows.Next() {
		var s LoggerSummary
		var ts string
		if err := rows.Scan(&s.LoggerID, &s.Count, &ts); err != nil {
			return nil, err
		}
		if s.LastSeen, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
