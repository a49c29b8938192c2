package ingest

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// measurementRequest is the wire form of a submission. Pointers tell an
// absent reading apart from a zero one.
type measurementRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	LoggerID    string   `json:"logger"`
	Charge      *float64 `json:"charge"`
}

func (r measurementRequest) measurement() (telemetry.Measurement, error) {
	switch {
	case r.Temperature == nil:
		return telemetry.Measurement{}, errors.New("temperature is required")
	case r.Humidity == nil:
		return telemetry.Measurement{}, errors.New("humidity is required")
	case r.Pressure == nil:
		return telemetry.Measurement{}, errors.New("pressure is required")
	}
	return telemetry.Measurement{
		Temperature: *r.Temperature,
		Humidity:    *r.Humidity,
		Pressure:    *r.Pressure,
		LoggerID:    r.LoggerID,
		Charge:      r.Charge,
	}, nil
}

// decodeMeasurement reads one complete measurement from r. A missing
// environment reading is an error; the record is never stored partially.
func decodeMeasurement(r io.Reader) (telemetry.Measurement, error) {
	var req measurementRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return telemetry.Measurement{}, &bodyError{err: err}
	}
	return req.measurement()
}

type bodyError struct{ err error }

func (e *bodyError) Error() string { return "invalid body: " + e.err.Error() }
func (e *bodyError) Unwrap() error { return e.err }
