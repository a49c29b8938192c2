package telemetry

import "fmt"

// Environment is a single temperature/humidity/pressure sample.
type Environment struct {
	Temperature float64 // °C
	Humidity    float64 // %rH
	Pressure    float64 // hPa
}

// Identity is the process-wide device identity, set once at startup.
type Identity struct {
	LoggerID string
	APIKey   string
	Endpoint string
}

// Measurement is the record submitted once per cycle.
type Measurement struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pressure    float64  `json:"pressure"`
	LoggerID    string   `json:"logger"`
	Charge      *float64 `json:"charge,omitempty"`
}

// BuildMeasurement assembles a Measurement from a sensor sample and an optional
// power reading. charge is only set when hasCharge is true.
func BuildMeasurement(loggerID string, env Environment, charge float64, hasCharge bool) (Measurement, error) {
	if loggerID == "" {
		return Measurement{}, fmt.Errorf("logger id is required")
	}
	m := Measurement{
		Temperature: env.Temperature,
		Humidity:    env.Humidity,
		Pressure:    env.Pressure,
		LoggerID:    loggerID,
	}
	if hasCharge {
		c := clampCharge(charge)
		m.Charge = &c
	}
	return m, nil
}

// HasCharge reports whether the measurement carries a power reading.
func (m Measurement) HasCharge() bool {
	return m.Charge != nil
}

func clampCharge(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
