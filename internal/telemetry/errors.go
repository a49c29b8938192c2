package telemetry

import (
	"errors"
	"fmt"
)

// ErrRestartRequired is returned by Loop.Run when the restart policy is in
// effect and a submission failed. The caller is expected to exit non-zero so
// the service supervisor restarts the logger.
var ErrRestartRequired = errors.New("transport failure: restart required")

// SensorReadError aborts the current cycle. No measurement is built.
type SensorReadError struct {
	Err error
}

func (e *SensorReadError) Error() string {
	return fmt.Sprintf("sensor read: %v", e.Err)
}

func (e *SensorReadError) Unwrap() error { return e.Err }

// TransportError covers connection, TLS, HTTP status and response decoding
// failures while submitting a measurement.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError unless it already is one.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
