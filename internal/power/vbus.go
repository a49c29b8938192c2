package power

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// VBUS senses whether external 5V power is present.
type VBUS struct {
	pin gpio.PinIn
}

func NewVBUS(pin gpio.PinIn) (*VBUS, error) {
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("vbus pin %s: %w", pin, err)
	}
	return &VBUS{pin: pin}, nil
}

// Present reports true while the board is powered over USB.
func (v *VBUS) Present() bool {
	return v.pin.Read() == gpio.High
}
