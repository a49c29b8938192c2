package matrix

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/nrzled"
)

// Pixels on the 5x5 matrix.
const Pixels = 25

type strip interface {
	io.Writer
	Halt() error
}

// NeoPixel buffers a frame and pushes it to an NRZ LED strip. The optional
// power pin switches the matrix supply.
type NeoPixel struct {
	strip strip
	power gpio.PinOut
	buf   []byte
}

// NewNeoPixel connects to the strip on port. power may be nil.
func NewNeoPixel(port spi.Port, numPixels int, power gpio.PinOut) (*NeoPixel, error) {
	opts := nrzled.DefaultOpts
	opts.NumPixels = numPixels
	opts.Channels = 3
	dev, err := nrzled.NewSPI(port, &opts)
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}
	return newNeoPixel(dev, numPixels, power), nil
}

func newNeoPixel(s strip, numPixels int, power gpio.PinOut) *NeoPixel {
	return &NeoPixel{strip: s, power: power, buf: make([]byte, numPixels*3)}
}

// SetPixel stores c for pixel i; out of range indices are ignored.
func (n *NeoPixel) SetPixel(i int, c Color) {
	if i < 0 || i*3 >= len(n.buf) {
		return
	}
	n.buf[i*3], n.buf[i*3+1], n.buf[i*3+2] = c.R, c.G, c.B
}

// Fill sets every pixel to c.
func (n *NeoPixel) Fill(c Color) {
	for i := 0; i < len(n.buf)/3; i++ {
		n.SetPixel(i, c)
	}
}

// Show writes the buffered frame to the strip.
func (n *NeoPixel) Show() error {
	if _, err := n.strip.Write(n.buf); err != nil {
		return fmt.Errorf("neopixel write: %w", err)
	}
	return nil
}

// SetPower switches the matrix supply. It is a no-op without a power pin.
func (n *NeoPixel) SetPower(on bool) error {
	if n.power == nil {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := n.power.Out(level); err != nil {
		return fmt.Errorf("matrix power: %w", err)
	}
	return nil
}

// Halt blanks the strip and cuts the matrix supply.
func (n *NeoPixel) Halt() error {
	n.Fill(Color{})
	err := n.strip.Halt()
	if perr := n.SetPower(false); err == nil {
		err = perr
	}
	return err
}
