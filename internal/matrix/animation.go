// Package matrix drives the 5x5 NeoPixel matrix: trail animations over named
// shapes and the SPI output device.
package matrix

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Pixel 0 is top left; indices increase along each row. -1 marks a pause in
// the path where nothing is drawn.
var shapes = map[string][]int{
	"square":  {0, 1, 2, 3, 4, 9, 14, 19, 24, 23, 22, 21, 20, 15, 10, 5},
	"circle":  {1, 2, 3, 9, 14, 19, 23, 22, 21, 15, 10, 5},
	"diamond": {2, 8, 14, 18, 22, 16, 10, 6},
	"plus":    {2, 7, 12, 17, 22, 10, 11, 12, 13, 14},
	"cross":   {0, 6, 12, 18, 24, 4, 8, 12, 16, 20},
	"spiral": {
		12, 13, 18, 17, 16, 11, 6, 7, 8, 9, 14, 19, 24, 23, 22, 21, 20, 15, 10, 5,
		0, 1, 2, 3, 4, 9, 14, 19, 24, 23, 22, 21, 20, 15, 10, 5, 6, 7, 8, 13,
		18, 17, 16, 11, 12, -1, -1, -1, -1, -1, -1, -1,
	},
}

const (
	MinTrail = 1
	MaxTrail = 20

	alphaStep = 0.2
)

// Shapes returns the registered shape names in sorted order.
func Shapes() []string {
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Matrix is the pixel sink an Animation draws into.
type Matrix interface {
	SetPixel(i int, c Color)
}

// Animation moves a fading trail along a shape, one step per Animate call.
type Animation struct {
	matrix Matrix
	path   []int
	trail  []int
	err    error
}

// NewAnimation never fails outright. An unknown shape or a trail length
// outside [MinTrail, MaxTrail] is logged and leaves the animation halted:
// Animate then does nothing and Err reports why. A nil logger uses
// slog.Default.
func NewAnimation(m Matrix, shape string, trailLength int, logger *slog.Logger) *Animation {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Animation{matrix: m}

	path, ok := shapes[shape]
	switch {
	case !ok:
		a.err = fmt.Errorf("shape %q not found", shape)
	case trailLength < MinTrail || trailLength > MaxTrail:
		a.err = fmt.Errorf("trail length %d out of range [%d, %d]", trailLength, MinTrail, MaxTrail)
	case m == nil:
		a.err = fmt.Errorf("no matrix to draw on")
	}
	if a.err != nil {
		logger.Warn("animation halted", "shape", shape, "trail", trailLength, "error", a.err)
		return a
	}

	a.path = path
	a.trail = make([]int, trailLength+1)
	for i := range a.trail {
		a.trail[i] = -i
	}
	return a
}

// Err is non-nil when the animation is halted.
func (a *Animation) Err() error { return a.err }

// Animate draws one frame in c and moves the trail one step. The head is
// drawn at 0.2*trailLength of c, each following position 0.2 dimmer.
func (a *Animation) Animate(c Color) {
	if a.err != nil {
		return
	}

	alpha := alphaStep * float64(len(a.trail)-1)
	for i, idx := range a.trail {
		if idx > -1 {
			if pixel := a.path[idx]; pixel > -1 {
				a.matrix.SetPixel(pixel, c.scale(alpha))
			}
			if alpha > alphaStep {
				alpha -= alphaStep
			} else {
				alpha = 0
			}
		}
		a.advance(i)
	}
}

func (a *Animation) advance(i int) {
	a.trail[i]++
	if a.trail[i] == len(a.path) {
		a.trail[i] = 0
	}
}

func (c Color) scale(alpha float64) Color {
	return Color{R: scaleChannel(c.R, alpha), G: scaleChannel(c.G, alpha), B: scaleChannel(c.B, alpha)}
}

// scaleChannel clamps to the 0-255 range; a long trail starts above 1.0.
func scaleChannel(v uint8, alpha float64) uint8 {
	f := math.Round(float64(v) * alpha)
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	default:
		return uint8(f)
	}
}

// ColorWheel cycles through the rainbow; pos wraps at 255.
func ColorWheel(pos int) Color {
	pos %= 255
	if pos < 0 {
		pos += 255
	}
	switch {
	case pos < 85:
		return Color{R: uint8(255 - pos*3), G: 0, B: uint8(pos * 3)}
	case pos < 170:
		pos -= 85
		return Color{R: 0, G: uint8(pos * 3), B: uint8(255 - pos*3)}
	default:
		pos -= 170
		return Color{R: uint8(pos * 3), G: uint8(255 - pos*3), B: 0}
	}
}
