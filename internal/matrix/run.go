package matrix

import (
	"context"
	"time"
)

// Display is a Matrix that can present its buffered frame.
type Display interface {
	Matrix
	Show() error
}

// Palette picks the color for a frame.
type Palette func(frame int) Color

// Solid always returns c.
func Solid(c Color) Palette {
	return func(int) Color { return c }
}

// Rainbow walks the color wheel one position per frame.
func Rainbow(frame int) Color {
	return ColorWheel(frame)
}

// Run animates until ctx is done, drawing one frame per tick. It returns
// ctx.Err(), the halted animation's error, or the first Show failure.
func Run(ctx context.Context, a *Animation, d Display, tick time.Duration, p Palette) error {
	if err := a.Err(); err != nil {
		return err
	}

	t := time.NewTicker(tick)
	defer t.Stop()

	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.Animate(p(frame))
		if err := d.Show(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
