package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bbeesley/temperature-logger/internal/app"
	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/matrix"
)

var (
	animateShape    string
	animateTrail    int
	animateColor    string
	animateRainbow  bool
	animateDuration time.Duration
)

var animateCmd = &cobra.Command{
	Use:   "animate",
	Short: "Run the LED matrix animation",
	Long: `Chase a fading trail around a shape on the 5x5 NeoPixel matrix.

Shapes: ` + strings.Join(matrix.Shapes(), ", ") + `

Examples:
  temperature-logger animate --shape spiral --trail 8 --rainbow
  temperature-logger animate --shape circle --color 00ff40 --duration 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("shape") {
			cfg.MatrixShape = animateShape
		}
		if cmd.Flags().Changed("trail") {
			cfg.MatrixTrail = animateTrail
		}

		var palette matrix.Palette = matrix.Rainbow
		if !animateRainbow {
			c, err := parseColor(animateColor)
			if err != nil {
				return err
			}
			palette = matrix.Solid(c)
		}

		logger := setupLogger(cfg.LogLevel, cfg.AppEnv)
		logger.Info("animating", "shape", cfg.MatrixShape, "trail", cfg.MatrixTrail, "tick", cfg.MatrixTick)

		ctx := cmd.Context()
		if animateDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, animateDuration)
			defer cancel()
		}

		d, err := app.OpenDisplay(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.Close(); err != nil {
				logger.Warn("matrix close", "error", err)
			}
		}()
		return app.Animate(ctx, cfg, d, palette, logger)
	},
}

func init() {
	animateCmd.Flags().StringVarP(&animateShape, "shape", "s", "spiral", "Shape to trace (overrides MATRIX_SHAPE)")
	animateCmd.Flags().IntVarP(&animateTrail, "trail", "t", 5, fmt.Sprintf("Trail length %d-%d (overrides MATRIX_TRAIL)", matrix.MinTrail, matrix.MaxTrail))
	animateCmd.Flags().StringVarP(&animateColor, "color", "c", "ff0000", "Head color as RRGGBB hex")
	animateCmd.Flags().BoolVar(&animateRainbow, "rainbow", false, "Cycle the head color through the color wheel")
	animateCmd.Flags().DurationVar(&animateDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	rootCmd.AddCommand(animateCmd)
}

func parseColor(s string) (matrix.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return matrix.Color{}, fmt.Errorf("invalid color %q (expected RRGGBB)", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return matrix.Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return matrix.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}
