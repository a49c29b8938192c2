package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/logging"
)

const appName = "temperature-logger"

var (
	verbose bool
	// version is set by Execute from the linker-provided main.version.
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Environment telemetry logger",
	Long: `Reads temperature, humidity, pressure and battery charge from the
attached sensors and reports them to a collection endpoint on a fixed
interval. The same binary runs the ingest service that receives them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadSecrets()
	},
}

// Execute runs the command line with ctx as the command context.
func Execute(ctx context.Context, v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")
}

// setupLogger builds the process logger and installs it as the default.
// --verbose overrides LOG_LEVEL.
func setupLogger(level slog.Level, appEnv string) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(level, appEnv, version, appName)
	slog.SetDefault(logger)

	logger.Info("starting",
		"app", appName,
		"version", version,
		"env", appEnv,
		"log_level", level.String(),
	)
	return logger
}
