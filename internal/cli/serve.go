package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bbeesley/temperature-logger/internal/app"
	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest service",
	Long: `Accept measurements over HTTPS (POST /measurements) and, when
MQTT_BROKER is set, from the broker, storing them in SQLITE_PATH.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServerFromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel, cfg.AppEnv)
		return app.Serve(cmd.Context(), cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <db-path>",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded schema migrations to a journal or ingest database.

Examples:
  temperature-logger migrate /var/lib/logger/journal.db
  temperature-logger migrate ./data/ingest.db`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appEnv, level, err := config.LoadLoggingFromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(level, appEnv)

		db, err := store.Open(store.Options{Path: args[0], MaxOpenConns: 1, Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close(db)

		applied, err := store.Migrate(cmd.Context(), db, logger)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			return nil
		}
		for _, v := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
