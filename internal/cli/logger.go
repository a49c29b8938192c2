package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bbeesley/temperature-logger/internal/app"
	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/store"
	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telemetry loop",
	Long: `Read the sensors and submit a measurement every LOGGER_INTERVAL until
interrupted. With LOGGER_TRANSPORT_POLICY=restart a failed submission
stops the process with a non-zero exit so a supervisor can restart it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel, cfg.AppEnv)
		return app.RunLogger(cmd.Context(), cfg, logger)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print its result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel, cfg.AppEnv)

		res, err := app.RunOnce(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if err := printCycle(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if res.Outcome != telemetry.OutcomeSent {
			return fmt.Errorf("cycle %s: %w", res.Outcome, res.Err)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [journal-path]",
	Short: "Show recent cycles from the local journal",
	Long: `Print the most recent cycles recorded in the journal, newest first.
The path defaults to JOURNAL_PATH.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return err
		}
		path := cfg.JournalPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no journal: set JOURNAL_PATH or pass a path")
		}
		logger := setupLogger(cfg.LogLevel, cfg.AppEnv)

		j, closeJournal, err := app.OpenJournal(cmd.Context(), path, logger)
		if err != nil {
			return err
		}
		defer closeJournal()

		recs, err := j.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), recs)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of cycles to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(historyCmd)
}

type cycleOutput struct {
	Time        string                 `json:"time"`
	Outcome     telemetry.Outcome      `json:"outcome"`
	Measurement *telemetry.Measurement `json:"measurement,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func printCycle(w io.Writer, res telemetry.CycleResult) error {
	out := cycleOutput{
		Time:        res.Time.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Outcome:     res.Outcome,
		Measurement: res.Measurement,
		Status:      res.Status,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printHistory(w io.Writer, recs []store.CycleRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tTEMP\tHUM\tPRESS\tCHARGE\tDETAIL")
	for _, r := range recs {
		detail := r.Status
		if r.Error != "" {
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Time.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			formatOptional(r.Temperature),
			formatOptional(r.Humidity),
			formatOptional(r.Pressure),
			formatOptional(r.Charge),
			detail,
		)
	}
	return tw.Flush()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
