package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txwatch/internal/core/domain"
)

var (
	errorsNetwork   string
	errorsSeverity  string
	errorsReference string
	errorsSince     time.Duration
	errorsLimit     int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List recorded error reports",
	Args:  cobra.NoArgs,
	Run:   runErrors,
}

func init() {
	errorsCmd.Flags().StringVar(&errorsNetwork, "network", "", "only this network")
	errorsCmd.Flags().StringVar(&errorsSeverity, "severity", "", "only this severity (low, medium, high, critical)")
	errorsCmd.Flags().StringVar(&errorsReference, "reference", "", "only reports about this transaction")
	errorsCmd.Flags().DurationVar(&errorsSince, "since", 0, "only reports within this duration")
	errorsCmd.Flags().IntVar(&errorsLimit, "limit", 50, "most recent N reports, 0 for all")
	rootCmd.AddCommand(errorsCmd)
}

func runErrors(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	_, app := openWatcher(ctx)
	defer stopWatcher(app)

	filter := domain.ErrorFilter{
		Network:   domain.NetworkID(errorsNetwork),
		Severity:  domain.Severity(errorsSeverity),
		Reference: errorsReference,
		Limit:     errorsLimit,
	}
	if errorsSince > 0 {
		filter.Since = time.Now().Add(-errorsSince)
	}

	reports, err := app.Engine().GetErrors(ctx, filter)
	if err != nil {
		slog.Error("Failed to load error reports", "error", err)
		stopWatcher(app)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tNETWORK\tSEVERITY\tCATEGORY\tOPERATION\tRETRYABLE\tMESSAGE")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			formatTime(&r.Timestamp),
			r.Network,
			r.Severity,
			r.Category,
			r.Operation,
			r.Retryable,
			r.Message,
		)
	}
	_ = w.Flush()
}
