package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/monitoring/stats"
)

var metricsWindow time.Duration

var metricsCmd = &cobra.Command{
	Use:   "metrics [network]",
	Short: "Summarize stored transactions of one network",
	Args:  cobra.ExactArgs(1),
	Run:   runMetrics,
}

func init() {
	metricsCmd.Flags().DurationVar(&metricsWindow, "window", stats.DefaultWindow, "look-back window")
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) {
	network := domain.NetworkID(args[0])

	ctx, cancel := signalContext()
	defer cancel()

	cfg, app := openWatcher(ctx)
	defer stopWatcher(app)

	now := time.Now()
	m, err := app.Engine().GetMetrics(ctx, network, stats.Window{Start: now.Add(-metricsWindow), End: now})
	if err != nil {
		slog.Error("Failed to compute metrics", "network", network, "error", err)
		stopWatcher(app)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	row := func(k string, v any) { _, _ = fmt.Fprintf(w, "%s\t%v\n", k, v) }
	row("Network", m.Network)
	row("Window", fmt.Sprintf("%s .. %s", m.WindowStart.Format(time.RFC3339), m.WindowEnd.Format(time.RFC3339)))
	row("Total", m.Total)
	row("Successful", m.Successful)
	row("Failed", m.Failed)
	row("Pending", m.Pending)
	row("Retried", m.Retried)
	row("Success rate", fmt.Sprintf("%.2f%%", m.SuccessRate*100))
	row("Average latency", formatLatency(m.AverageLatency))
	row("Median latency", formatLatency(m.MedianLatency))
	row("P95 latency", formatLatency(m.P95Latency))
	row("P99 latency", formatLatency(m.P99Latency))
	row("Total gas", m.TotalGas)
	row("Average gas", m.AverageGas)
	row("Total cost", formatAmount(cfg, network, m.TotalCost))
	row("Average cost", formatAmount(cfg, network, m.AverageCost))
	_ = w.Flush()
}
