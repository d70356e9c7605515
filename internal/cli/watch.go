package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/monitoring/tracker"
)

var (
	watchOperation  string
	watchMaxRetries int
	watchMetadata   []string
)

var watchCmd = &cobra.Command{
	Use:   "watch [network] [reference]",
	Short: "Follow one transaction until it confirms, fails or times out",
	Args:  cobra.ExactArgs(2),
	Run:   runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchOperation, "operation", "transfer", "operation label stored with the record")
	watchCmd.Flags().IntVar(&watchMaxRetries, "max-retries", -1, "override the configured retry count")
	watchCmd.Flags().StringSliceVar(&watchMetadata, "meta", nil, "metadata as key=value, repeatable")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	network, reference := domain.NetworkID(args[0]), args[1]

	metadata, err := parseMetadata(watchMetadata)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg, app := openWatcher(ctx)
	defer stopWatcher(app)

	if err := app.Connect(ctx, network); err != nil {
		slog.Error("Failed to connect", "network", network, "error", err)
		os.Exit(1)
	}

	opts := tracker.Options{
		Metadata: metadata,
		OnProgress: func(tx *domain.MonitoredTransaction) {
			slog.Info("Transaction status", "status", tx.Status, "retries", tx.RetryCount)
		},
	}
	if watchMaxRetries >= 0 {
		opts.MaxRetries = &watchMaxRetries
	}

	tx, err := app.Engine().MonitorTransaction(ctx, network, reference, watchOperation, opts)
	if err != nil {
		slog.Error("Failed to monitor transaction", "reference", reference, "error", err)
		os.Exit(1)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reference:     %s\n", tx.Reference)
	fmt.Fprintf(out, "Status:        %s\n", tx.Status)
	fmt.Fprintf(out, "Retries:       %d/%d\n", tx.RetryCount, tx.MaxRetries)
	if tx.Status == domain.TxStatusConfirmed {
		latency, _ := tx.Latency()
		fmt.Fprintf(out, "Block:         %d\n", tx.BlockNumber)
		fmt.Fprintf(out, "Confirmations: %d\n", tx.Confirmations)
		fmt.Fprintf(out, "Gas used:      %s\n", tx.GasUsed)
		fmt.Fprintf(out, "Cost:          %s\n", formatAmount(cfg, network, tx.Cost))
		fmt.Fprintf(out, "Latency:       %s\n", formatLatency(latency))
		return
	}
	fmt.Fprintf(out, "Error:         %s\n", tx.LastError)
	stopWatcher(app)
	os.Exit(2)
}
