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
	historyNetwork string
	historyStatus  string
	historySince   time.Duration
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished transactions from the configured storage",
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyNetwork, "network", "", "only this network")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only this status (confirmed, failed, timeout)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only transactions submitted within this duration")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "most recent N records, 0 for all")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, app := openWatcher(ctx)
	defer stopWatcher(app)

	filter := domain.HistoryFilter{
		Network: domain.NetworkID(historyNetwork),
		Status:  domain.TxStatus(historyStatus),
		Limit:   historyLimit,
	}
	if historySince > 0 {
		filter.From = time.Now().Add(-historySince)
	}

	records, err := app.Engine().GetTransactionHistory(ctx, filter)
	if err != nil {
		slog.Error("Failed to load history", "error", err)
		stopWatcher(app)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SUBMITTED\tNETWORK\tREFERENCE\tOPERATION\tSTATUS\tRETRIES\tBLOCK\tCOST\tERROR")
	for _, tx := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			formatTime(&tx.SubmittedAt),
			tx.Network,
			tx.Reference,
			tx.Operation,
			tx.Status,
			tx.RetryCount,
			tx.BlockNumber,
			formatAmount(cfg, tx.Network, tx.Cost),
			tx.LastError,
		)
	}
	_ = w.Flush()
}
