package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/core/worker"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune [network...]",
	Short: "Delete stored transactions older than a duration",
	Long: `Delete history records submitted before now minus --older-than.
Without arguments every configured network is pruned.`,
	Run: runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "retention to keep")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	if pruneOlderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg, app := openWatcher(ctx)
	defer stopWatcher(app)

	ids := networkIDs(args)
	if len(ids) == 0 {
		for _, n := range cfg.Networks {
			ids = append(ids, n.ID)
		}
	}
	for _, id := range ids {
		if _, ok := cfg.Network(id); !ok {
			slog.Error("Network is not configured", "network", id, "error", domain.ErrNoClient)
			stopWatcher(app)
			os.Exit(1)
		}
	}

	removed := worker.NewPruner(pruneOlderThan, ids, app.History()).Prune(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records older than %s\n", removed, pruneOlderThan)
}
