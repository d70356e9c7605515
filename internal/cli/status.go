package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/txwatch/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:     "status [network...]",
	Aliases: []string{"check"},
	Short:   "Connect to the configured networks and show connection state and health",
	Run:     runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, app := openWatcher(ctx)
	defer stopWatcher(app)

	if err := app.Connect(ctx, networkIDs(args)...); err != nil {
		slog.Warn("Some networks failed to connect", "error", err)
	}

	engine := app.Engine()
	results := engine.CheckAll(ctx)

	storage := "ok"
	if err := app.StorageHealth(ctx); err != nil {
		storage = err.Error()
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Storage (%s): %s\n\n", cfg.Storage.Driver, storage)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NETWORK\tSTATE\tENDPOINT\tCHAIN\tHEAD\tHEALTH")
	for _, id := range engine.Networks() {
		state, info, err := engine.Connection(id)
		if err != nil {
			continue
		}
		endpoint, name, head := "-", "-", "-"
		if info != nil {
			endpoint, name, head = info.Endpoint, info.Name, fmt.Sprint(info.Head)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", id, state, endpoint, name, head, results[id].Overall)
	}
	_ = w.Flush()

	if isDebug || slices.ContainsFunc(engine.Networks(), func(id domain.NetworkID) bool {
		return results[id].Overall != domain.HealthHealthy
	}) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
		printChecks(cmd, results)
	}

	if engine.HealthStore().Worst() == domain.HealthCritical {
		stopWatcher(app)
		os.Exit(2)
	}
}

func printChecks(cmd *cobra.Command, results map[domain.NetworkID]domain.HealthCheckResult) {
	ids := make([]domain.NetworkID, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NETWORK\tCHECK\tSTATUS\tLATENCY\tDETAIL")
	for _, id := range ids {
		for _, c := range results[id].Checks {
			detail := c.Detail
			if c.Error != "" {
				detail = c.Error
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, c.Name, c.Status, formatLatency(c.Latency), detail)
		}
	}
	_ = w.Flush()
}
