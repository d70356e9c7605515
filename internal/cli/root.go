package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/txwatch/internal/control"
	"github.com/vietddude/txwatch/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "txwatch",
	Short: "Transaction and connection monitor",
	Long: `txwatch keeps connections to EVM and Substrate networks alive, follows
submitted transactions until they confirm, fail or time out, and serves
network health and performance metrics.`,
	Run: runWatcher,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor until interrupted (same as no command)",
	Args:  cobra.NoArgs,
	Run:   runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if isDebug {
		level = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// openWatcher builds a watcher from the config file. The caller stops it.
func openWatcher(ctx context.Context) (*config.AppConfig, *control.Watcher) {
	cfg := loadConfig()

	app, err := control.NewWatcher(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}
	return cfg, app
}

func stopWatcher(app *control.Watcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}
}

func runWatcher(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, app := openWatcher(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Watcher", "error", err)
		os.Exit(1)
	}

	slog.Info("Watcher started", "config", cfgPath, "networks", app.Engine().Networks())

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
