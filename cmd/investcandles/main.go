package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sawpanic/investcandles/internal/config"
	"github.com/sawpanic/investcandles/internal/host"
	"github.com/sawpanic/investcandles/internal/metadata"
	"github.com/sawpanic/investcandles/internal/orchestrator"
	"github.com/sawpanic/investcandles/internal/store"
)

const appName = "investcandles"

var tunablesPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:   appName,
		Short: "Rate-limited historical candle ingester",
	}
	root.PersistentFlags().StringVar(&tunablesPath, "tunables", "", "path to an optional YAML tunables file")

	root.AddCommand(deployCmd(), updateInstrumentsCmd(), downloadHistoryCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Create the database and schema if they do not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), func(h *host.Host) error {
				return h.Store.Create(cmd.Context(), store.AllAssetTypeNames())
			})
		},
	}
}

func updateInstrumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-instruments",
		Short: "Sync instrument metadata for every known asset type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), func(h *host.Host) error {
				client := metadata.NewHTTPClient(h.HTTP, "", h.Token(), h.Logger)
				return metadata.Sync(cmd.Context(), h.Logger, client, h.Store, store.AllAssetTypeNames())
			})
		},
	}
}

func downloadHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-history [figi...]",
		Short: "Fetch and store historical candles, optionally limited to the given FIGIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd.Context(), func(h *host.Host) error {
				return orchestrator.Run(cmd.Context(), h.Logger, h.Store, h.HistoryConfig(), args)
			})
		},
	}
}

// withHost loads configuration, builds a Host, runs fn, and always tears
// the Host down afterward.
func withHost(ctx context.Context, fn func(h *host.Host) error) error {
	cfg, err := config.Load(tunablesPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	h, err := host.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	defer h.Close()

	return fn(h)
}
