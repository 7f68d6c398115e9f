package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/italolelis/model_downloader/internal/catalog"
	"github.com/italolelis/model_downloader/internal/config"
	"github.com/italolelis/model_downloader/internal/downloader"
	"github.com/italolelis/model_downloader/internal/logctx"
	"github.com/italolelis/model_downloader/internal/telemetry"
	"github.com/italolelis/model_downloader/internal/transfer"
)

var version = "dev"

// app carries what every subcommand needs after the root pre-run.
type app struct {
	cfg         *config.Config
	catalogPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "model_downloader",
		Short:         "Download model artifacts from a catalog and stream progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				slog.Error("config error", "err", err)

				return err
			}

			if a.catalogPath == "" {
				a.catalogPath = cfg.CatalogPath
			}

			a.cfg = cfg

			logger := newLogger(os.Stderr, cfg.SlogLevel())
			slog.SetDefault(logger)

			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.catalogPath, "catalog", "c", "", "path to the model catalog (JSON or YAML), overrides CATALOG_PATH")

	serve := newServeCommand(a)

	cmd.AddCommand(serve, newListCommand(a), newFetchCommand(a))

	// serve is the default when no subcommand is given.
	cmd.RunE = serve.RunE

	return cmd
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadCatalog reads the catalog from the configured path, or from the first
// well-known location that exists.
func (a *app) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	logger := logctx.LoggerFromContext(ctx)

	path := a.catalogPath
	if path == "" {
		found, err := catalog.Locate(catalog.DefaultLocations)
		if err != nil {
			return nil, err
		}

		path = found
	}

	cat, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "catalog loaded", "path", path, "models", len(cat.Models))

	return cat, nil
}

func (a *app) newDownloader(cat *catalog.Catalog, tel *telemetry.Telemetry) *downloader.Downloader {
	return downloader.New(
		cat,
		transfer.CommandBuilder{},
		transfer.NewSupervisor(a.cfg.PollInterval, a.cfg.AttemptTimeout),
		tel,
		downloader.Options{
			MaxAttempts:  a.cfg.MaxAttempts,
			RetryBackoff: a.cfg.RetryBackoff,
			CancelGrace:  a.cfg.CancelGrace,
		},
	)
}

func startTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return tel, nil
}
