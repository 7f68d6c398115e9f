package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/model_downloader/internal/cleanup"
	"github.com/italolelis/model_downloader/internal/config"
	"github.com/italolelis/model_downloader/internal/downloader"
	"github.com/italolelis/model_downloader/internal/http/rest"
	"github.com/italolelis/model_downloader/internal/logctx"
	"github.com/italolelis/model_downloader/internal/notifier"
	"github.com/italolelis/model_downloader/internal/telemetry"
)

const logFileName = "model_downloader.log"

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)
	cfg := a.cfg

	logger.InfoContext(ctx, "model downloader starting...", "log_level", cfg.LogLevel, "version", version)

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load catalog", "err", err)

		return err
	}

	// =========================================================================
	// Log to the catalog's log directory as well
	logFile, err := os.OpenFile(filepath.Join(cat.LogPath, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.WarnContext(ctx, "failed to open log file, logging to stderr only", "dir", cat.LogPath, "err", err)
	} else {
		defer logFile.Close()

		logger = newLogger(io.MultiWriter(os.Stderr, logFile), cfg.SlogLevel())
		ctx = logctx.WithLogger(ctx, logger)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Sweep temp files left behind by a previous run
	removed, err := cleanup.DeleteStaleTempFiles(ctx, cat.TempPath, cfg.StaleTempAfter)
	if err != nil {
		logger.WarnContext(ctx, "stale temp sweep finished with errors", "removed", removed, "err", err)
	} else if removed > 0 {
		logger.InfoContext(ctx, "stale temp files removed", "removed", removed)
	}

	// =========================================================================
	// Start Downloader
	dl := a.newDownloader(cat, tel)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, dl, tel, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchResults(gctx, dl, notif)

		return nil
	})

	g.Go(func() error {
		logger.InfoContext(ctx, "Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.InfoContext(ctx, "start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, dl *downloader.Downloader, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewModelsHandler(dl).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// watchResults logs terminal download outcomes and forwards them to the
// notifier, if one is configured.
func watchResults(ctx context.Context, dl *downloader.Downloader, notif notifier.Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	send := func(content string) {
		if notif == nil {
			return
		}

		if err := notif.Notify(ctx, content); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-dl.OnDownloadFinished:
			logger.InfoContext(ctx, "model download finished", "model_id", res.ModelID, "method", res.Method, "duration", res.Duration.String())

			send(fmt.Sprintf("✅ Download finished for model: %s (%s) via %s", res.ModelName, res.ModelID, res.Method))
		case res := <-dl.OnDownloadFailed:
			logger.ErrorContext(ctx, "model download failed", "model_id", res.ModelID, "err", res.Err)

			send(fmt.Sprintf("❌ Download failed for model: %s (%s)", res.ModelName, res.ModelID))
		}
	}
}
