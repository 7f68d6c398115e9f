package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/italolelis/model_downloader/internal/event"
)

var errDownloadFailed = errors.New("download failed")

func newFetchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <model-id>",
		Short: "Download a single model in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cat, err := a.loadCatalog(ctx)
			if err != nil {
				return err
			}

			events, err := a.newDownloader(cat, nil).Start(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to start download: %w", err)
			}

			return render(ctx, cmd.OutOrStdout(), events)
		},
	}
}

// render draws a progress bar for the event stream and returns once the
// stream ends.
func render(ctx context.Context, w io.Writer, events <-chan event.Event) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("waiting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	note := func(c *color.Color, msg string) {
		_ = bar.Clear()
		c.Fprintln(w, msg)
	}

	for ev := range events {
		switch e := ev.(type) {
		case event.Started:
			note(color.New(color.Bold), "Downloading "+e.ModelName)
		case event.Info:
			note(color.New(color.FgCyan), e.Message)
		case event.Warning:
			note(color.New(color.FgYellow), e.Message)
		case event.Progress:
			bar.Describe(fmt.Sprintf("%s %.2f MB/s eta %ds", e.Method, e.SpeedMBps, e.ETASeconds))
			_ = bar.Set(e.Progress)
		case event.Completed:
			_ = bar.Finish()

			msg := "Download complete"
			if e.Message != "" {
				msg = e.Message
			}

			note(color.New(color.FgGreen), msg)

			return nil
		case event.Cancelled:
			note(color.New(color.FgYellow), e.Message)

			return context.Canceled
		case event.Error:
			note(color.New(color.FgRed), e.Message)

			return fmt.Errorf("%w: %s", errDownloadFailed, e.Message)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return errDownloadFailed
}
