package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/italolelis/model_downloader/internal/logctx"
)

const tempSuffix = ".tmp"

// SweepTempFiles removes every *.tmp file directly inside dir except those
// for which keep returns true. Removal errors are logged and skipped. It
// returns the number of files removed.
func SweepTempFiles(ctx context.Context, dir string, keep func(name string) bool) int {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.WarnContext(ctx, "failed to list temp directory", "dir", dir, "err", err)

		return 0
	}

	removed := 0

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tempSuffix) {
			continue
		}

		if keep != nil && keep(name) {
			logger.DebugContext(ctx, "keeping temp file of active download", "file", name)

			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.WarnContext(ctx, "failed to delete temp file", "file", name, "err", err)
			}

			continue
		}

		removed++
	}

	return removed
}

// DeleteStaleTempFiles removes *.tmp files in dir whose modification time is
// older than maxAge. Every failure is collected and returned together.
func DeleteStaleTempFiles(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list temp directory: %w", err)
	}

	var (
		result  *multierror.Error
		removed int
	)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tempSuffix) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			result = multierror.Append(result, fmt.Errorf("stat %s: %w", name, err))

			continue
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", name, err))

			continue
		}

		logger.InfoContext(ctx, "deleted stale temp file", "file", name, "age", now.Sub(info.ModTime()).Round(time.Second))

		removed++
	}

	return removed, result.ErrorOrNil()
}
