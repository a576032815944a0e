package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/transfer"
)

// DeleteStaleStagingFiles removes staging files in dir that were last written
// more than keepFor ago. Files for which inUse reports true are skipped. It
// returns the number of files removed.
func DeleteStaleStagingFiles(ctx context.Context, dir string, keepFor time.Duration, inUse func(path string) bool) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	now := time.Now()
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), transfer.StagingSuffix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if inUse != nil && inUse(path) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat staging file", "file", path, "err", err)

			continue
		}

		if now.Sub(info.ModTime()) <= keepFor {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete stale staging file", "file", path, "err", err)

			continue
		}

		removed++

		logger.Info("deleted stale staging file", "file", path, "age", now.Sub(info.ModTime()).Round(time.Second).String())
	}

	return removed, nil
}

// Run sweeps dir every interval until ctx is done.
func Run(ctx context.Context, dir string, interval, keepFor time.Duration, inUse func(path string) bool) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return
		case <-ticker.C:
			if _, err := DeleteStaleStagingFiles(ctx, dir, keepFor, inUse); err != nil {
				logger.Error("failed to delete stale staging files", "err", err)
			}
		}
	}
}
