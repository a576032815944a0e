// Package jsonfile stores download records as a JSON array in a single file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/storage"
)

// Store reads and writes the record file at path.
type Store struct {
	path string
}

// New returns a Store for the file at path. The file and its directory are
// created on the first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored records. A missing or unreadable-as-JSON file yields
// an empty list; only I/O failures are returned.
func (s *Store) Load(ctx context.Context) ([]storage.DownloadRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []storage.DownloadRecord{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	var records []storage.DownloadRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "ignoring malformed record file", "path", s.path, "err", err)

		return []storage.DownloadRecord{}, nil
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	return records, nil
}

// Save replaces the record file. The list is written to a temporary file in the
// same directory and renamed over the old one, so a crash leaves either the
// previous or the new list on disk.
func (s *Store) Save(_ context.Context, records []storage.DownloadRecord) error {
	if records == nil {
		records = []storage.DownloadRecord{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "downloads-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp record file: %w", err)
	}

	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")

	if err := enc.Encode(records); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to encode records: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to sync records: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to close temp record file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		// Some platforms refuse to rename over an existing file.
		_ = os.Remove(s.path)

		if err := os.Rename(tmpPath, s.path); err != nil {
			_ = os.Remove(tmpPath)

			return fmt.Errorf("failed to replace record file: %w", err)
		}
	}

	return nil
}
