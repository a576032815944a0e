package storage

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned when no record carries the requested id.
var ErrRecordNotFound = errors.New("download record not found")

// DownloadRecord describes a completed download. Path always names the final file.
type DownloadRecord struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"` // completion time, Unix milliseconds
}

// RecordStore persists the full record list. Save replaces whatever was stored before.
type RecordStore interface {
	Load(ctx context.Context) ([]DownloadRecord, error)
	Save(ctx context.Context, records []DownloadRecord) error
}
