// Package instrumented decorates a RecordStore with telemetry.
package instrumented

import (
	"context"

	"github.com/italolelis/zher/internal/storage"
	"github.com/italolelis/zher/internal/telemetry"
)

// RecordStore wraps a storage.RecordStore with telemetry.
type RecordStore struct {
	store     storage.RecordStore
	telemetry *telemetry.Telemetry
}

// NewRecordStore creates a new instrumented record store.
func NewRecordStore(store storage.RecordStore, tel *telemetry.Telemetry) *RecordStore {
	return &RecordStore{
		store:     store,
		telemetry: tel,
	}
}

// Load loads the records with telemetry.
func (r *RecordStore) Load(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentStoreOperation(ctx, "load", func(ctx context.Context) error {
		var err error

		result, err = r.store.Load(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Save saves the records with telemetry.
func (r *RecordStore) Save(ctx context.Context, records []storage.DownloadRecord) error {
	return r.telemetry.InstrumentStoreOperation(ctx, "save", func(ctx context.Context) error {
		return r.store.Save(ctx, records)
	})
}
