package instrumented

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/zher/internal/storage"
)

type memStore struct {
	records []storage.DownloadRecord
	err     error
}

func (m *memStore) Load(context.Context) ([]storage.DownloadRecord, error) {
	return m.records, m.err
}

func (m *memStore) Save(_ context.Context, records []storage.DownloadRecord) error {
	if m.err != nil {
		return m.err
	}

	m.records = records

	return nil
}

func TestRecordStore_Delegates(t *testing.T) {
	inner := &memStore{}
	s := NewRecordStore(inner, nil)
	ctx := context.Background()

	want := []storage.DownloadRecord{{ID: "x", Filename: "a.txt"}}
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecordStore_PropagatesErrors(t *testing.T) {
	boom := errors.New("disk full")
	s := NewRecordStore(&memStore{err: boom}, nil)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Save(context.Background(), nil), boom)
}
