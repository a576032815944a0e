package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/zher/internal/storage"
)

func sampleRecords() []storage.DownloadRecord {
	return []storage.DownloadRecord{
		{ID: "a", Filename: "song.mp3", Path: "/dl/song.mp3", Size: 4096, Timestamp: 1700000000000},
		{ID: "b", Filename: "doc(1).pdf", Path: "/dl/doc(1).pdf", Size: 12, Timestamp: 1700000000500},
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "downloads.json"))

	records, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downloads.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	records, err := New(path).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoad_NullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downloads.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

	records, err := New(path).Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestSaveThenLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "downloads.json"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRecords()))

	records, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), records)
}

func TestSave_WireFormat(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "downloads.json"))

	require.NoError(t, s.Save(context.Background(), sampleRecords()[:1]))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","filename":"song.mp3","path":"/dl/song.mp3","size":4096,"timestamp":1700000000000}]`, string(data))
}

func TestSave_EmptyListAfterClear(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "downloads.json"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRecords()))
	require.NoError(t, s.Save(ctx, nil))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	records, err := New(s.Path()).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "downloads.json"))

	for range 3 {
		require.NoError(t, s.Save(context.Background(), sampleRecords()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "downloads.json", entries[0].Name())
}
