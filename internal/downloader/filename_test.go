package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"song.mp3", "song.mp3", false},
		{"  spaced.txt  ", "spaced.txt", false},
		{"../../etc/passwd", "passwd", false},
		{`C:\Users\me\file.txt`, "file.txt", false},
		{"dir/", "dir", false},
		{"", "", true},
		{"   ", "", true},
		{".", "", true},
		{"..", "", true},
		{"/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeFilename(tt.in)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUniqueFilename(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"a.txt", "a(1).txt", "archive.tar.gz", ".bashrc", "README"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	tests := []struct {
		name  string
		taken []string
		want  string
	}{
		{"fresh.txt", nil, "fresh.txt"},
		{"a.txt", nil, "a(2).txt"},
		{"archive.tar.gz", nil, "archive.tar(1).gz"},
		{".bashrc", nil, ".bashrc(1)"},
		{"README", nil, "README(1)"},
		{"fresh.txt", []string{"fresh.txt"}, "fresh(1).txt"},
		{"README", []string{"README(1)"}, "README(2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taken := func(n string) bool {
				for _, x := range tt.taken {
					if x == n {
						return true
					}
				}

				return false
			}

			got, err := UniqueFilename(dir, tt.name, taken)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
