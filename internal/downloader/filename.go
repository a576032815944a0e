package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/italolelis/zher/internal/transfer"
)

// SanitizeFilename reduces name to a bare file name. Blank names and names
// that are only a path element such as "." or ".." are rejected.
func SanitizeFilename(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", &transfer.ValidationError{Field: "filename", Reason: "must not be blank", Err: transfer.ErrInvalidFilename}
	}

	base := path.Base(strings.ReplaceAll(trimmed, `\`, "/"))
	if base == "." || base == ".." || base == "/" {
		return "", &transfer.ValidationError{Field: "filename", Reason: "must name a file", Err: transfer.ErrInvalidFilename}
	}

	return base, nil
}

// UniqueFilename returns name, or the first "stem(n).ext" variant with n >= 1,
// such that no file of that name exists in dir and taken reports false.
func UniqueFilename(dir, name string, taken func(string) bool) (string, error) {
	free := func(candidate string) (bool, error) {
		if taken != nil && taken(candidate) {
			return false, nil
		}

		_, err := os.Lstat(filepath.Join(dir, candidate))
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}

		if err != nil {
			return false, &transfer.FileSystemError{Operation: "stat", Path: filepath.Join(dir, candidate), Err: err}
		}

		return false, nil
	}

	ok, err := free(name)
	if err != nil || ok {
		return name, err
	}

	stem, ext := splitExt(name)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(%d)%s", stem, n, ext)

		ok, err := free(candidate)
		if err != nil {
			return "", err
		}

		if ok {
			return candidate, nil
		}
	}
}

// splitExt splits off the last extension. A leading dot alone does not start
// an extension, so ".bashrc" has none.
func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}

	return strings.TrimSuffix(name, ext), ext
}
