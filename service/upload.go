package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxUploadAttempts bounds the counter suffixes tried for one timestamp
const maxUploadAttempts = 1000

// SaveUpload stores r in dir under the base name of filename. When that name is
// taken a _YYYYMMDD_HHMMSS timestamp is inserted before the extension, followed by
// _2, _3, ... if several uploads collide within the same second.
func SaveUpload(dir, filename string, r io.Reader) (string, int64, error) {
	return saveUpload(dir, filename, r, time.Now)
}

func saveUpload(dir, filename string, r io.Reader, now func() time.Time) (string, int64, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", 0, errors.New("invalid filename")
	}

	f, path, err := createUnique(dir, name, now)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to save upload: %w", err)
	}
	return path, n, nil
}

// createUnique claims the first free candidate name with O_EXCL so concurrent
// uploads never share a file
func createUnique(dir, name string, now func() time.Time) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now().Format("20060102_150405")

	for attempt := 0; attempt <= maxUploadAttempts; attempt++ {
		candidate := name
		switch {
		case attempt == 1:
			candidate = fmt.Sprintf("%s_%s%s", stem, stamp, ext)
		case attempt > 1:
			candidate = fmt.Sprintf("%s_%s_%d%s", stem, stamp, attempt, ext)
		}

		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create upload file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create upload file: too many uploads named %s", name)
}
