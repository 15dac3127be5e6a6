// Package store persists telemetry state as flat JSON documents. Every
// mutation takes a file lock, reloads the document, applies the change, and
// writes it back atomically, so the daemon and ad-hoc CLI reads never see a
// torn file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrStoreFull reports that a document would exceed its configured size
// ceiling.
var ErrStoreFull = errors.New("store size ceiling exceeded")

// withFileLock runs fn while holding an exclusive lock on the document's
// companion .lock file.
func withFileLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	fileLock := flock.New(lockPath)
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer fileLock.Unlock()
	return fn()
}

// readDocument loads a JSON document. A missing or empty file leaves v
// untouched and returns false.
func readDocument(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// writeDocument writes a JSON document atomically via temp file and rename.
// When maxBytes is positive and the encoded document would exceed it, nothing
// is written and ErrStoreFull is returned.
func writeDocument(path string, v any, maxBytes int64) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%s would reach %d bytes: %w", path, len(data), ErrStoreFull)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
