package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// documentPath returns the persisted file path for docID under base.
func documentPath(base, docID string) string {
	return filepath.Join(base, docID+".json")
}

// loadPersisted reads and parses the document at <base>/<docID>.json. A
// missing file is reported as ErrNotFound; malformed JSON as
// ErrCorruptPersisted (spec.md §6.1 — the registry never silently
// overwrites a file it can't parse).
func loadPersisted(base, docID string) (map[string]any, error) {
	data, err := os.ReadFile(documentPath(base, docID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPersisted, err)
	}
	return state, nil
}

// savePersisted writes data atomically to <base>/<docID>.json: write to a
// sibling .tmp file, fsync it, then rename over the target (spec.md §6.1).
func savePersisted(base, docID string, data []byte) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	target := documentPath(base, docID)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
