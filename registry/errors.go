package registry

import "errors"

// I/O errors (spec.md §7).
var (
	ErrNotFound        = errors.New("registry: document not found")
	ErrCorruptPersisted = errors.New("registry: persisted document is corrupt")
	ErrWriteFailed     = errors.New("registry: write failed")
	ErrTimeout         = errors.New("registry: operation timed out")
)

// ErrNoCurrentDocument is raised by the command interface layer when doc_id
// is omitted and no current document has been set (spec.md §6.3), but it is
// defined here so both registry and command-interface callers share one
// sentinel.
var ErrNoCurrentDocument = errors.New("registry: no current document set")
