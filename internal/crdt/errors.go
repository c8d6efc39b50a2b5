package crdt

import "errors"

// Errors returned by Tree operations. Callers in model wrap these with
// additional context; they are not meant to be matched directly by remote
// clients.
var (
	ErrCorruptSnapshot = errors.New("crdt: corrupt snapshot")
	ErrCorruptUpdate   = errors.New("crdt: corrupt update")
	ErrUnknownNode     = errors.New("crdt: unknown node")
	ErrRootProtected   = errors.New("crdt: root node cannot be removed")
	ErrNoRoot          = errors.New("crdt: tree has no root")
)
