package cmdapi

import "github.com/gloudx/lexicaloro/registry"

// ErrNoCurrentDocument is raised when doc_id is omitted and no current
// document has been set (spec.md §6.3). Re-exported from registry so
// callers only need to import this package.
var ErrNoCurrentDocument = registry.ErrNoCurrentDocument
