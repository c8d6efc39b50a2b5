package lexical

import "errors"

var (
	// ErrInvalidInput is returned when a Lexical JSON value does not match
	// the shape import requires (spec.md §4.1).
	ErrInvalidInput = errors.New("lexical: invalid input")
	// ErrEmptyDocument is returned by Export when the tree has no root.
	ErrEmptyDocument = errors.New("lexical: document has no root node")
	// ErrDuplicateMapping is returned by KeyMapper.Create when either side
	// of the binding is already taken (spec.md §4.2).
	ErrDuplicateMapping = errors.New("lexical: duplicate key/node mapping")
)
