package hub

import "errors"

// Protocol-level sentinel errors (spec.md §7), following the same exported
// sentinel style as registry.ErrNotFound and cmdapi.ErrNoCurrentDocument.
var (
	ErrMalformedFrame = errors.New("hub: malformed frame")
	ErrUnknownType    = errors.New("hub: unknown frame type")
	ErrFrameTooLarge  = errors.New("hub: frame too large")
)
