package crdt

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EphemeralStore holds transient, non-persisted per-peer state (cursors,
// selections, presence) scoped to one document. It is bounded by an LRU so
// a document with many short-lived collaborators never grows without limit
// (max_ephemeral_entries_per_doc, spec.md §6.4), the same bounded-cache
// idiom the teacher applies to block content in blockstore.Blockstore.
type EphemeralStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, []byte]
}

// NewEphemeralStore creates a store capped at maxEntries. maxEntries <= 0
// falls back to an effectively unbounded cache of 10000 entries.
func NewEphemeralStore(maxEntries int) *EphemeralStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, _ := lru.New[string, []byte](maxEntries)
	return &EphemeralStore{entries: c}
}

// Set stores the raw ephemeral payload for clientID, evicting the oldest
// entry if the store is at capacity.
func (s *EphemeralStore) Set(clientID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(clientID, payload)
}

// Remove deletes clientID's entry, reporting whether it existed.
func (s *EphemeralStore) Remove(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Remove(clientID)
}

// Len reports the number of live entries.
func (s *EphemeralStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// EncodeAll returns a self-contained encoding of every live entry, suitable
// for broadcasting or sending to a newly joined client. The byte order of
// the entries in the blob is not fixed between calls.
func (s *EphemeralStore) EncodeAll() ([]byte, error) {
	s.mu.Lock()
	keys := s.entries.Keys()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.entries.Peek(k); ok {
			out[k] = v
		}
	}
	s.mu.Unlock()
	return encodeEphemeralBlob(out)
}

// IsEmpty reports whether the store currently holds no entries.
func (s *EphemeralStore) IsEmpty() bool {
	return s.Len() == 0
}
