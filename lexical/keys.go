package lexical

import (
	"crypto/rand"
	"encoding/base32"
	"sync"

	"github.com/gloudx/lexicaloro/internal/crdt"
)

// KeyMapper is the node mapper (spec.md §4.2): a pure lookup aid between
// Lexical's short random node keys and the CRDT tree's stable node ids.
// It owns no structure of its own — the tree is the source of truth for
// parent/child and sibling order — so it is implemented, per the teacher's
// own back-reference idiom (repository.Index wraps an MST purely for
// lookup), as two plain hash maps rebuilt on import.
type KeyMapper struct {
	mu       sync.RWMutex
	byKey    map[string]crdt.NodeID
	byNodeID map[crdt.NodeID]string
}

// NewKeyMapper returns an empty mapper.
func NewKeyMapper() *KeyMapper {
	return &KeyMapper{
		byKey:    make(map[string]crdt.NodeID),
		byNodeID: make(map[crdt.NodeID]string),
	}
}

// Create binds key to id. Both sides must be free.
func (m *KeyMapper) Create(key string, id crdt.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[key]; ok {
		return ErrDuplicateMapping
	}
	if _, ok := m.byNodeID[id]; ok {
		return ErrDuplicateMapping
	}
	m.byKey[key] = id
	m.byNodeID[id] = key
	return nil
}

// RemoveByKey unbinds the entry for key, if any.
func (m *KeyMapper) RemoveByKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[key]; ok {
		delete(m.byKey, key)
		delete(m.byNodeID, id)
	}
}

// RemoveByID unbinds the entry for id, if any.
func (m *KeyMapper) RemoveByID(id crdt.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.byNodeID[id]; ok {
		delete(m.byNodeID, id)
		delete(m.byKey, key)
	}
}

// LookupByKey resolves a Lexical node key to its tree node id.
func (m *KeyMapper) LookupByKey(key string) (crdt.NodeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	return id, ok
}

// LookupByID resolves a tree node id to its current Lexical node key.
func (m *KeyMapper) LookupByID(id crdt.NodeID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byNodeID[id]
	return key, ok
}

// Clear drops every binding.
func (m *KeyMapper) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = make(map[string]crdt.NodeID)
	m.byNodeID = make(map[crdt.NodeID]string)
}

// Len reports the number of bound pairs.
func (m *KeyMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// SyncExisting rebuilds the mapping from a full tree walk, generating a
// fresh key for any live node that does not already have one bound
// (spec.md §4.2's sync_existing). Existing bindings for nodes still in the
// tree are left untouched.
func SyncExisting(tree *crdt.Tree, mapper *KeyMapper) {
	root, ok := tree.Root()
	if !ok {
		mapper.Clear()
		return
	}

	live := make(map[crdt.NodeID]struct{})
	var walk func(id crdt.NodeID)
	walk = func(id crdt.NodeID) {
		live[id] = struct{}{}
		if _, bound := mapper.LookupByID(id); !bound {
			_ = mapper.Create(newLexicalKey(), id)
		}
		for _, child := range tree.Children(id) {
			walk(child)
		}
	}
	walk(root)

	mapper.mu.Lock()
	for id, key := range mapper.byNodeID {
		if _, ok := live[id]; !ok {
			delete(mapper.byNodeID, id)
			delete(mapper.byKey, key)
		}
	}
	mapper.mu.Unlock()
}

var keyEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// newLexicalKey returns a short random key in the style Lexical itself
// assigns to nodes ("__key"). Keys are regenerated on every export and are
// never persisted identity — the tree node id is (spec.md "Key
// regeneration").
func newLexicalKey() string {
	var raw [8]byte
	_, _ = rand.Read(raw[:])
	return keyEncoding.EncodeToString(raw[:])
}
