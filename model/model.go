// Package model implements the per-document state machine (spec.md §4.3,
// Document Model): a CRDT tree and its Lexical key mapping guarded by a
// single mutex, with events drained to subscribers outside the critical
// section (the outbox pattern, spec.md §9).
package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gloudx/lexicaloro/internal/crdt"
	"github.com/gloudx/lexicaloro/lexical"
)

type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateInitialized
)

// Document is one document's CRDT replica plus the bookkeeping spec.md
// assigns to the document model: mapper, ephemeral store, modification
// counter, last-broadcast vector and persisted hash.
type Document struct {
	mu       sync.Mutex
	state    lifecycleState
	poisoned bool

	docID string
	tree  *crdt.Tree
	mapper *lexical.KeyMapper
	eph    *crdt.EphemeralStore

	modCount        uint64
	lastBroadcastVV crdt.VersionVector
	persistedHash   string
	lastSavedAt     time.Time

	emitter *emitter
	logger  *slog.Logger
}

// NewDocument constructs an uninitialized document replica. peerID seeds the
// CRDT tree's identity in the version vector; maxEphemeral bounds the
// ephemeral store (0 uses its default cap).
func NewDocument(docID, peerID string, maxEphemeral int, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		docID:  docID,
		tree:   crdt.NewTree(peerID),
		mapper: lexical.NewKeyMapper(),
		eph:    crdt.NewEphemeralStore(maxEphemeral),
		emitter: newEmitter(logger.With("doc_id", docID)),
		logger:  logger.With("doc_id", docID),
	}
}

// Subscribe registers h to receive every event this document emits.
func (d *Document) Subscribe(h Handler) {
	d.emitter.Subscribe(h)
}

// DocID returns the document's identifier.
func (d *Document) DocID() string { return d.docID }

// IsPoisoned reports whether a past panic has permanently tainted this
// replica (spec.md §4.3.7). A poisoned document rejects every further
// operation; callers that hold a long-lived reference (the registry's
// cache) must evict and reconstruct rather than keep serving it.
func (d *Document) IsPoisoned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poisoned
}

// PoisonForTesting force-poisons the document without requiring a real
// panic during a mutation, so callers outside this package can exercise the
// poisoned-eviction path (e.g. the registry's recovery test) deterministically.
func (d *Document) PoisonForTesting() {
	d.mu.Lock()
	d.poisoned = true
	d.mu.Unlock()
}

// mutate runs f under the document mutex, handling the poisoned/panic
// protocol from spec.md §4.3.7: a panic inside f poisons the document and
// every subsequent call (including this one) reports ErrModelPoisoned.
// Events returned by f are emitted only after the mutex is released.
func (d *Document) mutate(f func() ([]Event, error)) (err error) {
	d.mu.Lock()
	if d.poisoned {
		d.mu.Unlock()
		return ErrModelPoisoned
	}

	var events []Event
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.poisoned = true
				err = fmt.Errorf("%w: %v", ErrModelPoisoned, r)
			}
		}()
		events, err = f()
	}()
	d.mu.Unlock()

	if err == nil {
		d.emitter.emit(events)
	}
	return err
}

// read runs f under the document mutex without the poison/recover wrapper,
// for operations spec.md classifies as read-only but which the specified
// default (§5) still serializes against concurrent exports/mutations.
func (d *Document) read(f func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.poisoned {
		return ErrModelPoisoned
	}
	return f()
}

func (d *Document) requireInitializedLocked() error {
	if d.state != stateInitialized {
		return ErrUninitialized
	}
	return nil
}

// InitializeFromLexical seeds the document from a Lexical JSON root. It may
// only be called once; subsequent calls fail with ErrAlreadyInitialized.
func (d *Document) InitializeFromLexical(state map[string]any) error {
	return d.mutate(func() ([]Event, error) {
		if d.state == stateInitialized {
			return nil, ErrAlreadyInitialized
		}
		if state == nil {
			return nil, ErrInvalidInput
		}
		if _, err := lexical.Import(d.tree, d.mapper, state); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		d.state = stateInitialized
		d.modCount++
		d.lastBroadcastVV = d.tree.VersionVector()
		return []Event{{Type: EventDocumentChanged, DocID: d.docID}}, nil
	})
}

// ExportLexical returns the current document as a Lexical JSON root.
func (d *Document) ExportLexical() (map[string]any, error) {
	var out map[string]any
	err := d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		exported, err := lexical.Export(d.tree)
		if err != nil {
			return err
		}
		out = exported
		return nil
	})
	return out, err
}

// AddBlock creates a new node under parentKey's tree id holding data, at an
// optional sibling index, and returns the freshly minted lexical key for it.
// Only one node is created: a "children" entry in data is stripped along
// with the key fields, and no child nodes are created from it.
func (d *Document) AddBlock(parentKey string, data map[string]any, index *int) (string, error) {
	var newKey string
	err := d.mutate(func() ([]Event, error) {
		if err := d.requireInitializedLocked(); err != nil {
			return nil, err
		}
		parentID, ok := d.mapper.LookupByKey(parentKey)
		if !ok {
			return nil, ErrUnknownParent
		}
		elementType, ok := data["type"].(string)
		if !ok || elementType == "" {
			return nil, ErrInvalidInput
		}

		at := -1
		if index != nil {
			at = *index
		}
		id, err := d.tree.CreateNode(parentID, at, elementType, lexical.CleanFields(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		candidateKey := lexical.NewKey()
		if err := d.mapper.Create(candidateKey, id); err != nil {
			return nil, err
		}
		newKey = candidateKey

		d.modCount++
		return []Event{
			{Type: EventTreeNodeCreated, DocID: d.docID, NodeKey: newKey},
			{Type: EventDocumentChanged, DocID: d.docID},
		}, nil
	})
	return newKey, err
}

// UpdateBlock replaces the metadata bag stored for key.
func (d *Document) UpdateBlock(key string, data map[string]any) error {
	return d.mutate(func() ([]Event, error) {
		if err := d.requireInitializedLocked(); err != nil {
			return nil, err
		}
		id, ok := d.mapper.LookupByKey(key)
		if !ok {
			return nil, ErrUnknownNode
		}
		elementType, _, ok := d.tree.Meta(id)
		if !ok {
			return nil, ErrUnknownNode
		}
		if t, ok := data["type"].(string); ok && t != "" {
			elementType = t
		}
		if err := d.tree.SetMeta(id, elementType, lexical.CleanFields(data)); err != nil {
			return nil, err
		}

		d.modCount++
		return []Event{
			{Type: EventTreeNodeUpdated, DocID: d.docID, NodeKey: key},
			{Type: EventDocumentChanged, DocID: d.docID},
		}, nil
	})
}

// RemoveBlock deletes the node bound to key and its subtree. The root may
// never be removed (P6).
func (d *Document) RemoveBlock(key string) error {
	return d.mutate(func() ([]Event, error) {
		if err := d.requireInitializedLocked(); err != nil {
			return nil, err
		}
		id, ok := d.mapper.LookupByKey(key)
		if !ok {
			return nil, ErrUnknownNode
		}
		if err := d.tree.DeleteNode(id); err != nil {
			if err == crdt.ErrRootProtected {
				return nil, ErrRootProtected
			}
			return nil, ErrUnknownNode
		}
		d.mapper.RemoveByID(id)

		d.modCount++
		return []Event{
			{Type: EventTreeNodeDeleted, DocID: d.docID, NodeKey: key},
			{Type: EventDocumentChanged, DocID: d.docID},
		}, nil
	})
}

// FindByType returns the lexical keys of every live node with the given
// element type, in no particular order.
func (d *Document) FindByType(elementType string) ([]string, error) {
	var keys []string
	err := d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		root, ok := d.tree.Root()
		if !ok {
			return nil
		}
		var walk func(id crdt.NodeID)
		walk = func(id crdt.NodeID) {
			if et, _, ok := d.tree.Meta(id); ok && et == elementType {
				if key, ok := d.mapper.LookupByID(id); ok {
					keys = append(keys, key)
				}
			}
			for _, child := range d.tree.Children(id) {
				walk(child)
			}
		}
		walk(root)
		return nil
	})
	return keys, err
}

// GetSnapshot returns a full, self-contained encoding of the document's
// current CRDT state.
func (d *Document) GetSnapshot() ([]byte, error) {
	var out []byte
	err := d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		snap, err := d.tree.Snapshot()
		if err != nil {
			return err
		}
		out = snap
		return nil
	})
	return out, err
}

// ImportSnapshot replaces the document's tree and mapper with the state
// encoded in data. On failure the document is left in its prior state
// (CRDT import is atomic, spec.md §4.3.7).
func (d *Document) ImportSnapshot(data []byte) error {
	return d.mutate(func() ([]Event, error) {
		if err := d.tree.ImportSnapshot(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		lexical.SyncExisting(d.tree, d.mapper)
		d.state = stateInitialized
		d.modCount++
		d.lastBroadcastVV = d.tree.VersionVector()
		return []Event{{Type: EventDocumentChanged, DocID: d.docID}}, nil
	})
}

// ApplyUpdate applies a remote CRDT update, idempotently (P3).
func (d *Document) ApplyUpdate(data []byte) error {
	return d.mutate(func() ([]Event, error) {
		if err := d.requireInitializedLocked(); err != nil {
			return nil, err
		}
		if err := d.tree.ApplyUpdate(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
		}
		lexical.SyncExisting(d.tree, d.mapper)
		d.modCount++
		return []Event{{Type: EventDocumentChanged, DocID: d.docID}}, nil
	})
}

// ExportUpdateSince returns the CRDT delta needed to bring a peer at vv up
// to the local frontier. ok is false when there is nothing to send.
func (d *Document) ExportUpdateSince(vv crdt.VersionVector) (data []byte, ok bool, err error) {
	err = d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		data, ok, err = d.tree.ExportUpdateSince(vv)
		return err
	})
	return data, ok, err
}

// HasUnbroadcastChanges reports whether the current version vector has
// advanced past the last vector successfully rebroadcast to the hub.
func (d *Document) HasUnbroadcastChanges() (bool, error) {
	var changed bool
	err := d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		changed = !d.tree.VersionVector().Equal(d.lastBroadcastVV)
		return nil
	})
	return changed, err
}

// markBroadcast advances the last-broadcast vector to the tree's current
// frontier. Called after a successful rebroadcast.
func (d *Document) markBroadcast() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBroadcastVV = d.tree.VersionVector()
}

// ContentHash returns the stable digest over the exported, key-normalized
// Lexical JSON (spec.md §4.3.4).
func (d *Document) ContentHash() (string, error) {
	var hash string
	err := d.read(func() error {
		if err := d.requireInitializedLocked(); err != nil {
			return err
		}
		exported, err := lexical.Export(d.tree)
		if err != nil {
			return err
		}
		hash, err = contentHash(exported)
		return err
	})
	return hash, err
}

// HasChangedSinceLastSave reports whether the current content hash differs
// from the hash recorded at the last successful persist.
func (d *Document) HasChangedSinceLastSave() (bool, error) {
	hash, err := d.ContentHash()
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return hash != d.persistedHash, nil
}

// MarkPersisted records hash as the hash of the state just written to
// storage. Called by the registry after a successful save.
func (d *Document) MarkPersisted(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persistedHash = hash
	d.lastSavedAt = time.Now()
}

// OnClientDisconnect prunes any ephemeral entry held for clientID and
// returns its key if one was removed, for the hub to broadcast an ephemeral
// frame reflecting the removal.
func (d *Document) OnClientDisconnect(clientID string) ([]string, error) {
	var removed []string
	err := d.mutate(func() ([]Event, error) {
		if !d.eph.Remove(clientID) {
			return nil, nil
		}
		removed = []string{clientID}
		return []Event{{Type: EventEphemeralChanged, DocID: d.docID, SenderID: clientID}}, nil
	})
	return removed, err
}

// EncodeEphemeral returns a self-contained encoding of every live ephemeral
// entry, for a newly joined client or a query-ephemeral request.
func (d *Document) EncodeEphemeral() ([]byte, error) {
	var out []byte
	err := d.read(func() error {
		if d.eph.IsEmpty() {
			return nil
		}
		blob, err := d.eph.EncodeAll()
		if err != nil {
			return err
		}
		out = blob
		return nil
	})
	return out, err
}

// Stats reports block-type introspection for get_document_info (spec.md
// §6.3): a count of live nodes per element type plus the total node count.
type Stats struct {
	DocID       string
	NodeCount   int
	ByType      map[string]int
	ModCount    uint64
	Initialized bool
	LastSaved   time.Time
}

// DocumentStats returns introspection data for this document.
func (d *Document) DocumentStats() (Stats, error) {
	var s Stats
	err := d.read(func() error {
		s.DocID = d.docID
		s.ModCount = d.modCount
		s.Initialized = d.state == stateInitialized
		s.LastSaved = d.lastSavedAt
		if s.Initialized {
			s.NodeCount = d.tree.NodeCount()
			s.ByType = make(map[string]int)
			root, ok := d.tree.Root()
			if ok {
				var walk func(id crdt.NodeID)
				walk = func(id crdt.NodeID) {
					if et, _, ok := d.tree.Meta(id); ok {
						s.ByType[et]++
					}
					for _, child := range d.tree.Children(id) {
						walk(child)
					}
				}
				walk(root)
			}
		}
		return nil
	})
	return s, err
}

// MarshalForPersist exports the document and re-marshals it as indented
// JSON for human-readable persisted files (spec.md §6.1), returning the
// content hash alongside it so the registry can mark it persisted on
// success without re-exporting.
func (d *Document) MarshalForPersist() ([]byte, string, error) {
	exported, err := d.ExportLexical()
	if err != nil {
		return nil, "", err
	}
	hash, err := contentHash(exported)
	if err != nil {
		return nil, "", err
	}
	data, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return data, hash, nil
}
