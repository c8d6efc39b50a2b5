// Package crdt implements the minimal ordered-tree CRDT surface that
// spec.md treats as provided by an external library (Loro): node
// create/delete, per-node metadata, snapshot export/import, update apply,
// and version vectors. No Go binding for that library exists in the
// retrieval pack, so this package stands in for it, grounded on
// cshekharsharma-go-crdt's RGA (an ordered, tombstone-aware sequence CRDT)
// generalized from a flat array to a tree, and on the teacher's clock
// package for logical/version clocks.
package crdt

import (
	"fmt"
	"sync"
)

type node struct {
	elementType string
	lexical     map[string]any
}

// Tree is one peer's replica of the lexical tree container. All exported
// methods are safe for concurrent use; callers that also need atomicity
// across several calls (e.g. model's mutation protocol) still hold their
// own outer mutex per spec.md §5.
type Tree struct {
	mu sync.Mutex

	peerID  string
	counter uint64

	root     NodeID
	nodes    map[NodeID]*node
	children map[NodeID][]NodeID
	parent   map[NodeID]NodeID

	vv  VersionVector
	log []Op
}

// NewTree creates an empty tree authored locally as peerID. peerID is this
// replica's identity in the version vector; it never needs to be globally
// unique beyond "distinct per model instance".
func NewTree(peerID string) *Tree {
	return &Tree{
		peerID:   peerID,
		nodes:    make(map[NodeID]*node),
		children: make(map[NodeID][]NodeID),
		parent:   make(map[NodeID]NodeID),
		vv:       make(VersionVector),
	}
}

// Reset discards all nodes, the op log and the version vector. Used by
// initialize_from_lexical and import_snapshot's "clear tree" step.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = UndefNodeID
	t.nodes = make(map[NodeID]*node)
	t.children = make(map[NodeID][]NodeID)
	t.parent = make(map[NodeID]NodeID)
	t.vv = make(VersionVector)
	t.log = nil
}

// Root returns the tree's unique root node, if any.
func (t *Tree) Root() (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root, t.root.Defined()
}

// Children returns the ordered child ids of parent. The returned slice is a
// copy; callers may not mutate tree state through it.
func (t *Tree) Children(parent NodeID) []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	kids := t.children[parent]
	out := make([]NodeID, len(kids))
	copy(out, kids)
	return out
}

// Meta returns the element type and lexical field bag stored for id.
func (t *Tree) Meta(id NodeID) (elementType string, lexical map[string]any, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, found := t.nodes[id]
	if !found {
		return "", nil, false
	}
	return n.elementType, n.lexical, true
}

// NodeCount reports the number of live nodes, root included.
func (t *Tree) NodeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// VersionVector returns a snapshot of the tree's current version vector.
func (t *Tree) VersionVector() VersionVector {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vv.Clone()
}

// CreateNode creates a new node under parent at index (or as root, when
// parent is the undefined NodeID and the tree is currently empty) and
// returns its id. It is always a locally authored op: the caller owns
// serialization of concurrent callers (model's document mutex).
func (t *Tree) CreateNode(parent NodeID, index int, elementType string, lexical map[string]any) (NodeID, error) {
	if elementType == "" {
		return UndefNodeID, fmt.Errorf("%w: elementType must not be empty", ErrCorruptUpdate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !parent.Defined() {
		if t.root.Defined() {
			return UndefNodeID, fmt.Errorf("crdt: root already exists")
		}
	} else if _, ok := t.nodes[parent]; !ok {
		return UndefNodeID, ErrUnknownNode
	}

	t.counter++
	id, err := newNodeID(t.peerID, t.counter, parent)
	if err != nil {
		return UndefNodeID, err
	}

	op := Op{
		Kind:        opCreate,
		PeerID:      t.peerID,
		Counter:     t.counter,
		Node:        id,
		Parent:      parent,
		Index:       index,
		ElementType: elementType,
		Lexical:     cloneBag(lexical),
	}
	if err := t.applyMutation(op); err != nil {
		return UndefNodeID, err
	}
	t.commitLocal(op)
	return id, nil
}

// SetMeta replaces the elementType/lexical bag stored for id.
func (t *Tree) SetMeta(id NodeID, elementType string, lexical map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; !ok {
		return ErrUnknownNode
	}
	t.counter++
	op := Op{
		Kind:        opSetMeta,
		PeerID:      t.peerID,
		Counter:     t.counter,
		Node:        id,
		ElementType: elementType,
		Lexical:     cloneBag(lexical),
	}
	if err := t.applyMutation(op); err != nil {
		return err
	}
	t.commitLocal(op)
	return nil
}

// DeleteNode removes id and its entire subtree. The root may never be
// deleted (P6).
func (t *Tree) DeleteNode(id NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == t.root {
		return ErrRootProtected
	}
	if _, ok := t.nodes[id]; !ok {
		return ErrUnknownNode
	}
	t.counter++
	op := Op{
		Kind:    opDelete,
		PeerID:  t.peerID,
		Counter: t.counter,
		Node:    id,
	}
	if err := t.applyMutation(op); err != nil {
		return err
	}
	t.commitLocal(op)
	return nil
}

// commitLocal appends an already-applied local op to the log and advances
// this peer's own version vector entry. Must be called with mu held.
func (t *Tree) commitLocal(op Op) {
	t.log = append(t.log, op)
	t.vv.Advance(op.PeerID, op.Counter)
}

// applyMutation performs the structural effect of op without touching the
// log or version vector; callers decide whether/how to record it. Must be
// called with mu held.
func (t *Tree) applyMutation(op Op) error {
	switch op.Kind {
	case opCreate:
		n := &node{elementType: op.ElementType, lexical: cloneBag(op.Lexical)}
		t.nodes[op.Node] = n
		if !op.Parent.Defined() {
			t.root = op.Node
			return nil
		}
		t.parent[op.Node] = op.Parent
		t.insertChild(op.Parent, op.Node, op.Index)
		return nil

	case opSetMeta:
		n, ok := t.nodes[op.Node]
		if !ok {
			// A remote setMeta for a node already deleted locally is a
			// legal race under causal delivery; ignore it rather than
			// erroring the whole update.
			return nil
		}
		n.elementType = op.ElementType
		n.lexical = cloneBag(op.Lexical)
		return nil

	case opDelete:
		if op.Node == t.root {
			return ErrRootProtected
		}
		if _, ok := t.nodes[op.Node]; !ok {
			return nil
		}
		t.deleteSubtree(op.Node)
		return nil

	default:
		return fmt.Errorf("%w: unknown op kind %d", ErrCorruptUpdate, op.Kind)
	}
}

func (t *Tree) insertChild(parent, child NodeID, index int) {
	kids := t.children[parent]
	if index < 0 || index > len(kids) {
		index = len(kids)
	}
	kids = append(kids, UndefNodeID)
	copy(kids[index+1:], kids[index:])
	kids[index] = child
	t.children[parent] = kids
}

func (t *Tree) deleteSubtree(id NodeID) {
	for _, child := range t.children[id] {
		t.deleteSubtree(child)
	}
	if p, ok := t.parent[id]; ok {
		kids := t.children[p]
		for i, c := range kids {
			if c == id {
				t.children[p] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	delete(t.nodes, id)
	delete(t.children, id)
	delete(t.parent, id)
}

func cloneBag(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyUpdate applies a batch of ops produced by ExportUpdateSince or a
// remote peer's local mutation, skipping any op already reflected in the
// version vector (P3: idempotent application). Ops are applied in the order
// given, with no buffering: an op counts as already reflected whenever its
// counter is at or below the one recorded for its peer, so an op that
// arrives after a later op from the same peer is skipped.
func (t *Tree) ApplyUpdate(data []byte) error {
	ops, err := decodeOps(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, op := range ops {
		if t.vv.Get(op.PeerID) >= op.Counter {
			continue
		}
		if err := t.applyMutation(op); err != nil {
			return err
		}
		t.log = append(t.log, op)
		t.vv.Advance(op.PeerID, op.Counter)
	}
	return nil
}

// ExportUpdateSince returns the ops not yet reflected in vv, encoded as an
// opaque update blob. ok is false when there is nothing to send.
func (t *Tree) ExportUpdateSince(vv VersionVector) (data []byte, ok bool, err error) {
	t.mu.Lock()
	var pending []Op
	for _, op := range t.log {
		if op.Counter > vv.Get(op.PeerID) {
			pending = append(pending, op)
		}
	}
	t.mu.Unlock()

	if len(pending) == 0 {
		return nil, false, nil
	}
	data, err = encodeOps(pending)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Snapshot returns a full, self-contained encoding of the tree's current
// state: importing it into an empty tree reproduces this state exactly.
func (t *Tree) Snapshot() ([]byte, error) {
	t.mu.Lock()
	wire := snapshotWire{
		Root:     t.root,
		VV:       t.vv.Clone(),
		Log:      append([]Op(nil), t.log...),
		Children: make(map[string][]NodeID, len(t.children)),
	}
	for id, n := range t.nodes {
		wire.Nodes = append(wire.Nodes, snapshotNode{ID: id, ElementType: n.elementType, Lexical: cloneBag(n.lexical)})
	}
	for parent, kids := range t.children {
		wire.Children[parent.String()] = append([]NodeID(nil), kids...)
	}
	t.mu.Unlock()

	return encodeSnapshot(wire)
}

// ImportSnapshot replaces the tree's state with the one encoded in data.
func (t *Tree) ImportSnapshot(data []byte) error {
	wire, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	nodes := make(map[NodeID]*node, len(wire.Nodes))
	for _, n := range wire.Nodes {
		nodes[n.ID] = &node{elementType: n.ElementType, lexical: cloneBag(n.Lexical)}
	}
	children := make(map[NodeID][]NodeID, len(wire.Children))
	parent := make(map[NodeID]NodeID)
	for parentKey, kids := range wire.Children {
		var pid NodeID
		if parentKey != "" {
			if err := (&pid).UnmarshalText([]byte(parentKey)); err != nil {
				return fmt.Errorf("%w: bad parent key: %v", ErrCorruptSnapshot, err)
			}
		}
		children[pid] = append([]NodeID(nil), kids...)
		for _, c := range kids {
			parent[c] = pid
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = wire.Root
	t.nodes = nodes
	t.children = children
	t.parent = parent
	t.vv = wire.VV
	if t.vv == nil {
		t.vv = make(VersionVector)
	}
	t.log = wire.Log
	return nil
}
