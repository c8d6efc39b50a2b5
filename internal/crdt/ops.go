package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// opKind distinguishes the handful of structural mutations the lexical tree
// supports. Unlike a general-purpose CRDT, this tree never needs a "move"
// op: Lexical editing only ever creates, re-parents-by-recreate, updates
// metadata on, or deletes nodes, mirroring loro_tree_model.py's operation
// set. opMove is defined but never produced; applyMutation rejects it as an
// unknown op kind.
type opKind uint8

const (
	opCreate opKind = iota + 1
	opSetMeta
	opDelete
	opMove
)

// Op is one entry in a document's causal op log. PeerID+Counter together
// form the op's identity and are what makes ApplyUpdate idempotent (P3):
// an op already reflected in the version vector is skipped rather than
// reapplied.
type Op struct {
	Kind        opKind
	PeerID      string
	Counter     uint64
	Node        NodeID
	Parent      NodeID
	Index       int
	ElementType string
	Lexical     map[string]any
}

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// encodeOps serializes a sequence of ops as an opaque update blob.
func encodeOps(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		return nil, fmt.Errorf("encode ops: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeOps parses an update blob produced by encodeOps.
func decodeOps(data []byte) ([]Op, error) {
	var ops []Op
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
	}
	return ops, nil
}

// snapshotWire is the full self-contained state exported by Snapshot and
// consumed by ImportSnapshot.
type snapshotWire struct {
	Root     NodeID
	Nodes    []snapshotNode
	Children map[string][]NodeID // parent id string -> ordered children
	VV       VersionVector
	Log      []Op
}

type snapshotNode struct {
	ID          NodeID
	ElementType string
	Lexical     map[string]any
}

func encodeSnapshot(s snapshotWire) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (snapshotWire, error) {
	var s snapshotWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return snapshotWire{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}

// encodeEphemeralBlob serializes the full set of per-client ephemeral
// payloads into one opaque blob for broadcast.
func encodeEphemeralBlob(entries map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, fmt.Errorf("encode ephemeral blob: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEphemeralBlob parses a blob produced by EncodeAll.
func DecodeEphemeralBlob(data []byte) (map[string][]byte, error) {
	var entries map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ephemeral blob: %w", err)
	}
	return entries, nil
}
