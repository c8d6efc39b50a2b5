package crdt

import (
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// NodeID is the opaque, stable identifier of a tree node. It is content
// derived (peer id + local counter + parent) the same way the teacher
// derives block CIDs from content: the id is never reused and never needs
// a central allocator, which is what lets two peers create sibling nodes
// concurrently without collision.
type NodeID struct {
	c cid.Cid
}

// UndefNodeID is the zero value; it never identifies a real node.
var UndefNodeID = NodeID{}

// Defined reports whether id was produced by newNodeID rather than the
// zero value.
func (id NodeID) Defined() bool { return id.c.Defined() }

// String returns the canonical textual form, stable across processes.
func (id NodeID) String() string {
	if !id.c.Defined() {
		return ""
	}
	return id.c.String()
}

// MarshalText implements encoding.TextMarshaler so NodeID can be used as a
// JSON object key.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = UndefNodeID
		return nil
	}
	c, err := cid.Decode(string(b))
	if err != nil {
		return fmt.Errorf("decode node id: %w", err)
	}
	id.c = c
	return nil
}

// GobEncode/GobDecode let NodeID travel inside the gob-encoded op log and
// snapshots despite its underlying cid.Cid field being unexported.
func (id NodeID) GobEncode() ([]byte, error) {
	return id.MarshalText()
}

func (id *NodeID) GobDecode(b []byte) error {
	return id.UnmarshalText(b)
}

// newNodeID derives a fresh node id from the authoring peer, its local op
// counter and the parent node, hashed with BLAKE3 and wrapped as a raw
// CIDv1 — the same content-addressing idiom the teacher uses for blockstore
// keys (entitystore.StoreEntity), applied here to tree node identity
// instead of block content.
func newNodeID(peerID string, counter uint64, parent NodeID) (NodeID, error) {
	h := blake3.New(32, nil)
	h.Write([]byte(peerID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	h.Write([]byte(parent.String()))
	sum := h.Sum(nil)

	mh, err := multihash.Encode(sum, multihash.BLAKE3)
	if err != nil {
		return UndefNodeID, fmt.Errorf("encode node id multihash: %w", err)
	}
	return NodeID{c: cid.NewCidV1(cid.Raw, mh)}, nil
}
