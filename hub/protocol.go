// Package hub implements the collaboration hub (spec.md §4.5): WebSocket
// rooms keyed by document id, snapshot bootstrap, update/ephemeral
// broadcast, and client liveness.
package hub

import "time"

// Frame is the wire shape of every text/JSON message exchanged over the
// socket (spec.md §6.2). Bytes is raw payload (a CRDT update/snapshot/
// ephemeral blob); fields not relevant to a given type are simply omitted
// when marshaled.
type Frame struct {
	Type      string `json:"type"`
	DocID     string `json:"docId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Color     string `json:"color,omitempty"`
	Bytes     []byte `json:"bytes,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	PingID    string `json:"pingId,omitempty"`
	ServerTS  int64  `json:"serverTs,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`
	Position  any    `json:"position,omitempty"`
	Selection any    `json:"selection,omitempty"`
	State     any    `json:"state,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
}

const (
	typeWelcome         = "welcome"
	typeSnapshot        = "snapshot"
	typeQuerySnapshot   = "query-snapshot"
	typeUpdate          = "update"
	typeEphemeral       = "ephemeral"
	typeQueryEphemeral  = "query-ephemeral"
	typeCursorPosition  = "cursor-position"
	typeTextSelection   = "text-selection"
	typeAwarenessUpdate = "awareness-update"
	typeAppendParagraph = "append-paragraph"
	typeInsertParagraph = "insert-paragraph"
	typeKeepalive       = "keepalive"
	typeKeepaliveAck    = "keepalive-ack"
	typeError           = "error"
)

// maxFrameSize bounds a single incoming WebSocket message (spec.md §7's
// FrameTooLarge taxonomy entry); there is no configured override because
// every frame the protocol defines (including a snapshot or update blob) is
// a single document's worth of JSON or CRDT bytes, never a multi-document
// batch.
const maxFrameSize = 8 << 20 // 8 MiB

func errorFrame(docID string, err error) Frame {
	return Frame{Type: typeError, DocID: docID, Reason: err.Error()}
}

func keepaliveAck(docID, pingID string) Frame {
	return Frame{Type: typeKeepaliveAck, DocID: docID, PingID: pingID, ServerTS: time.Now().UnixMilli()}
}
