package model

import (
	"fmt"

	"github.com/gloudx/lexicaloro/internal/crdt"
)

// HandlerResult is the structured response handle_message/handle_ephemeral
// return to the hub (spec.md §4.3.5): whether a reply is owed directly to
// the caller, whether other room members need a broadcast, and the payload
// for each.
type HandlerResult struct {
	ResponseNeeded bool
	ResponseData   map[string]any

	BroadcastNeeded bool
	BroadcastData   map[string]any

	DocumentInfo *Stats
}

// HandleMessage dispatches one of the structural message types the hub
// recognizes: snapshot-request, snapshot, update, append-paragraph,
// insert-paragraph. msgType values outside this set return
// ErrUnknownMessageType.
func (d *Document) HandleMessage(msgType string, payload map[string]any, clientID string) (HandlerResult, error) {
	switch msgType {
	case "snapshot-request":
		bytes, err := d.GetSnapshot()
		if err != nil {
			return HandlerResult{}, err
		}
		return HandlerResult{
			ResponseNeeded: true,
			ResponseData: map[string]any{
				"type":   "snapshot",
				"doc_id": d.docID,
				"bytes":  bytes,
			},
		}, nil

	case "snapshot":
		bytes, err := payloadBytes(payload)
		if err != nil {
			return HandlerResult{}, err
		}
		if err := d.ImportSnapshot(bytes); err != nil {
			return HandlerResult{}, err
		}
		stats, err := d.DocumentStats()
		if err != nil {
			return HandlerResult{}, err
		}
		return HandlerResult{BroadcastNeeded: false, DocumentInfo: &stats}, nil

	case "update":
		bytes, err := payloadBytes(payload)
		if err != nil {
			return HandlerResult{}, err
		}
		if err := d.ApplyUpdate(bytes); err != nil {
			return HandlerResult{}, err
		}
		return HandlerResult{
			BroadcastNeeded: true,
			BroadcastData: map[string]any{
				"type":      "update",
				"doc_id":    d.docID,
				"bytes":     bytes,
				"sender_id": clientID,
			},
		}, nil

	case "append-paragraph", "insert-paragraph":
		return d.handleParagraphEdit(msgType, payload, clientID)

	default:
		return HandlerResult{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, msgType)
	}
}

func (d *Document) handleParagraphEdit(msgType string, payload map[string]any, clientID string) (HandlerResult, error) {
	text, _ := payload["text"].(string)
	parentKey, ok := payload["parent_key"].(string)
	if !ok || parentKey == "" {
		// No explicit parent: caller targets the document root.
		rootKey, ok := d.rootKey()
		if !ok {
			return HandlerResult{}, ErrUninitialized
		}
		parentKey = rootKey
	}

	data := map[string]any{
		"type": "paragraph",
		"children": []any{
			map[string]any{
				"type": "text",
				"text": text,
			},
		},
	}

	var index *int
	if msgType == "insert-paragraph" {
		if raw, ok := payload["index"].(int); ok {
			index = &raw
		} else if raw, ok := payload["index"].(float64); ok {
			i := int(raw)
			index = &i
		}
	}

	before, err := d.vvSnapshot()
	if err != nil {
		return HandlerResult{}, err
	}

	paragraphKey, err := d.AddBlock(parentKey, data, index)
	if err != nil {
		return HandlerResult{}, err
	}
	if _, err := d.AddBlock(paragraphKey, map[string]any{"type": "text", "text": text}, nil); err != nil {
		return HandlerResult{}, err
	}

	bytes, ok, err := d.ExportUpdateSince(before)
	if err != nil {
		return HandlerResult{}, err
	}
	if !ok {
		bytes = nil
	}
	d.markBroadcast()

	return HandlerResult{
		BroadcastNeeded: true,
		BroadcastData: map[string]any{
			"type":      "update",
			"doc_id":    d.docID,
			"bytes":     bytes,
			"sender_id": clientID,
		},
	}, nil
}

// HandleEphemeral dispatches the non-structural, non-persisted message
// types: cursor, selection, awareness, ephemeral. Each replaces the
// payload's entry in the ephemeral store and returns an encode_all
// broadcast.
func (d *Document) HandleEphemeral(msgType string, payload []byte, clientID string) (HandlerResult, error) {
	switch msgType {
	case "cursor", "selection", "awareness", "ephemeral":
	default:
		return HandlerResult{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, msgType)
	}

	var out []byte
	err := d.mutate(func() ([]Event, error) {
		d.eph.Set(clientID, payload)
		blob, err := d.eph.EncodeAll()
		if err != nil {
			return nil, err
		}
		out = blob
		return []Event{{Type: EventEphemeralChanged, DocID: d.docID, SenderID: clientID}}, nil
	})
	if err != nil {
		return HandlerResult{}, err
	}

	return HandlerResult{
		BroadcastNeeded: true,
		BroadcastData: map[string]any{
			"type":      "ephemeral",
			"doc_id":    d.docID,
			"bytes":     out,
			"sender_id": clientID,
		},
	}, nil
}

func (d *Document) rootKey() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, ok := d.tree.Root()
	if !ok {
		return "", false
	}
	key, ok := d.mapper.LookupByID(root)
	return key, ok
}

func (d *Document) vvSnapshot() (crdt.VersionVector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.poisoned {
		return nil, ErrModelPoisoned
	}
	return d.lastBroadcastVV.Clone(), nil
}

func payloadBytes(payload map[string]any) ([]byte, error) {
	raw, ok := payload["bytes"]
	if !ok {
		return nil, ErrInvalidInput
	}
	switch v := raw.(type) {
	case []byte:
		return v, nil
	default:
		return nil, ErrInvalidInput
	}
}
