package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gloudx/lexicaloro/model"
	"github.com/gloudx/lexicaloro/registry"
)

var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// upgrader is shared across all connections; origin checking is left to
// whatever reverse proxy / CORS layer fronts the process (spec.md does not
// specify an origin policy).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every room, one per document id currently hosting a connection.
type Hub struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	clientSeq atomic.Uint64
}

// New returns a Hub backed by reg for document lookups.
func New(reg *registry.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{reg: reg, logger: logger, rooms: make(map[string]*Room)}
}

// docIDFromPath extracts the first non-empty path segment (spec.md §6.2).
func docIDFromPath(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	return parts[0], true
}

func stableColor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}

func (h *Hub) newClientID() string {
	seq := h.clientSeq.Add(1)
	return fmt.Sprintf("%d-%s", seq, uuid.NewString()[:8])
}

func (h *Hub) roomFor(docID string, doc *model.Document) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[docID]
	if !ok {
		r = newRoom(docID, doc, h.logger)
		h.rooms[docID] = r
	}
	return r
}

func (h *Hub) dropRoomIfEmpty(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[docID]; ok && r.isEmpty() {
		delete(h.rooms, docID)
	}
}

// Broadcast fans a command-interface-originated edit out to every client
// currently connected to docID, exactly as a WebSocket peer's own edit
// would be delivered (spec.md §4.5.5, last sentence). It is a no-op if no
// one is connected to that document.
func (h *Hub) Broadcast(docID string, data map[string]any) {
	h.mu.Lock()
	r, ok := h.rooms[docID]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.broadcast(frameFromBroadcastData(data), "")
}

// ServeHTTP upgrades the connection and runs the lifecycle from spec.md
// §4.5.1 until disconnect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	docID, ok := docIDFromPath(r.URL.Path)
	if !ok {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	doc, err := h.reg.GetOrCreate(docID)
	if err != nil {
		h.logger.Error("get_or_create failed", "doc_id", docID, "error", err)
		conn.Close()
		return
	}

	clientID := h.newClientID()
	color := stableColor(clientID)
	room := h.roomFor(docID, doc)

	conn.SetReadLimit(maxFrameSize)
	client := newClient(clientID, color, docID, conn, room, h.logger)
	conn.SetPongHandler(func(string) error { client.markPong(); return nil })
	room.add(client)

	go client.writeLoop()

	client.sendFrame(Frame{Type: typeWelcome, DocID: docID, ClientID: clientID, Color: color})

	snap, err := doc.GetSnapshot()
	if err == nil {
		client.sendFrame(Frame{Type: typeSnapshot, DocID: docID, Bytes: snap})
	} else {
		h.logger.Error("get_snapshot failed", "doc_id", docID, "error", err)
	}

	if blob, err := doc.EncodeEphemeral(); err == nil && len(blob) > 0 {
		client.sendFrame(Frame{Type: typeEphemeral, DocID: docID, Bytes: blob})
	}

	h.receiveLoop(client, doc, room)

	room.remove(clientID)
	client.close()
	h.dropRoomIfEmpty(docID)

	removed, err := doc.OnClientDisconnect(clientID)
	if err == nil && len(removed) > 0 {
		blob, err := doc.EncodeEphemeral()
		if err == nil {
			room.broadcast(Frame{Type: typeEphemeral, DocID: docID, Bytes: blob, SenderID: clientID}, clientID)
		}
	}
}

func (h *Hub) receiveLoop(client *Client, doc *model.Document, room *Room) {
	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if isFrameTooLarge(err) {
				h.logger.Warn("frame too large", "doc_id", client.DocID, "client_id", client.ID, "error", err)
				client.sendFrame(errorFrame(client.DocID, ErrFrameTooLarge))
			}
			return
		}
		client.recordBytesIn(len(data))

		if msgType == websocket.BinaryMessage {
			h.handleUpdate(client, doc, room, data)
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.sendFrame(errorFrame(client.DocID, ErrMalformedFrame))
			continue
		}
		h.dispatchText(client, doc, room, frame)
	}
}

// isFrameTooLarge reports whether err is gorilla/websocket's read-limit
// error, surfaced here as hub.ErrFrameTooLarge (spec.md §7).
func isFrameTooLarge(err error) bool {
	return errors.Is(err, websocket.ErrReadLimit)
}

func (h *Hub) dispatchText(client *Client, doc *model.Document, room *Room, frame Frame) {
	switch frame.Type {
	case typeQuerySnapshot:
		res, err := doc.HandleMessage("snapshot-request", nil, client.ID)
		if err != nil {
			client.sendFrame(errorFrame(client.DocID, err))
			return
		}
		client.sendFrame(Frame{Type: typeSnapshot, DocID: client.DocID, Bytes: res.ResponseData["bytes"].([]byte)})

	case typeUpdate:
		h.handleUpdate(client, doc, room, frame.Bytes)

	case typeEphemeral, typeQueryEphemeral, typeCursorPosition, typeTextSelection, typeAwarenessUpdate:
		h.handleEphemeral(client, doc, room, frame)

	case typeAppendParagraph, typeInsertParagraph:
		h.handleParagraph(client, doc, room, frame)

	case typeKeepalive:
		client.sendFrame(keepaliveAck(client.DocID, frame.PingID))

	default:
		client.sendFrame(errorFrame(client.DocID, ErrUnknownType))
	}
}

func (h *Hub) handleUpdate(client *Client, doc *model.Document, room *Room, bytes []byte) {
	res, err := doc.HandleMessage("update", map[string]any{"bytes": bytes}, client.ID)
	if err != nil {
		client.sendFrame(errorFrame(client.DocID, err))
		return
	}
	if res.BroadcastNeeded {
		room.broadcast(frameFromBroadcastData(res.BroadcastData), client.ID)
	}
}

func (h *Hub) handleParagraph(client *Client, doc *model.Document, room *Room, frame Frame) {
	payload := map[string]any{"text": frame.Text}
	msgType := typeAppendParagraph
	if frame.Type == typeInsertParagraph {
		msgType = typeInsertParagraph
		if frame.Index != nil {
			payload["index"] = *frame.Index
		}
	}

	res, err := doc.HandleMessage(msgType, payload, client.ID)
	if err != nil {
		client.sendFrame(errorFrame(client.DocID, err))
		return
	}
	if res.BroadcastNeeded {
		room.broadcast(frameFromBroadcastData(res.BroadcastData), client.ID)
	}
}

func (h *Hub) handleEphemeral(client *Client, doc *model.Document, room *Room, frame Frame) {
	if frame.Type == typeQueryEphemeral {
		blob, err := doc.EncodeEphemeral()
		if err != nil {
			client.sendFrame(errorFrame(client.DocID, err))
			return
		}
		client.sendFrame(Frame{Type: typeEphemeral, DocID: client.DocID, Bytes: blob})
		return
	}

	payload := frame.Bytes
	if len(payload) == 0 {
		payload = ephemeralPayloadBytes(frame)
	}

	msgType := ephemeralKind(frame.Type)
	res, err := doc.HandleEphemeral(msgType, payload, client.ID)
	if err != nil {
		client.sendFrame(errorFrame(client.DocID, err))
		return
	}
	if res.BroadcastNeeded {
		room.broadcast(frameFromBroadcastData(res.BroadcastData), client.ID)
	}
}

// ephemeralPayloadBytes re-encodes the structured cursor/selection/awareness
// fields as JSON when the frame didn't carry a raw bytes payload directly.
func ephemeralPayloadBytes(frame Frame) []byte {
	var v any
	switch frame.Type {
	case typeCursorPosition:
		v = frame.Position
	case typeTextSelection:
		v = frame.Selection
	case typeAwarenessUpdate:
		v = map[string]any{"state": frame.State, "peerId": frame.PeerID}
	default:
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func ephemeralKind(frameType string) string {
	switch frameType {
	case typeCursorPosition:
		return "cursor"
	case typeTextSelection:
		return "selection"
	case typeAwarenessUpdate:
		return "awareness"
	default:
		return "ephemeral"
	}
}

func frameFromBroadcastData(data map[string]any) Frame {
	f := Frame{
		Type:  fmt.Sprint(data["type"]),
		DocID: fmt.Sprint(data["doc_id"]),
	}
	if b, ok := data["bytes"].([]byte); ok {
		f.Bytes = b
	}
	if s, ok := data["sender_id"].(string); ok {
		f.SenderID = s
	}
	return f
}
