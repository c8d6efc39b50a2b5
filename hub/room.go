package hub

import (
	"log/slog"
	"sync"

	"github.com/gloudx/lexicaloro/model"
)

// Room holds every client currently joined to one document. Its lock is
// held only while mutating the client set and while snapshotting it for
// broadcast (spec.md §5) — never across a model operation or a socket send.
type Room struct {
	docID string
	doc   *model.Document

	mu      sync.Mutex
	clients map[string]*Client

	logger *slog.Logger
}

func newRoom(docID string, doc *model.Document, logger *slog.Logger) *Room {
	return &Room{
		docID:   docID,
		doc:     doc,
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (r *Room) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

func (r *Room) remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

func (r *Room) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// snapshot returns a copy of the current client set, safe to range over
// without holding the room lock (spec.md §4.5.3).
func (r *Room) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// broadcast delivers f to every client in the room except excludeID. A
// client whose queue is full is collected and removed after the broadcast
// completes, never mid-iteration (spec.md §4.5.3).
func (r *Room) broadcast(f Frame, excludeID string) {
	members := r.snapshot()
	var stuck []string
	for _, c := range members {
		if c.ID == excludeID {
			continue
		}
		if !c.sendFrame(f) {
			stuck = append(stuck, c.ID)
		}
	}
	for _, id := range stuck {
		r.logger.Warn("client send queue full, evicting", "doc_id", r.docID, "client_id", id)
		r.remove(id)
	}
}

func (r *Room) isEmpty() bool {
	return r.count() == 0
}
