package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// RunLiveness pings every connected client roughly every interval; a client
// that hasn't answered the previous ping by the time the next one is due is
// considered dead and closed, which drives it through the normal disconnect
// path on its own receive loop (spec.md §4.5.4).
func (h *Hub) RunLiveness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		for _, c := range room.snapshot() {
			if !c.ping() {
				h.logger.Warn("client missed a liveness ping, closing", "doc_id", c.DocID, "client_id", c.ID)
				c.conn.Close()
				continue
			}
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

// RunStatsLogger logs per-room statistics (client count, bytes in/out,
// model dirty flag) roughly every interval (spec.md §4.5.4).
func (h *Hub) RunStatsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.logStats()
		}
	}
}

func (h *Hub) logStats() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		var bytesIn, bytesOut uint64
		members := room.snapshot()
		for _, c := range members {
			in, out := c.stats()
			bytesIn += in
			bytesOut += out
		}
		dirty, _ := room.doc.HasChangedSinceLastSave()
		h.logger.Info("room stats",
			"doc_id", room.docID,
			"clients", len(members),
			"bytes_in", bytesIn,
			"bytes_out", bytesOut,
			"dirty", dirty,
		)
	}
}
