// Package cmdapi implements the companion command interface (spec.md
// §4.5.5, §6.3): a small HTTP/JSON surface exposing load_document,
// set_current_document, append_paragraph, insert_paragraph and
// get_document_info. It goes through the same registry and model calls a
// hub-originated edit would, and — when attached to a hub — fans its
// edits out to connected collaborators through it, exactly as spec.md
// §4.5.5's last sentence requires.
package cmdapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gloudx/lexicaloro/registry"
)

// Response is the envelope every verb replies with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Broadcaster lets the command interface fan an edit out to any WebSocket
// clients connected to the same document, the way a hub-originated edit
// would be delivered to them (spec.md §4.5.5, last sentence). *hub.Hub
// satisfies this; it is narrowed here so cmdapi does not import hub.
type Broadcaster interface {
	Broadcast(docID string, data map[string]any)
}

// Server exposes the command interface's verbs over HTTP.
type Server struct {
	reg    *registry.Registry
	hub    Broadcaster
	logger *slog.Logger

	mu           sync.Mutex
	currentDocID string
}

// New returns a Server backed by reg. hub may be nil, in which case edits
// made through this interface are only visible to collaborators on their
// next snapshot request rather than broadcast immediately.
func New(reg *registry.Registry, hub Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, hub: hub, logger: logger}
}

// broadcastIfConnected fans out res's broadcast payload to the hub, if this
// server was given one and the edit produced one.
func (s *Server) broadcastIfConnected(docID string, broadcastNeeded bool, data map[string]any) {
	if !broadcastNeeded || s.hub == nil {
		return
	}
	s.hub.Broadcast(docID, data)
}

// Routes registers the command interface's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/cmd/load_document", s.handleLoadDocument)
	mux.HandleFunc("/cmd/set_current_document", s.handleSetCurrentDocument)
	mux.HandleFunc("/cmd/append_paragraph", s.handleAppendParagraph)
	mux.HandleFunc("/cmd/insert_paragraph", s.handleInsertParagraph)
	mux.HandleFunc("/cmd/get_document_info", s.handleGetDocumentInfo)
}

func (s *Server) resolveDocID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentDocID == "" {
		return "", ErrNoCurrentDocument
	}
	return s.currentDocID, nil
}

func (s *Server) setCurrent(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDocID = docID
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Response{Success: false, Message: err.Error()})
}

// handleLoadDocument implements load_document(doc_id) -> {lexical_state,
// container_id}; creates the document if absent and makes it current.
func (s *Server) handleLoadDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocID string `json:"doc_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DocID == "" {
		writeError(w, http.StatusBadRequest, ErrNoCurrentDocument)
		return
	}

	doc, err := s.reg.GetOrCreate(req.DocID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	state, err := doc.ExportLexical()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setCurrent(req.DocID)

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"lexical_state": state,
		"container_id":  req.DocID,
	}})
}

// handleSetCurrentDocument implements set_current_document(doc_id) ->
// {doc_id, container_id}.
func (s *Server) handleSetCurrentDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocID string `json:"doc_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocID == "" {
		writeError(w, http.StatusBadRequest, ErrNoCurrentDocument)
		return
	}
	if _, err := s.reg.GetOrCreate(req.DocID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setCurrent(req.DocID)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"doc_id":       req.DocID,
		"container_id": req.DocID,
	}})
}

// handleAppendParagraph implements append_paragraph(text, doc_id?) ->
// {doc_id, total_blocks, text}.
func (s *Server) handleAppendParagraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		DocID string `json:"doc_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	docID, err := s.resolveDocID(req.DocID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.reg.GetOrCreate(docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	res, err := doc.HandleMessage("append-paragraph", map[string]any{"text": req.Text}, "cmdapi")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.broadcastIfConnected(docID, res.BroadcastNeeded, res.BroadcastData)

	stats, err := doc.DocumentStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"doc_id":       docID,
		"total_blocks": stats.NodeCount,
		"text":         req.Text,
	}})
}

// handleInsertParagraph implements insert_paragraph(index, text, doc_id?)
// -> {doc_id, total_blocks, index, text}; index beyond the end appends.
func (s *Server) handleInsertParagraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
		DocID string `json:"doc_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	docID, err := s.resolveDocID(req.DocID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.reg.GetOrCreate(docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload := map[string]any{"text": req.Text, "index": req.Index}
	res, err := doc.HandleMessage("insert-paragraph", payload, "cmdapi")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.broadcastIfConnected(docID, res.BroadcastNeeded, res.BroadcastData)

	stats, err := doc.DocumentStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"doc_id":       docID,
		"total_blocks": stats.NodeCount,
		"index":        req.Index,
		"text":         req.Text,
	}})
}

// handleGetDocumentInfo implements get_document_info(doc_id?) -> {doc_id,
// total_blocks, block_types, last_saved, version}.
func (s *Server) handleGetDocumentInfo(w http.ResponseWriter, r *http.Request) {
	explicit := r.URL.Query().Get("doc_id")
	docID, err := s.resolveDocID(explicit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.reg.GetOrCreate(docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := doc.DocumentStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]any{
		"doc_id":       docID,
		"total_blocks": stats.NodeCount,
		"block_types":  stats.ByType,
		"last_saved":   stats.LastSaved,
		"version":      stats.ModCount,
	}})
}
