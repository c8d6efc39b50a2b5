// Package registry implements the document registry (spec.md §4.4): the
// `document_id -> Document` table, lazy load-or-seed on first access,
// atomic persistence, and the autosave loop.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gloudx/lexicaloro/model"
)

// Config carries the subset of spec.md §6.4 the registry itself consumes.
type Config struct {
	DocumentsPath             string
	AutosaveIntervalSec       int
	InitialLexicalState       map[string]any
	MaxEphemeralEntriesPerDoc int
}

// Registry owns every live Document, keyed by document id, behind a coarse
// lock held only across the get-or-create critical section (spec.md §5:
// never held across a model operation).
type Registry struct {
	mu   sync.Mutex
	docs map[string]*model.Document

	cfg    Config
	logger *slog.Logger

	autosaveCancel context.CancelFunc
	autosaveDone   chan struct{}
}

// New returns an empty registry. Call AutosaveLoop separately to start the
// background save task.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		docs:   make(map[string]*model.Document),
		cfg:    cfg,
		logger: logger,
	}
}

// GetOrCreate returns the document for docID, instantiating and loading (or
// seeding) it on first access.
func (r *Registry) GetOrCreate(docID string) (*model.Document, error) {
	r.mu.Lock()
	if d, ok := r.docs[docID]; ok {
		if !d.IsPoisoned() {
			r.mu.Unlock()
			return d, nil
		}
		// A panicked mutation poisoned this replica (spec.md §4.3.7); evict
		// it so the next access below reloads a fresh one from the last
		// persisted snapshot instead of wedging the document for the life
		// of the process.
		delete(r.docs, docID)
		r.logger.Warn("evicting poisoned document", "doc_id", docID)
	}
	r.mu.Unlock()

	d := model.NewDocument(docID, uuid.NewString(), r.cfg.MaxEphemeralEntriesPerDoc, r.logger)

	state, err := loadPersisted(r.cfg.DocumentsPath, docID)
	switch {
	case err == nil:
		if err := d.InitializeFromLexical(state); err != nil {
			return nil, err
		}
		if hash, herr := d.ContentHash(); herr == nil {
			d.MarkPersisted(hash)
		}
	case errors.Is(err, ErrNotFound):
		seed := r.cfg.InitialLexicalState
		if seed == nil {
			seed = defaultSeedState()
		}
		if err := d.InitializeFromLexical(seed); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.docs[docID]; ok && !existing.IsPoisoned() {
		r.mu.Unlock()
		return existing, nil
	}
	r.docs[docID] = d
	r.mu.Unlock()
	return d, nil
}

// Save exports docID and writes it atomically to persisted storage,
// updating the document's persisted hash on success.
func (r *Registry) Save(docID string) error {
	r.mu.Lock()
	d, ok := r.docs[docID]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	data, hash, err := d.MarshalForPersist()
	if err != nil {
		return err
	}
	if err := savePersisted(r.cfg.DocumentsPath, docID, data); err != nil {
		return err
	}
	d.MarkPersisted(hash)
	return nil
}

// SaveAll saves every document whose content has changed since its last
// persist, and reports a per-document outcome.
func (r *Registry) SaveAll() map[string]error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	outcome := make(map[string]error, len(ids))
	for _, id := range ids {
		r.mu.Lock()
		d, ok := r.docs[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		changed, err := d.HasChangedSinceLastSave()
		if err != nil {
			outcome[id] = err
			continue
		}
		if !changed {
			continue
		}
		if err := r.Save(id); err != nil {
			r.logger.Error("autosave failed", "doc_id", id, "error", err)
			outcome[id] = err
			continue
		}
		outcome[id] = nil
	}
	return outcome
}

// AutosaveLoop runs save_all every interval until ctx is cancelled. It is a
// single cooperative task; per-document save errors are logged and the loop
// continues (spec.md §4.4). interval <= 0 disables autosave entirely.
func (r *Registry) AutosaveLoop(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.autosaveCancel = cancel
	r.autosaveDone = make(chan struct{})
	done := r.autosaveDone
	r.mu.Unlock()

	defer close(done)

	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SaveAll()
		}
	}
}

// Shutdown cancels the autosave task, waits for it to exit, performs one
// final save_all, then drops every in-memory document. Never loses data
// written before shutdown was requested (spec.md §4.4).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	cancel := r.autosaveCancel
	done := r.autosaveDone
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	r.SaveAll()

	r.mu.Lock()
	r.docs = make(map[string]*model.Document)
	r.mu.Unlock()
}

func defaultSeedState() map[string]any {
	return map[string]any{
		"root": map[string]any{
			"type": "root",
			"children": []any{
				map[string]any{
					"type": "heading",
					"tag":  "h1",
					"children": []any{
						map[string]any{"type": "text", "text": "Lexical with Loro"},
					},
				},
				map[string]any{
					"type": "paragraph",
					"children": []any{
						map[string]any{"type": "text", "text": "Type something…"},
					},
				},
			},
		},
	}
}
