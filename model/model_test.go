package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedState() map[string]any {
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
						map[string]any{"type": "text", "text": "Type something..."},
					},
				},
			},
		},
	}
}

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	d := NewDocument("doc-1", "peer-1", 0, nil)
	require.NoError(t, d.InitializeFromLexical(seedState()))
	return d
}

// rootKeyOf returns the mapper key bound to d's root node. The __key values
// in an export are freshly minted on every call and are not bound in the
// mapper, so they cannot address a node.
func rootKeyOf(t *testing.T, d *Document) string {
	t.Helper()
	keys, err := d.FindByType("root")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0]
}

func TestInitializeFromLexicalRejectsDoubleInit(t *testing.T) {
	d := newTestDocument(t)
	assert.ErrorIs(t, d.InitializeFromLexical(seedState()), ErrAlreadyInitialized)
}

func TestOperationsRequireInitialization(t *testing.T) {
	d := NewDocument("doc-1", "peer-1", 0, nil)
	_, err := d.ExportLexical()
	assert.ErrorIs(t, err, ErrUninitialized)

	_, err = d.AddBlock("whatever", map[string]any{"type": "paragraph"}, nil)
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestAddUpdateRemoveBlock(t *testing.T) {
	d := newTestDocument(t)

	rootKey := rootKeyOf(t, d)

	var events []Event
	d.Subscribe(func(e Event) { events = append(events, e) })

	newKey, err := d.AddBlock(rootKey, map[string]any{"type": "paragraph", "text": "hello"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, newKey)
	require.NotEmpty(t, events)
	assert.Equal(t, EventTreeNodeCreated, events[0].Type)

	require.NoError(t, d.UpdateBlock(newKey, map[string]any{"type": "paragraph", "text": "updated"}))

	keys, err := d.FindByType("paragraph")
	require.NoError(t, err)
	assert.Contains(t, keys, newKey)

	require.NoError(t, d.RemoveBlock(newKey))
	keys, err = d.FindByType("paragraph")
	require.NoError(t, err)
	assert.NotContains(t, keys, newKey)
}

func TestAddBlockRejectsUnknownParent(t *testing.T) {
	d := newTestDocument(t)
	_, err := d.AddBlock("no-such-key", map[string]any{"type": "paragraph"}, nil)
	assert.ErrorIs(t, err, ErrUnknownParent)
}

func TestAddBlockRejectsMissingType(t *testing.T) {
	d := newTestDocument(t)
	rootKey := rootKeyOf(t, d)
	_, err := d.AddBlock(rootKey, map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// TestRemoveBlockProtectsRoot checks P6.
func TestRemoveBlockProtectsRoot(t *testing.T) {
	d := newTestDocument(t)
	rootKey := rootKeyOf(t, d)
	assert.ErrorIs(t, d.RemoveBlock(rootKey), ErrRootProtected)
}

func TestRemoveBlockUnknownNode(t *testing.T) {
	d := newTestDocument(t)
	assert.ErrorIs(t, d.RemoveBlock("nope"), ErrUnknownNode)
}

func TestSnapshotRoundTripThroughDocument(t *testing.T) {
	d := newTestDocument(t)
	snap, err := d.GetSnapshot()
	require.NoError(t, err)

	d2 := NewDocument("doc-2", "peer-2", 0, nil)
	require.NoError(t, d2.ImportSnapshot(snap))

	exp1, err := d.ExportLexical()
	require.NoError(t, err)
	exp2, err := d2.ExportLexical()
	require.NoError(t, err)

	// P1/P2: equal modulo freshly generated __key fields.
	stripKeysForTest(exp1)
	stripKeysForTest(exp2)
	assert.Equal(t, exp1, exp2)
}

func stripKeysForTest(v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	delete(m, "__key")
	if kids, ok := m["children"].([]any); ok {
		for _, k := range kids {
			stripKeysForTest(k)
		}
	}
	if root, ok := m["root"]; ok {
		stripKeysForTest(root)
	}
}

func TestApplyUpdateIdempotentOnDocument(t *testing.T) {
	d := newTestDocument(t)
	rootKey := rootKeyOf(t, d)

	before := d.tree.VersionVector().Clone()
	_, err := d.AddBlock(rootKey, map[string]any{"type": "paragraph"}, nil)
	require.NoError(t, err)

	update, ok, err := d.ExportUpdateSince(before)
	require.NoError(t, err)
	require.True(t, ok)

	countBefore, err := d.DocumentStats()
	require.NoError(t, err)

	require.NoError(t, d.ApplyUpdate(update))
	require.NoError(t, d.ApplyUpdate(update))

	countAfter, err := d.DocumentStats()
	require.NoError(t, err)
	assert.Equal(t, countBefore.NodeCount, countAfter.NodeCount, "re-applying an already-reflected update must be a no-op")
}

// TestMutexSerializesConcurrentAddBlock checks P5: every concurrent
// AddBlock succeeds with a unique key and adds exactly one node; no torn state.
func TestMutexSerializesConcurrentAddBlock(t *testing.T) {
	d := newTestDocument(t)
	rootKey := rootKeyOf(t, d)

	const n = 50
	var wg sync.WaitGroup
	keys := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := d.AddBlock(rootKey, map[string]any{"type": "paragraph"}, nil)
			keys[i] = k
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	successes := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		_, dup := seen[keys[i]]
		assert.False(t, dup, "lexical keys must never collide")
		seen[keys[i]] = struct{}{}
		successes++
	}

	stats, err := d.DocumentStats()
	require.NoError(t, err)
	assert.Equal(t, successes+5, stats.NodeCount) // seed (root, heading + text, paragraph + text) + n new paragraphs
}

func TestContentHashChangesOnMutation(t *testing.T) {
	d := newTestDocument(t)
	h1, err := d.ContentHash()
	require.NoError(t, err)

	rootKey := rootKeyOf(t, d)
	_, err = d.AddBlock(rootKey, map[string]any{"type": "paragraph"}, nil)
	require.NoError(t, err)

	h2, err := d.ContentHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHasChangedSinceLastSave(t *testing.T) {
	d := newTestDocument(t)
	changed, err := d.HasChangedSinceLastSave()
	require.NoError(t, err)
	assert.True(t, changed, "never-persisted document has changed relative to empty persisted hash")

	hash, err := d.ContentHash()
	require.NoError(t, err)
	d.MarkPersisted(hash)

	changed, err = d.HasChangedSinceLastSave()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHasUnbroadcastChanges(t *testing.T) {
	d := newTestDocument(t)
	changed, err := d.HasUnbroadcastChanges()
	require.NoError(t, err)
	assert.False(t, changed)

	rootKey := rootKeyOf(t, d)
	_, err = d.AddBlock(rootKey, map[string]any{"type": "paragraph"}, nil)
	require.NoError(t, err)

	changed, err = d.HasUnbroadcastChanges()
	require.NoError(t, err)
	assert.True(t, changed)

	d.markBroadcast()
	changed, err = d.HasUnbroadcastChanges()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestOnClientDisconnectPrunesEphemeral(t *testing.T) {
	d := newTestDocument(t)
	_, err := d.HandleEphemeral("cursor", []byte("pos"), "client-a")
	require.NoError(t, err)

	removed, err := d.OnClientDisconnect("client-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"client-a"}, removed)

	removed, err = d.OnClientDisconnect("client-a")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestPoisonedDocumentRejectsFurtherOperations(t *testing.T) {
	d := newTestDocument(t)
	err := d.mutate(func() ([]Event, error) {
		panic("boom")
	})
	assert.ErrorIs(t, err, ErrModelPoisoned)

	_, err = d.ExportLexical()
	assert.ErrorIs(t, err, ErrModelPoisoned)

	err = d.InitializeFromLexical(seedState())
	assert.ErrorIs(t, err, ErrModelPoisoned)
}

func TestHandleMessageUnknownType(t *testing.T) {
	d := newTestDocument(t)
	_, err := d.HandleMessage("bogus", nil, "client-a")
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestHandleMessageSnapshotRequest(t *testing.T) {
	d := newTestDocument(t)
	res, err := d.HandleMessage("snapshot-request", nil, "client-a")
	require.NoError(t, err)
	assert.True(t, res.ResponseNeeded)
	assert.Equal(t, "snapshot", res.ResponseData["type"])
	assert.NotEmpty(t, res.ResponseData["bytes"])
}

func TestHandleMessageAppendParagraph(t *testing.T) {
	d := newTestDocument(t)
	res, err := d.HandleMessage("append-paragraph", map[string]any{"text": "hi"}, "client-a")
	require.NoError(t, err)
	assert.True(t, res.BroadcastNeeded)
	assert.Equal(t, "update", res.BroadcastData["type"])
	assert.Equal(t, "client-a", res.BroadcastData["sender_id"])
}
