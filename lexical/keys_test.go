package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloudx/lexicaloro/internal/crdt"
)

func TestKeyMapperCreateRejectsDuplicates(t *testing.T) {
	m := NewKeyMapper()
	tree := crdt.NewTree("local")
	root, err := tree.CreateNode(crdt.UndefNodeID, 0, "root", nil)
	require.NoError(t, err)

	require.NoError(t, m.Create("key-1", root))
	assert.ErrorIs(t, m.Create("key-1", root), ErrDuplicateMapping)

	other, _ := tree.CreateNode(root, 0, "paragraph", nil)
	assert.ErrorIs(t, m.Create("key-1", other), ErrDuplicateMapping)
}

func TestKeyMapperLookupsAndRemove(t *testing.T) {
	m := NewKeyMapper()
	tree := crdt.NewTree("local")
	root, _ := tree.CreateNode(crdt.UndefNodeID, 0, "root", nil)
	require.NoError(t, m.Create("key-root", root))

	id, ok := m.LookupByKey("key-root")
	require.True(t, ok)
	assert.Equal(t, root, id)

	key, ok := m.LookupByID(root)
	require.True(t, ok)
	assert.Equal(t, "key-root", key)

	m.RemoveByKey("key-root")
	_, ok = m.LookupByKey("key-root")
	assert.False(t, ok)
	_, ok = m.LookupByID(root)
	assert.False(t, ok)
}

func TestSyncExistingRebindsOrphansAndDropsDeleted(t *testing.T) {
	tree := crdt.NewTree("local")
	mapper := NewKeyMapper()
	root, _ := tree.CreateNode(crdt.UndefNodeID, 0, "root", nil)
	child, _ := tree.CreateNode(root, 0, "paragraph", nil)

	// Simulate an import that forgot to bind the child.
	require.NoError(t, mapper.Create("root-key", root))

	SyncExisting(tree, mapper)
	_, ok := mapper.LookupByID(child)
	assert.True(t, ok, "sync_existing must generate a key for unbound live nodes")
	assert.Equal(t, 2, mapper.Len())

	require.NoError(t, tree.DeleteNode(child))
	SyncExisting(tree, mapper)
	assert.Equal(t, 1, mapper.Len(), "sync_existing must drop bindings for nodes no longer in the tree")
}
