package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralStoreSetRemove(t *testing.T) {
	s := NewEphemeralStore(10)
	s.Set("client-a", []byte("cursor:12"))
	s.Set("client-b", []byte("cursor:40"))
	assert.Equal(t, 2, s.Len())

	blob, err := s.EncodeAll()
	require.NoError(t, err)
	entries, err := DecodeEphemeralBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("cursor:12"), entries["client-a"])

	removed := s.Remove("client-a")
	assert.True(t, removed)
	assert.Equal(t, 1, s.Len())

	blob2, err := s.EncodeAll()
	require.NoError(t, err)
	entries2, err := DecodeEphemeralBlob(blob2)
	require.NoError(t, err)
	_, stillThere := entries2["client-a"]
	assert.False(t, stillThere)
}

func TestEphemeralStoreCapsEntries(t *testing.T) {
	s := NewEphemeralStore(2)
	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))
	s.Set("c", []byte("3"))
	assert.Equal(t, 2, s.Len(), "oldest entry must be evicted once over capacity")
}
