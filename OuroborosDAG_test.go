package OuroborosDAG_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	OuroborosDAG "github.com/i5heu/ouroboros-dag"
	"github.com/i5heu/ouroboros-dag/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t testing.TB, conf OuroborosDAG.Config) *OuroborosDAG.OuroborosDAG {
	t.Helper()
	ou, err := OuroborosDAG.NewOuroborosDAG(conf)
	require.NoError(t, err)
	t.Cleanup(func() { ou.Close() })
	return ou
}

func TestOuroborosDAG_Chunks(t *testing.T) {
	ctx := context.Background()
	ou := setup(t, OuroborosDAG.Config{InMemory: true})

	leaf, err := ou.StoreChunkContents(ctx, []byte("leaf-A"))
	require.NoError(t, err)
	assert.Equal(t, identity.Of([]byte("leaf-A")), leaf.Identifier)
	assert.Equal(t, &OuroborosDAG.Stats{Depth: 0, Size: 6}, leaf.Stats)

	parentContent := []byte("parent-B " + leaf.Identifier)
	parent, err := ou.StoreChunkContents(ctx, parentContent)
	require.NoError(t, err)
	assert.True(t, parent.Complete)
	assert.Equal(t, &OuroborosDAG.Stats{Depth: 1, Size: uint64(len(parentContent)) + 6}, parent.Stats)

	orphanContent := []byte("orphan-C " + identity.Of([]byte("X")))
	orphan, err := ou.StoreChunkContents(ctx, orphanContent)
	require.NoError(t, err)
	assert.False(t, orphan.Complete)

	got, err := ou.GetChunkContents(ctx, identity.Of(orphanContent))
	require.NoError(t, err)
	assert.Equal(t, orphanContent, got.Content)
	assert.False(t, got.Complete)

	_, err = ou.GetChunkContents(ctx, identity.Of([]byte("never stored")))
	assert.ErrorIs(t, err, OuroborosDAG.ErrChunkNotFound)

	_, err = ou.StoreChunkContents(ctx, []byte(strings.Repeat("x", 1025)))
	assert.ErrorIs(t, err, OuroborosDAG.ErrSizeLimitExceeded)

	stats, err := ou.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CompleteChunks)
	assert.Equal(t, 1, stats.IncompleteChunks)
}

func TestOuroborosDAG_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)

	ou, err := OuroborosDAG.NewOuroborosDAG(OuroborosDAG.Config{
		Paths:       []string{dir},
		Compression: true,
	})
	require.NoError(t, err)

	root, err := ou.StoreFile(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, root.Complete)
	require.NoError(t, ou.NVD().Save(ctx, "lastRoot", root.Identifier))
	require.NoError(t, ou.Close())
	require.NoError(t, ou.Close())

	ou = setup(t, OuroborosDAG.Config{Paths: []string{dir}})

	last, found, err := ou.NVD().Load(ctx, "lastRoot")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, root.Identifier, last)

	var out bytes.Buffer
	require.NoError(t, ou.RetrieveFile(ctx, root.Identifier, &out))
	assert.Equal(t, data, out.Bytes())

	got, err := ou.GetChunkContents(ctx, root.Identifier)
	require.NoError(t, err)
	assert.Equal(t, root.Stats, got.Stats)
}

func TestOuroborosDAG_GarbageCollection(t *testing.T) {
	ou := setup(t, OuroborosDAG.Config{
		Paths:                     []string{t.TempDir()},
		GarbageCollectionInterval: 1,
	})
	assert.NoError(t, ou.Close())
}

func TestOuroborosDAG_BadLeafSize(t *testing.T) {
	_, err := OuroborosDAG.NewOuroborosDAG(OuroborosDAG.Config{InMemory: true, LeafSize: 4096})
	assert.Error(t, err)
}

func BenchmarkStoreChunkContents(b *testing.B) {
	ctx := context.Background()
	ou := setup(b, OuroborosDAG.Config{InMemory: true})
	leaf, err := ou.StoreChunkContents(ctx, []byte("leaf"))
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		content := []byte(leaf.Identifier + " " + strings.Repeat("p", i%512))
		if _, err := ou.StoreChunkContents(ctx, content); err != nil {
			b.Fatalf("StoreChunkContents failed with error: %v", err)
		}
	}
}
