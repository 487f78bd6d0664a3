package chunkStore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/i5heu/ouroboros-dag/internal/identity"
	"github.com/i5heu/ouroboros-dag/internal/keyValStore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// tableIdentity declares child references out of band, keyed by content.
type tableIdentity struct {
	children map[string][]string
}

func (ti tableIdentity) Identifier(content []byte) (string, error) {
	return identity.Of(content), nil
}

func (ti tableIdentity) ChildIdentifiers(content []byte) ([]string, error) {
	return ti.children[string(content)], nil
}

type failingIdentity struct{ err error }

func (f failingIdentity) Identifier([]byte) (string, error) { return "", f.err }
func (f failingIdentity) ChildIdentifiers([]byte) ([]string, error) { return nil, f.err }

func setup(t *testing.T, id Identity) (*ChunkStore, *keyValStore.KeyValStore) {
	t.Helper()
	reg := keyValStore.NewRegistry()
	cs := NewChunkStore(reg, id, nil)
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return cs, kv
}

func requireCounts(t *testing.T, cs *ChunkStore, complete, incomplete int) {
	t.Helper()
	c, i, err := cs.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, complete, c, "complete chunks")
	assert.Equal(t, incomplete, i, "incomplete chunks")
}

func TestStoreChunkContents_Scenario(t *testing.T) {
	ctx := context.Background()
	unknown := identity.Of([]byte("never stored"))
	cs, _ := setup(t, tableIdentity{children: map[string][]string{
		"parent-B": {identity.Of([]byte("leaf-A"))},
		"orphan-C": {unknown},
	}})

	leaf, err := cs.StoreChunkContents(ctx, []byte("leaf-A"))
	require.NoError(t, err)
	assert.Equal(t, identity.Of([]byte("leaf-A")), leaf.Identifier)
	assert.True(t, leaf.Complete)
	assert.Equal(t, &Stats{Depth: 0, Size: 6}, leaf.Stats)

	parent, err := cs.StoreChunkContents(ctx, []byte("parent-B"))
	require.NoError(t, err)
	assert.True(t, parent.Complete)
	assert.Equal(t, &Stats{Depth: 1, Size: 14}, parent.Stats)

	orphan, err := cs.StoreChunkContents(ctx, []byte("orphan-C"))
	require.NoError(t, err)
	assert.False(t, orphan.Complete)
	assert.Nil(t, orphan.Stats)

	got, err := cs.GetChunkContents(ctx, identity.Of([]byte("orphan-C")))
	require.NoError(t, err)
	assert.Equal(t, []byte("orphan-C"), got.Content)
	assert.False(t, got.Complete)
	assert.Nil(t, got.Stats)

	got, err = cs.GetChunkContents(ctx, parent.Identifier)
	require.NoError(t, err)
	assert.Equal(t, []byte("parent-B"), got.Content)
	assert.True(t, got.Complete)
	assert.Equal(t, &Stats{Depth: 1, Size: 14}, got.Stats)

	requireCounts(t, cs, 2, 1)
}

func TestStoreChunkContents_Aggregation(t *testing.T) {
	ctx := context.Background()
	a := identity.Of([]byte("aa"))
	b := identity.Of([]byte("bbb"))
	mid := identity.Of([]byte("mid"))
	cs, _ := setup(t, tableIdentity{children: map[string][]string{
		"mid":  {a},
		"top":  {mid, b},
		"diam": {a, a, mid},
	}})

	for _, content := range []string{"aa", "bbb", "mid"} {
		_, err := cs.StoreChunkContents(ctx, []byte(content))
		require.NoError(t, err)
	}

	top, err := cs.StoreChunkContents(ctx, []byte("top"))
	require.NoError(t, err)
	require.True(t, top.Complete)
	// 3 + (3 + 2) + 3
	assert.Equal(t, &Stats{Depth: 2, Size: 11}, top.Stats)

	// shared children are counted once per reference
	diam, err := cs.StoreChunkContents(ctx, []byte("diam"))
	require.NoError(t, err)
	assert.Equal(t, &Stats{Depth: 2, Size: 4 + 2 + 2 + 5}, diam.Stats)
}

func TestStoreChunkContents_SizeLimit(t *testing.T) {
	ctx := context.Background()
	cs, kv := setup(t, identity.SHA256{})

	_, err := cs.StoreChunkContents(ctx, []byte(strings.Repeat("x", MaxChunkSize+1)))
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
	requireCounts(t, cs, 0, 0)

	_, writes := kv.OperationCounts()
	assert.Zero(t, writes)

	chunk, err := cs.StoreChunkContents(ctx, []byte(strings.Repeat("x", MaxChunkSize)))
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxChunkSize), chunk.Stats.Size)
}

func TestStoreChunkContents_EmptyContent(t *testing.T) {
	cs, _ := setup(t, identity.SHA256{})

	chunk, err := cs.StoreChunkContents(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, chunk.Complete)
	assert.Equal(t, &Stats{}, chunk.Stats)

	got, err := cs.GetChunkContents(context.Background(), chunk.Identifier)
	require.NoError(t, err)
	assert.Empty(t, got.Content)
	assert.True(t, got.Complete)
}

func TestStoreChunkContents_Idempotent(t *testing.T) {
	ctx := context.Background()
	leaf := identity.Of([]byte("leaf"))
	cs, _ := setup(t, tableIdentity{children: map[string][]string{"parent": {leaf}}})

	_, err := cs.StoreChunkContents(ctx, []byte("leaf"))
	require.NoError(t, err)

	first, err := cs.StoreChunkContents(ctx, []byte("parent"))
	require.NoError(t, err)
	second, err := cs.StoreChunkContents(ctx, []byte("parent"))
	require.NoError(t, err)

	assert.Equal(t, first.Identifier, second.Identifier)
	assert.Equal(t, first.Stats, second.Stats)

	got, err := cs.GetChunkContents(ctx, first.Identifier)
	require.NoError(t, err)
	assert.Equal(t, first.Stats, got.Stats)

	requireCounts(t, cs, 2, 0)
}

func TestStoreChunkContents_ShortCircuitsOnMissingChild(t *testing.T) {
	ctx := context.Background()
	leaf := identity.Of([]byte("leaf"))
	missing := identity.Of([]byte("missing"))
	cs, kv := setup(t, tableIdentity{children: map[string][]string{
		"parent": {missing, leaf, leaf},
	}})

	_, err := cs.StoreChunkContents(ctx, []byte("leaf"))
	require.NoError(t, err)

	readsBefore, _ := kv.OperationCounts()
	chunk, err := cs.StoreChunkContents(ctx, []byte("parent"))
	require.NoError(t, err)
	readsAfter, _ := kv.OperationCounts()

	assert.False(t, chunk.Complete)
	assert.Equal(t, uint64(1), readsAfter-readsBefore)
}

func TestStoreChunkContents_PromotionNeedsResubmit(t *testing.T) {
	ctx := context.Background()
	leaf := identity.Of([]byte("late leaf"))
	cs, _ := setup(t, tableIdentity{children: map[string][]string{"parent": {leaf}}})

	parent, err := cs.StoreChunkContents(ctx, []byte("parent"))
	require.NoError(t, err)
	require.False(t, parent.Complete)

	_, err = cs.StoreChunkContents(ctx, []byte("late leaf"))
	require.NoError(t, err)

	got, err := cs.GetChunkContents(ctx, parent.Identifier)
	require.NoError(t, err)
	assert.False(t, got.Complete)

	parent, err = cs.StoreChunkContents(ctx, []byte("parent"))
	require.NoError(t, err)
	assert.True(t, parent.Complete)
	assert.Equal(t, &Stats{Depth: 1, Size: uint64(len("parent") + len("late leaf"))}, parent.Stats)

	got, err = cs.GetChunkContents(ctx, parent.Identifier)
	require.NoError(t, err)
	assert.True(t, got.Complete)
}

func TestStoreChunkContents_IncompleteChildIsNotEnough(t *testing.T) {
	ctx := context.Background()
	orphanChild := identity.Of([]byte("nowhere"))
	mid := identity.Of([]byte("mid"))
	cs, _ := setup(t, tableIdentity{children: map[string][]string{
		"mid": {orphanChild},
		"top": {mid},
	}})

	_, err := cs.StoreChunkContents(ctx, []byte("mid"))
	require.NoError(t, err)

	top, err := cs.StoreChunkContents(ctx, []byte("top"))
	require.NoError(t, err)
	assert.False(t, top.Complete)
}

func TestStoreChunkContents_Concurrent(t *testing.T) {
	ctx := context.Background()
	cs, kv := setup(t, identity.SHA256{})

	leaf, err := cs.StoreChunkContents(ctx, []byte("shared leaf"))
	require.NoError(t, err)
	content := []byte("parent of " + leaf.Identifier)

	var wg sync.WaitGroup
	results := make([]Chunk, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cs.StoreChunkContents(ctx, content)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Identifier, results[i].Identifier)
		assert.Equal(t, results[0].Stats, results[i].Stats)
	}
	requireCounts(t, cs, 2, 0)
	assert.Equal(t, int64(0), kv.OpenSessions())
}

func TestStoreChunkContents_IdentityErrors(t *testing.T) {
	boom := errors.New("boom")
	cs, _ := setup(t, failingIdentity{err: boom})

	_, err := cs.StoreChunkContents(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, boom)
	requireCounts(t, cs, 0, 0)
}

func TestGetChunkContents_NotFound(t *testing.T) {
	cs, _ := setup(t, identity.SHA256{})

	_, err := cs.GetChunkContents(context.Background(), identity.Of([]byte("never")))
	assert.ErrorIs(t, err, ErrChunkNotFound)
	assert.False(t, errors.Is(err, keyValStore.ErrNotFound))
}

func TestGetChunkContents_PropagatesStorageErrors(t *testing.T) {
	cs, kv := setup(t, identity.SHA256{})
	require.NoError(t, kv.Close())

	_, err := cs.GetChunkContents(context.Background(), identity.Of([]byte("x")))
	assert.ErrorIs(t, err, keyValStore.ErrClosed)
	assert.False(t, errors.Is(err, ErrChunkNotFound))

	_, err = cs.StoreChunkContents(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, keyValStore.ErrClosed)
}

func TestGetChunkContents_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	cs, _ := setup(t, identity.SHA256{})

	require.NoError(t, cs.complete.Put(ctx, "bad", []byte{0xff}))
	_, err := cs.GetChunkContents(ctx, "bad")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestGetChunkContents_ReadsLegacyStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	oldReg := keyValStore.NewRegistry()
	legacy := oldReg.Register(IncompleteCompatibleName, "")
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{Paths: []string{dir}, SchemaVersion: 2}, oldReg)
	require.NoError(t, err)
	id := identity.Of([]byte("legacy chunk"))
	require.NoError(t, legacy.Put(ctx, id, []byte("legacy chunk")))
	require.NoError(t, kv.Close())

	reg := keyValStore.NewRegistry()
	cs := NewChunkStore(reg, identity.SHA256{}, nil)
	kv, err = keyValStore.NewKeyValStore(keyValStore.StoreConfig{Paths: []string{dir}, SchemaVersion: 3}, reg)
	require.NoError(t, err)
	defer kv.Close()

	got, err := cs.GetChunkContents(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy chunk"), got.Content)
	assert.False(t, got.Complete)

	orphan, err := cs.StoreChunkContents(ctx, []byte("refers to "+identity.Of([]byte("gone"))))
	require.NoError(t, err)
	require.False(t, orphan.Complete)

	// both chunks live in the legacy store
	_, incomplete, err := cs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, incomplete)
}

func TestCompleteRecord(t *testing.T) {
	r := completeRecord{Content: []byte("content"), Depth: 3, Size: 1 << 40}
	got, err := unmarshalCompleteRecord(r.marshal())
	require.NoError(t, err)
	assert.Equal(t, r, got)

	// unknown fields are skipped
	b := protowire.AppendTag(r.marshal(), 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	got, err = unmarshalCompleteRecord(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = unmarshalCompleteRecord(r.marshal()[:4])
	assert.ErrorIs(t, err, ErrCorruptRecord)

	_, err = unmarshalCompleteRecord(nil)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
