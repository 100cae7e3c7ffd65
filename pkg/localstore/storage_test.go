package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/config"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2000, 1, 2, 3, 4, 5, 0, time.UTC)

func memoryStorage(t testing.TB, opts ...Option) *Storage {
	s, err := NewMemory(append([]Option{Logger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestManifests(t *testing.T) {
	s := memoryStorage(t)
	folder := manifest.NewFolderPlaceholder(manifest.NewEntryID(), t0)

	_, err := s.GetManifest(folder.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLocalMiss))

	require.NoError(t, s.SetManifest(folder.ID, folder))
	got, err := s.GetManifest(folder.ID)
	require.NoError(t, err)
	assert.Equal(t, folder, got)

	// the stored manifest is not affected by changes to the returned copy
	got.(*manifest.LocalFolder).Entries["oops"] = manifest.NewEntryID()
	again, err := s.GetManifest(folder.ID)
	require.NoError(t, err)
	assert.Empty(t, again.(*manifest.LocalFolder).Entries)

	ids, err := s.ManifestIDs()
	require.NoError(t, err)
	assert.Equal(t, []manifest.EntryID{folder.ID}, ids)

	require.NoError(t, s.ClearManifest(folder.ID))
	_, err = s.GetManifest(folder.ID)
	assert.True(t, errors.Is(err, status.ErrLocalMiss))
}

func TestManifestCacheBounded(t *testing.T) {
	s := memoryStorage(t, ManifestCacheEntries(2))
	folders := make([]*manifest.LocalFolder, 0, 3)
	for i := 0; i < 3; i++ {
		folder := manifest.NewFolderPlaceholder(manifest.NewEntryID(), t0)
		require.NoError(t, s.SetManifest(folder.ID, folder))
		folders = append(folders, folder)
	}
	assert.Equal(t, 2, s.cache.Len())

	// evicted manifests are read back from the manifest store
	for _, folder := range folders {
		got, err := s.GetManifest(folder.ID)
		require.NoError(t, err)
		assert.Equal(t, folder.ID, got.Header().ID)
		assert.True(t, got.IsPlaceholder())
	}
	assert.Equal(t, 2, s.cache.Len())
}

func TestChunks(t *testing.T) {
	s := memoryStorage(t)
	ctx := context.Background()
	id := chunk.NewID()

	_, err := s.GetChunk(ctx, id)
	assert.True(t, errors.Is(err, status.ErrLocalMiss))

	require.NoError(t, s.SetChunk(ctx, id, []byte("content")))
	data, err := s.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	ids, err := s.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chunk.ID{id}, ids)

	require.NoError(t, s.ClearChunk(ctx, id, false))
	err = s.ClearChunk(ctx, id, false)
	assert.True(t, errors.Is(err, status.ErrLocalMiss))
	require.NoError(t, s.ClearChunk(ctx, id, true))

	other := chunk.NewID()
	require.NoError(t, s.SetChunk(ctx, other, []byte("x")))
	require.NoError(t, s.ClearChunks(ctx, map[chunk.ID]struct{}{other: {}, id: {}}))
	ids, err = s.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCleanBlocks(t *testing.T) {
	s := memoryStorage(t, CacheEntries(2))
	a, b, c := chunk.NewID(), chunk.NewID(), chunk.NewID()

	s.SetCleanBlock(a, []byte("a"))
	s.SetCleanBlock(b, []byte("b"))
	s.SetCleanBlock(c, []byte("c"))

	_, err := s.GetCleanBlock(a)
	assert.True(t, errors.Is(err, status.ErrLocalMiss), "least recently used block is evicted")
	data, err := s.GetCleanBlock(c)
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))
}

func TestLock(t *testing.T) {
	s := memoryStorage(t)
	id := manifest.NewEntryID()

	unlock, err := s.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, id)
	require.Error(t, err)

	unlock()
	unlock, err = s.Lock(context.Background(), id)
	require.NoError(t, err)
	unlock()
}

func TestOpenPersists(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	file := manifest.NewFilePlaceholder(manifest.NewEntryID(), 16, t0)
	require.NoError(t, s.SetManifest(file.ID, file))
	id := chunk.NewID()
	require.NoError(t, s.SetChunk(ctx, id, []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	got, err := s.GetManifest(file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.Header().ID)
	assert.True(t, got.Header().NeedSync)

	data, err := s.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}
