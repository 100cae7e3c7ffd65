package localstore

import (
	"context"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/config"
	"github.com/oneconcern/vaultsync/pkg/dlogger"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/locks"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/oneconcern/vaultsync/pkg/storage"
	"github.com/oneconcern/vaultsync/pkg/storage/localfs"
	storagestatus "github.com/oneconcern/vaultsync/pkg/storage/status"
	"github.com/opentracing/opentracing-go"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	manifestsDir = "manifests"
	chunksDir    = "chunks"

	defaultCacheEntries         = 100
	defaultManifestCacheEntries = 4096
)

// Storage is the local state of a workspace
type Storage struct {
	manifests ManifestStore
	chunks    storage.Store
	clean     *lru.Cache
	locks     *locks.Table
	l         *zap.Logger

	// mu serializes the writes and the cache fills of the manifest cache
	mu    sync.Mutex
	cache *lru.Cache

	cacheEntries         int
	manifestCacheEntries int
	closeOnce            sync.Once
}

// Option for the local storage
type Option func(*Storage)

// Logger for the local storage
func Logger(l *zap.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.l = l
		}
	}
}

// CacheEntries sets the number of blocks held by the clean block cache
func CacheEntries(n int) Option {
	return func(s *Storage) {
		if n > 0 {
			s.cacheEntries = n
		}
	}
}

// ManifestCacheEntries sets the number of decoded manifests kept in memory
func ManifestCacheEntries(n int) Option {
	return func(s *Storage) {
		if n > 0 {
			s.manifestCacheEntries = n
		}
	}
}

// New builds a local storage from a manifest store and a chunk store
func New(manifests ManifestStore, chunks storage.Store, opts ...Option) (*Storage, error) {
	s := &Storage{
		manifests:            manifests,
		chunks:               chunks,
		locks:                locks.NewTable(),
		l:                    zap.NewNop(),
		cacheEntries:         defaultCacheEntries,
		manifestCacheEntries: defaultManifestCacheEntries,
	}
	for _, apply := range opts {
		apply(s)
	}
	clean, err := lru.New(s.cacheEntries)
	if err != nil {
		return nil, err
	}
	s.clean = clean
	if s.cache, err = lru.New(s.manifestCacheEntries); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory builds a volatile local storage, for tests and ephemeral workspaces
func NewMemory(opts ...Option) (*Storage, error) {
	manifests, err := NewBadgerManifests("")
	if err != nil {
		return nil, err
	}
	return New(manifests, localfs.New(afero.NewMemMapFs()), opts...)
}

// Open the persisted local storage under the configured data directory
func Open(cfg config.Config, opts ...Option) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manifests, err := NewBadgerManifests(filepath.Join(cfg.DataDir, manifestsDir))
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	if err = fs.MkdirAll(filepath.Join(cfg.DataDir, chunksDir), 0700); err != nil {
		return nil, multierr.Append(err, manifests.Close())
	}
	chunks, err := localfs.NewAtomic(afero.NewBasePathFs(fs, filepath.Join(cfg.DataDir, chunksDir)))
	if err != nil {
		return nil, multierr.Append(err, manifests.Close())
	}

	l, err := dlogger.GetLogger(cfg.LogLevel)
	if err != nil {
		return nil, multierr.Append(err, manifests.Close())
	}
	s, err := New(manifests, chunks, append([]Option{Logger(l), CacheEntries(cfg.BlockCacheEntries())}, opts...)...)
	if err != nil {
		return nil, multierr.Append(err, manifests.Close())
	}
	s.chunks = storage.Instrument(opentracing.GlobalTracer(), s.l, chunks)
	return s, nil
}

// Lock the manifest of an entry
func (s *Storage) Lock(ctx context.Context, id manifest.EntryID) (locks.Unlock, error) {
	return s.locks.Lock(ctx, string(id))
}

// GetManifest returns the local manifest of an entry, or status.ErrLocalMiss
func (s *Storage) GetManifest(id manifest.EntryID) (manifest.Local, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(manifest.Local).Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache.Get(id); ok {
		return v.(manifest.Local).Clone(), nil
	}
	data, err := s.manifests.Get(id)
	if err != nil {
		return nil, err
	}
	m, err := manifest.UnmarshalLocal(data)
	if err != nil {
		return nil, errors.New("corrupted local manifest").Wrap(err)
	}
	s.cache.Add(id, m)
	return m.Clone(), nil
}

// SetManifest persists the local manifest of an entry
func (s *Storage) SetManifest(id manifest.EntryID, m manifest.Local) error {
	data, err := manifest.MarshalLocal(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.manifests.Set(id, data); err != nil {
		return err
	}
	s.cache.Add(id, m.Clone())
	s.l.Debug("manifest stored", zap.String("entry_id", string(id)), zap.Bool("need_sync", m.Header().NeedSync))
	return nil
}

// ClearManifest removes the local manifest of an entry
func (s *Storage) ClearManifest(id manifest.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
	return s.manifests.Delete(id)
}

// ManifestIDs lists the entries known locally
func (s *Storage) ManifestIDs() ([]manifest.EntryID, error) {
	return s.manifests.Keys()
}

// GetChunk returns the content of a dirty chunk, or status.ErrLocalMiss
func (s *Storage) GetChunk(ctx context.Context, id chunk.ID) ([]byte, error) {
	data, err := storage.ReadAll(ctx, s.chunks, string(id))
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotExists) {
			return nil, status.ErrLocalMiss.WrapMessage("chunk %s", id)
		}
		return nil, err
	}
	return data, nil
}

// SetChunk stores the content of a dirty chunk
func (s *Storage) SetChunk(ctx context.Context, id chunk.ID, data []byte) error {
	return storage.PutBytes(ctx, s.chunks, string(id), data, storage.OverWrite)
}

// ClearChunk evicts a dirty chunk. With missOK, a missing chunk is not an error.
func (s *Storage) ClearChunk(ctx context.Context, id chunk.ID, missOK bool) error {
	if !missOK {
		has, err := s.chunks.Has(ctx, string(id))
		if err != nil {
			return err
		}
		if !has {
			return status.ErrLocalMiss.WrapMessage("chunk %s", id)
		}
	}
	return s.chunks.Delete(ctx, string(id))
}

// ClearChunks evicts a set of dirty chunks, ignoring missing ones
func (s *Storage) ClearChunks(ctx context.Context, ids map[chunk.ID]struct{}) error {
	var err error
	for id := range ids {
		err = multierr.Append(err, s.ClearChunk(ctx, id, true))
	}
	return err
}

// ChunkIDs lists the dirty chunks
func (s *Storage) ChunkIDs(ctx context.Context) ([]chunk.ID, error) {
	keys, err := s.chunks.Keys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]chunk.ID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, chunk.ID(k))
	}
	return ids, nil
}

// GetCleanBlock returns a cached block, or status.ErrLocalMiss
func (s *Storage) GetCleanBlock(id chunk.ID) ([]byte, error) {
	v, ok := s.clean.Get(id)
	if !ok {
		return nil, status.ErrLocalMiss.WrapMessage("block %s", id)
	}
	return v.([]byte), nil
}

// SetCleanBlock caches a block known remotely
func (s *Storage) SetCleanBlock(id chunk.ID, data []byte) {
	s.clean.Add(id, data)
}

// Close the local storage
func (s *Storage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.clean.Purge()
		s.cache.Purge()
		err = multierr.Append(err, s.manifests.Close())
	})
	return err
}
