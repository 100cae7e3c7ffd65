// Package memory implements the remote manifest and block stores in memory.
//
// Several workspaces sharing one Store behave like devices sharing a backend.
package memory

import (
	"context"
	"sync"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/remote"
	"go.uber.org/atomic"
)

var (
	_ remote.VersionedStore = &Store{}
	_ remote.BlockStore     = &Store{}
)

type change struct {
	checkpoint uint64
	id         manifest.EntryID
	version    uint64
}

type realm struct {
	checkpoint  uint64
	changes     []change
	subscribers map[int]chan struct{}
}

type vlog struct {
	realm     manifest.EntryID
	revisions []remote.Blob
}

// Store is an in-memory remote backend
type Store struct {
	mu        sync.Mutex
	realms    map[manifest.EntryID]*realm
	manifests map[manifest.EntryID]*vlog
	blocks    map[chunk.ID][]byte
	nextSub   int

	blockPuts   atomic.Int64
	updates     atomic.Int64
	unavailable atomic.Bool
}

// New builds an empty in-memory backend
func New() *Store {
	return &Store{
		realms:    make(map[manifest.EntryID]*realm),
		manifests: make(map[manifest.EntryID]*vlog),
		blocks:    make(map[chunk.ID][]byte),
	}
}

// SetUnavailable makes every call fail with remote.ErrUnavailable
func (s *Store) SetUnavailable(unavailable bool) {
	s.unavailable.Store(unavailable)
}

// BlockPuts counts the block uploads, including the ones for existing blocks
func (s *Store) BlockPuts() int64 {
	return s.blockPuts.Load()
}

// ManifestWrites counts the accepted manifest creations and updates
func (s *Store) ManifestWrites() int64 {
	return s.updates.Load()
}

// Subscribe returns a channel signaled whenever a manifest of the realm changes.
//
// Notifications are coalesced: the channel holds at most one pending signal.
func (s *Store) Subscribe(realmID manifest.EntryID) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureRealm(realmID)
	ch := make(chan struct{}, 1)
	id := s.nextSub
	s.nextSub++
	r.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(r.subscribers, id)
	}
}

func (s *Store) ensureRealm(id manifest.EntryID) *realm {
	r, ok := s.realms[id]
	if !ok {
		r = &realm{subscribers: make(map[int]chan struct{})}
		s.realms[id] = r
	}
	return r
}

func (s *Store) check(ctx context.Context) error {
	if s.unavailable.Load() {
		return remote.ErrUnavailable
	}
	return ctx.Err()
}

// Read a version of a manifest, the latest one when version is 0
func (s *Store) Read(ctx context.Context, id manifest.EntryID, version uint64) (remote.Blob, error) {
	if err := s.check(ctx); err != nil {
		return remote.Blob{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.manifests[id]
	if !ok {
		return remote.Blob{}, remote.ErrNotFound.WrapMessage("manifest %s", id)
	}
	if version == 0 {
		return log.revisions[len(log.revisions)-1], nil
	}
	if version > uint64(len(log.revisions)) {
		return remote.Blob{}, remote.ErrNotFound.WrapMessage("manifest %s version %d", id, version)
	}
	return log.revisions[version-1], nil
}

// Create registers version 1 of a manifest in an existing realm
func (s *Store) Create(ctx context.Context, id, realmID manifest.EntryID, _ uint32, blob remote.Blob) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.realms[realmID]
	if !ok || !r.created() {
		return remote.ErrRealmNotFound.WrapMessage("realm %s", realmID)
	}
	if _, exists := s.manifests[id]; exists {
		return remote.ErrVersionConflict.WrapMessage("manifest %s already exists", id)
	}
	if blob.Version != 1 {
		return remote.ErrBadVersion.WrapMessage("manifest %s must be created with version 1, got %d", id, blob.Version)
	}
	s.manifests[id] = &vlog{realm: realmID, revisions: []remote.Blob{copyBlob(blob)}}
	s.record(r, id, 1)
	return nil
}

// Update registers the next version of a manifest
func (s *Store) Update(ctx context.Context, id manifest.EntryID, blob remote.Blob) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.manifests[id]
	if !ok {
		return remote.ErrNotFound.WrapMessage("manifest %s", id)
	}
	latest := uint64(len(log.revisions))
	switch {
	case blob.Version <= latest:
		return remote.ErrVersionConflict.WrapMessage("manifest %s: version %d already exists", id, blob.Version)
	case blob.Version > latest+1:
		return remote.ErrBadVersion.WrapMessage("manifest %s: version %d does not follow %d", id, blob.Version, latest)
	}
	log.revisions = append(log.revisions, copyBlob(blob))
	s.record(s.realms[log.realm], id, blob.Version)
	return nil
}

func (s *Store) record(r *realm, id manifest.EntryID, version uint64) {
	r.checkpoint++
	r.changes = append(r.changes, change{checkpoint: r.checkpoint, id: id, version: version})
	s.updates.Inc()
	for _, ch := range r.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// PollChanges lists the latest version of the manifests changed since a checkpoint
func (s *Store) PollChanges(ctx context.Context, realmID manifest.EntryID, checkpoint uint64) (uint64, map[manifest.EntryID]uint64, error) {
	if err := s.check(ctx); err != nil {
		return checkpoint, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.realms[realmID]
	if !ok || !r.created() {
		return checkpoint, nil, remote.ErrRealmNotFound.WrapMessage("realm %s", realmID)
	}
	changes := make(map[manifest.EntryID]uint64)
	for _, c := range r.changes {
		if c.checkpoint > checkpoint {
			changes[c.id] = c.version
		}
	}
	return r.checkpoint, changes, nil
}

// CreateRealm creates the versioning domain of a workspace
func (s *Store) CreateRealm(ctx context.Context, realmID manifest.EntryID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureRealm(realmID)
	if r.created() {
		return remote.ErrRealmExists.WrapMessage("realm %s", realmID)
	}
	r.changes = []change{}
	return nil
}

// a realm may exist only to hold subscribers, before being created
func (r *realm) created() bool {
	return r.changes != nil
}

// Put stores a block. Putting an existing block is a no-op.
func (s *Store) Put(ctx context.Context, id chunk.ID, _ manifest.EntryID, data []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.blockPuts.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		s.blocks[id] = append([]byte{}, data...)
	}
	return nil
}

// Get fetches a block
func (s *Store) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blocks[id]
	if !ok {
		return nil, remote.ErrNotFound.WrapMessage("block %s", id)
	}
	return append([]byte{}, data...), nil
}

// Corrupt replaces the content of a stored block, for integrity tests
func (s *Store) Corrupt(id chunk.ID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[id] = append([]byte{}, data...)
}

func copyBlob(b remote.Blob) remote.Blob {
	b.Content = append([]byte{}, b.Content...)
	return b
}
