package transactions

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/fileops"
	"github.com/oneconcern/vaultsync/pkg/localstore"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/metrics"
	"github.com/oneconcern/vaultsync/pkg/remote"
	"github.com/oneconcern/vaultsync/pkg/status"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transactions run the sync transactions of a realm on behalf of a device
type Transactions struct {
	realm   manifest.EntryID
	author  string
	storage *localstore.Storage
	loader  *remote.Loader
	clock   clockwork.Clock
	l       *zap.Logger
	metrics *metrics.Metrics
}

// Option customizes the transactions
type Option func(*Transactions)

// Logger for the transactions
func Logger(l *zap.Logger) Option {
	return func(t *Transactions) {
		if l != nil {
			t.l = l
		}
	}
}

// Clock used to timestamp manifests
func Clock(c clockwork.Clock) Option {
	return func(t *Transactions) {
		if c != nil {
			t.clock = c
		}
	}
}

// Metrics recorded by the transactions
func Metrics(m *metrics.Metrics) Option {
	return func(t *Transactions) {
		t.metrics = m
	}
}

// New transactions over a local storage and a remote loader
func New(storage *localstore.Storage, loader *remote.Loader, opts ...Option) *Transactions {
	t := &Transactions{
		realm:   loader.Realm(),
		author:  loader.Author(),
		storage: storage,
		loader:  loader,
		clock:   clockwork.NewRealClock(),
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(t)
	}
	return t
}

// Author of the manifests produced by these transactions
func (t *Transactions) Author() string {
	return t.author
}

func (t *Transactions) now() time.Time {
	return t.clock.Now().UTC()
}

// SynchronizationStep merges a remote manifest into the local one and tells
// what to upload next.
//
// It returns nil when the entry is synchronized, or else the next version of the
// entry: version 1 for a placeholder. A file which is not reshaped yields
// status.ErrReshapingRequired. With final set, the remote manifest is our own
// upload, just accepted.
func (t *Transactions) SynchronizationStep(ctx context.Context, id manifest.EntryID, remoteManifest manifest.Remote, final bool) (manifest.Remote, error) {
	t.metrics.SyncStep()

	unlock, err := t.storage.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	local, err := t.storage.GetManifest(id)
	if err != nil {
		return nil, err
	}

	merged, err := MergeManifests(t.author, local, remoteManifest, t.now(), final)
	if err != nil {
		return nil, err
	}
	if merged != local {
		if err = t.storage.SetManifest(id, merged); err != nil {
			return nil, err
		}
		if err = t.evictReplaced(ctx, local, merged); err != nil {
			return nil, err
		}
		t.l.Debug("remote changes merged", zap.String("entry_id", string(id)),
			zap.Uint64("version", merged.BaseVersion()), zap.Bool("need_sync", merged.Header().NeedSync))
	}

	if !merged.Header().NeedSync {
		return nil, nil
	}
	if f, isFile := merged.(*manifest.LocalFile); isFile && !f.IsReshaped() {
		return nil, status.ErrReshapingRequired.WrapMessage("file %s", id)
	}
	return merged.ToRemote(t.author, t.now()), nil
}

// evictReplaced drops the dirty chunks of a file no longer referenced once remote content replaced it
func (t *Transactions) evictReplaced(ctx context.Context, previous, current manifest.Local) error {
	before, ok := previous.(*manifest.LocalFile)
	if !ok {
		return nil
	}
	after, ok := current.(*manifest.LocalFile)
	if !ok {
		return nil
	}
	ids := chunk.IDs(before.Blocks...)
	for id := range chunk.IDs(after.Blocks...) {
		delete(ids, id)
	}
	return t.storage.ClearChunks(ctx, ids)
}

// GetMinimalRemoteManifest returns the manifest registering a placeholder, or nil
// when the entry is already known remotely.
func (t *Transactions) GetMinimalRemoteManifest(_ context.Context, id manifest.EntryID) (manifest.Remote, error) {
	local, err := t.storage.GetManifest(id)
	if err != nil {
		return nil, err
	}
	if !local.IsPlaceholder() {
		return nil, nil
	}
	return local.MinimalRemote(t.author, t.now()), nil
}

// FileReshape compacts every slot of a file into a single block
func (t *Transactions) FileReshape(ctx context.Context, id manifest.EntryID) error {
	unlock, err := t.storage.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	local, err := t.storage.GetManifest(id)
	if err != nil {
		return err
	}
	file, ok := local.(*manifest.LocalFile)
	if !ok {
		return status.ErrNotAFile.WrapMessage("entry %s", id)
	}

	reshaper := fileops.PrepareReshape(file)
	if len(reshaper.Operations()) == 0 {
		return nil
	}

	removed := make(map[chunk.ID]struct{})
	for _, op := range reshaper.Operations() {
		data, err := fileops.BuildData(op.Start, op.Size, op.Source, t.chunkLoader(ctx))
		if err != nil {
			return err
		}
		block := op.Destination.EvolveAsBlock(data)
		if op.WriteBack {
			if err = t.storage.SetChunk(ctx, block.ID, data); err != nil {
				return err
			}
		}
		reshaper.Apply(op.Slot, block)
		for cid := range op.Removed {
			removed[cid] = struct{}{}
		}
	}

	if err = t.storage.SetManifest(id, reshaper.Manifest()); err != nil {
		return err
	}
	t.metrics.Reshape()
	t.l.Debug("file reshaped", zap.String("entry_id", string(id)), zap.Int("slots", len(reshaper.Operations())))
	return t.storage.ClearChunks(ctx, removed)
}

// FileConflict preserves the local version of a conflicting file as a new
// placeholder registered in the parent under a conflict name, and makes the
// remote version the live copy of the entry.
//
// It returns the id of the copy, or an empty id when the conflict no longer holds.
func (t *Transactions) FileConflict(ctx context.Context, id manifest.EntryID, local manifest.Local, remoteManifest manifest.Remote) (_ manifest.EntryID, err error) {
	parentID := local.Header().Parent

	snapshot, err := t.conflictingFile(id, remoteManifest)
	if err != nil || snapshot == nil {
		return "", err
	}

	// the content may have to be downloaded: copy it before locking
	blocks, copied, err := t.copyChunks(ctx, snapshot)
	stored := false
	defer func() {
		if !stored {
			err = multierr.Append(err, t.storage.ClearChunks(ctx, copied))
		}
	}()
	if err != nil {
		return "", err
	}

	unlockParent, err := t.storage.Lock(ctx, parentID)
	if err != nil {
		return "", err
	}
	defer unlockParent()

	parentManifest, err := t.storage.GetManifest(parentID)
	if err != nil {
		return "", err
	}
	parent, ok := parentManifest.(manifest.Folderish)
	if !ok {
		return "", status.ErrNotAFolder.WrapMessage("parent %s of %s", parentID, id)
	}

	unlock, err := t.storage.Lock(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	currentManifest, err := t.storage.GetManifest(id)
	if errors.Is(err, status.ErrLocalMiss) {
		// removed meanwhile
		return "", nil
	}
	if err != nil {
		return "", err
	}
	current, ok := currentManifest.(*manifest.LocalFile)
	name, isChild := manifest.ChildName(parent, id)
	if !ok || !isChild || current.BaseVersion() >= remoteManifest.Header().Version || !sameLayout(current, snapshot) {
		// removed, resolved or written meanwhile
		return "", nil
	}

	now := t.now()
	conflicting := manifest.NewFilePlaceholder(parentID, current.Blocksize, now).EvolveAndMarkUpdated(current.Size, blocks, now)
	newName := manifest.ConflictName(name, parent.Children(), remoteManifest.Header().Author)
	children := make(map[string]manifest.EntryID, len(parent.Children())+1)
	for childName, childID := range parent.Children() {
		children[childName] = childID
	}
	children[newName] = conflicting.ID
	newParent := parent.EvolveChildrenAndMarkUpdated(children, now)
	live := manifest.FromRemote(remoteManifest)

	if err = t.storage.SetManifest(conflicting.ID, conflicting); err != nil {
		return "", err
	}
	stored = true
	if err = t.storage.SetManifest(parentID, newParent); err != nil {
		return "", err
	}
	if err = t.storage.SetManifest(id, live); err != nil {
		return "", err
	}
	if err = t.evictReplaced(ctx, current, live); err != nil {
		return "", err
	}

	t.metrics.Conflict("file")
	t.l.Warn("file conflict resolved",
		zap.String("entry_id", string(id)),
		zap.String("copy_id", string(conflicting.ID)),
		zap.String("copy_name", newName),
		zap.String("remote_author", remoteManifest.Header().Author),
		zap.Uint64("remote_version", remoteManifest.Header().Version))
	return conflicting.ID, nil
}

// conflictingFile returns the local file still diverging from a remote version, or nil
func (t *Transactions) conflictingFile(id manifest.EntryID, remoteManifest manifest.Remote) (*manifest.LocalFile, error) {
	m, err := t.storage.GetManifest(id)
	if err != nil {
		if errors.Is(err, status.ErrLocalMiss) {
			return nil, nil
		}
		return nil, err
	}
	file, ok := m.(*manifest.LocalFile)
	if !ok {
		return nil, status.ErrNotAFile.WrapMessage("entry %s", id)
	}
	if file.BaseVersion() >= remoteManifest.Header().Version {
		return nil, nil
	}
	return file, nil
}

// copyChunks copies the content of a file into new dirty chunks. The ids of the
// chunks written so far are returned, even on error.
func (t *Transactions) copyChunks(ctx context.Context, file *manifest.LocalFile) ([][]chunk.Chunk, map[chunk.ID]struct{}, error) {
	written := make(map[chunk.ID]struct{})
	blocks := make([][]chunk.Chunk, 0, len(file.Blocks))
	for _, chunks := range file.Blocks {
		copied := make([]chunk.Chunk, 0, len(chunks))
		for _, c := range chunks {
			raw, err := t.ReadChunkData(ctx, c)
			if err != nil {
				return nil, written, err
			}
			fresh := chunk.New(c.Start, c.Stop)
			data := chunk.Padded(raw, int64(c.Start-c.RawOffset), int64(c.Stop-c.RawOffset))
			if err = t.storage.SetChunk(ctx, fresh.ID, data); err != nil {
				return nil, written, err
			}
			written[fresh.ID] = struct{}{}
			copied = append(copied, fresh)
		}
		blocks = append(blocks, copied)
	}
	return blocks, written, nil
}

// sameLayout tells whether a file kept the same chunks: every write allocates new chunk ids
func sameLayout(a, b *manifest.LocalFile) bool {
	if a.Size != b.Size || a.BaseVersion() != b.BaseVersion() || len(a.Blocks) != len(b.Blocks) {
		return false
	}
	for i := range a.Blocks {
		if len(a.Blocks[i]) != len(b.Blocks[i]) {
			return false
		}
		for j := range a.Blocks[i] {
			if !a.Blocks[i][j].Equal(b.Blocks[i][j]) {
				return false
			}
		}
	}
	return true
}

// PlaceholderChildren lists the children of a folder not yet known remotely
func (t *Transactions) PlaceholderChildren(_ context.Context, m manifest.Local) ([]manifest.EntryID, error) {
	folder, ok := m.(manifest.Folderish)
	if !ok {
		return nil, nil
	}
	var placeholders []manifest.EntryID
	for _, name := range sortedNames(folder.Children()) {
		id := folder.Children()[name]
		child, err := t.storage.GetManifest(id)
		if err != nil {
			if errors.Is(err, status.ErrLocalMiss) {
				continue
			}
			return nil, err
		}
		if child.IsPlaceholder() {
			placeholders = append(placeholders, id)
		}
	}
	return placeholders, nil
}

// UploadBlocks uploads the blocks of a file manifest still held in dirty chunk storage.
//
// Once uploaded, a block moves to the clean block cache: uploading the same
// manifest again does not upload anything.
func (t *Transactions) UploadBlocks(ctx context.Context, file *manifest.RemoteFile) error {
	for _, access := range file.Blocks {
		data, err := t.storage.GetChunk(ctx, access.ID)
		if err != nil {
			if errors.Is(err, status.ErrLocalMiss) {
				continue
			}
			return err
		}
		if err = t.loader.UploadBlock(ctx, access, data); err != nil {
			return err
		}
		t.storage.SetCleanBlock(access.ID, data)
		if err = t.storage.ClearChunk(ctx, access.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// LoadRemote fetches the latest remote manifest of an entry, or nil when none exists
func (t *Transactions) LoadRemote(ctx context.Context, id manifest.EntryID) (manifest.Remote, error) {
	r, err := t.loader.LoadManifest(ctx, id, 0)
	if err != nil {
		if errors.Is(err, status.ErrRemoteManifestNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// UploadManifest registers a remote manifest
func (t *Transactions) UploadManifest(ctx context.Context, r manifest.Remote) error {
	return t.loader.UploadManifest(ctx, r)
}

// CreateRealm ensures the realm exists remotely
func (t *Transactions) CreateRealm(ctx context.Context) error {
	return t.loader.CreateRealm(ctx)
}

// PollChanges lists the entries of the realm updated remotely since a checkpoint
func (t *Transactions) PollChanges(ctx context.Context, checkpoint uint64) (uint64, map[manifest.EntryID]uint64, error) {
	return t.loader.PollChanges(ctx, checkpoint)
}

// LoadManifest returns the local manifest of an entry, fetching it from the
// remote store when it is not available locally.
func (t *Transactions) LoadManifest(ctx context.Context, id manifest.EntryID) (manifest.Local, error) {
	local, err := t.storage.GetManifest(id)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, status.ErrLocalMiss) {
		return nil, err
	}

	r, err := t.loader.LoadManifest(ctx, id, 0)
	if err != nil {
		return nil, err
	}

	unlock, err := t.storage.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// another transaction may have stored it meanwhile
	if local, err = t.storage.GetManifest(id); err == nil {
		return local, nil
	}
	local = manifest.FromRemote(r)
	if err = t.storage.SetManifest(id, local); err != nil {
		return nil, err
	}
	return local, nil
}

// ReadChunkData returns the raw data of a chunk: from dirty chunk storage, the
// clean block cache, or else downloaded from the block store. A missing pending
// chunk yields status.ErrIntegrity.
func (t *Transactions) ReadChunkData(ctx context.Context, c chunk.Chunk) ([]byte, error) {
	data, err := t.storage.GetChunk(ctx, c.ID)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, status.ErrLocalMiss) {
		return nil, err
	}
	if c.Access == nil {
		// a pending chunk only lives in dirty storage
		return nil, status.ErrIntegrity.WrapMessage("pending chunk %s is missing from local storage", c.ID)
	}

	if data, err = t.storage.GetCleanBlock(c.ID); err == nil {
		return data, nil
	}
	data, err = t.loader.LoadBlock(ctx, *c.Access)
	if err != nil {
		return nil, err
	}
	t.storage.SetCleanBlock(c.ID, data)
	return data, nil
}

func (t *Transactions) chunkLoader(ctx context.Context) fileops.ChunkLoader {
	return func(c chunk.Chunk) ([]byte, error) {
		return t.ReadChunkData(ctx, c)
	}
}
