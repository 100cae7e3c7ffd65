package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/fileops"
	"github.com/oneconcern/vaultsync/pkg/localstore"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/metrics"
	"github.com/oneconcern/vaultsync/pkg/remote"
	"github.com/oneconcern/vaultsync/pkg/remote/memory"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type realmFixture struct {
	backend *memory.Store
	realm   manifest.EntryID
	key     crypto.SecretKey
	devices remote.StaticDevices
}

func newRealm(t testing.TB) *realmFixture {
	f := &realmFixture{
		backend: memory.New(),
		realm:   manifest.NewEntryID(),
		key:     crypto.MustGenerateSecretKey(),
		devices: remote.StaticDevices{},
	}
	require.NoError(t, f.backend.CreateRealm(context.Background(), f.realm))
	return f
}

// device is the local side of a realm member
type device struct {
	t       testing.TB
	storage *localstore.Storage
	tx      *Transactions
	clock   clockwork.FakeClock
	metrics *metrics.Metrics
}

func (f *realmFixture) device(t testing.TB, author string) *device {
	return f.deviceWith(t, author, f.backend)
}

// deviceWith builds a device whose blocks go through a specific block store
func (f *realmFixture) deviceWith(t testing.TB, author string, blocks remote.BlockStore) *device {
	storage, err := localstore.NewMemory(localstore.Logger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	signer := crypto.MustGenerateSigningKey()
	f.devices[author] = signer.VerifyKey()
	m := metrics.MustNew(prometheus.NewRegistry())
	loader := remote.NewLoader(f.realm, f.key, author, signer, f.devices, f.backend, blocks,
		remote.WithLogger(zaptest.NewLogger(t)), remote.WithMetrics(m))

	clock := clockwork.NewFakeClockAt(t0)
	return &device{
		t:       t,
		storage: storage,
		clock:   clock,
		metrics: m,
		tx:      New(storage, loader, Logger(zaptest.NewLogger(t)), Clock(clock), Metrics(m)),
	}
}

func (d *device) file(id manifest.EntryID) *manifest.LocalFile {
	m, err := d.storage.GetManifest(id)
	require.NoError(d.t, err)
	f, ok := m.(*manifest.LocalFile)
	require.True(d.t, ok)
	return f
}

func (d *device) write(id manifest.EntryID, data []byte, offset uint64) {
	ctx := context.Background()
	d.clock.Advance(time.Second)
	m, ops, removed := fileops.PrepareWrite(d.file(id), uint64(len(data)), offset, d.clock.Now().UTC())
	for _, op := range ops {
		require.NoError(d.t, d.storage.SetChunk(ctx, op.Chunk.ID, op.Data(data)))
	}
	require.NoError(d.t, d.storage.SetManifest(id, m))
	require.NoError(d.t, d.storage.ClearChunks(ctx, removed))
}

func (d *device) read(id manifest.EntryID) []byte {
	ctx := context.Background()
	m := d.file(id)
	data, err := fileops.BuildData(0, m.Size, fileops.PrepareRead(m, m.Size, 0), func(c chunk.Chunk) ([]byte, error) {
		return d.tx.ReadChunkData(ctx, c)
	})
	require.NoError(d.t, err)
	return data
}

// sync drives an entry to the remote store, without handling conflicts
func (d *device) sync(id manifest.EntryID) manifest.Remote {
	ctx := context.Background()
	current, err := d.tx.LoadRemote(ctx, id)
	require.NoError(d.t, err)

	final := false
	for attempt := 0; attempt < 10; attempt++ {
		candidate, err := d.tx.SynchronizationStep(ctx, id, current, final)
		if errors.Is(err, status.ErrReshapingRequired) {
			require.NoError(d.t, d.tx.FileReshape(ctx, id))
			continue
		}
		require.NoError(d.t, err)
		if candidate == nil {
			return current
		}
		if f, ok := candidate.(*manifest.RemoteFile); ok {
			require.NoError(d.t, d.tx.UploadBlocks(ctx, f))
		}
		require.NoError(d.t, d.tx.UploadManifest(ctx, candidate))
		current, final = candidate, true
	}
	d.t.Fatalf("entry %s did not converge", id)
	return nil
}

// tree stores a folder holding a single empty file
func (d *device) tree(name string, blocksize uint64) (folder, file manifest.EntryID) {
	parent := manifest.NewFolderPlaceholder(manifest.NewEntryID(), t0)
	f := manifest.NewFilePlaceholder(parent.ID, blocksize, t0)
	withChild := parent.EvolveChildrenAndMarkUpdated(map[string]manifest.EntryID{name: f.ID}, t0)
	require.NoError(d.t, d.storage.SetManifest(parent.ID, withChild))
	require.NoError(d.t, d.storage.SetManifest(f.ID, f))
	return parent.ID, f.ID
}

func (d *device) dirtyChunks() map[chunk.ID]struct{} {
	ids, err := d.storage.ChunkIDs(context.Background())
	require.NoError(d.t, err)
	set := make(map[chunk.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestSynchronizationSteps(t *testing.T) {
	ctx := context.Background()
	d := newRealm(t).device(t, alice)
	_, id := d.tree("hello.txt", 4)
	d.write(id, []byte("hello world"), 0)

	_, err := d.tx.SynchronizationStep(ctx, id, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrReshapingRequired))
	assert.True(t, d.file(id).IsPlaceholder())

	require.NoError(t, d.tx.FileReshape(ctx, id))
	assert.True(t, d.file(id).IsReshaped())
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.Reshapes))

	// a placeholder is registered along with its content
	v1, err := d.tx.SynchronizationStep(ctx, id, nil, false)
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.Equal(t, uint64(1), v1.Header().Version)
	assert.Len(t, v1.(*manifest.RemoteFile).Blocks, 3)

	// not uploaded yet
	require.NoError(t, d.tx.UploadBlocks(ctx, v1.(*manifest.RemoteFile)))
	again, err := d.tx.SynchronizationStep(ctx, id, nil, false)
	require.NoError(t, err)
	assert.True(t, manifest.SameContent(v1, again))

	// a change made while uploading is kept for the next version
	require.NoError(t, d.tx.UploadManifest(ctx, v1))
	d.write(id, []byte("H"), 0)
	_, err = d.tx.SynchronizationStep(ctx, id, v1, true)
	require.True(t, errors.Is(err, status.ErrReshapingRequired))
	assert.Equal(t, uint64(1), d.file(id).BaseVersion())
	assert.True(t, d.file(id).NeedSync)
	require.NoError(t, d.tx.FileReshape(ctx, id))

	v2, err := d.tx.SynchronizationStep(ctx, id, v1, true)
	require.NoError(t, err)
	require.NotNil(t, v2)
	assert.Equal(t, uint64(2), v2.Header().Version)

	require.NoError(t, d.tx.UploadBlocks(ctx, v2.(*manifest.RemoteFile)))
	require.NoError(t, d.tx.UploadManifest(ctx, v2))
	next, err := d.tx.SynchronizationStep(ctx, id, v2, true)
	require.NoError(t, err)
	assert.Nil(t, next)

	synced := d.file(id)
	assert.False(t, synced.NeedSync)
	assert.Equal(t, uint64(2), synced.BaseVersion())
	assert.Empty(t, d.dirtyChunks(), "uploaded blocks leave dirty storage")
	assert.Equal(t, []byte("Hello world"), d.read(id))
}

func TestSynchronizationStepLocalMiss(t *testing.T) {
	d := newRealm(t).device(t, alice)
	_, err := d.tx.SynchronizationStep(context.Background(), manifest.NewEntryID(), nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLocalMiss))
}

func TestUploadBlocksOnce(t *testing.T) {
	ctx := context.Background()
	realm := newRealm(t)
	d := realm.device(t, alice)
	_, id := d.tree("data.bin", 8)
	d.write(id, []byte("0123456789abcdefghij"), 0)
	require.NoError(t, d.tx.FileReshape(ctx, id))

	v1, err := d.tx.SynchronizationStep(ctx, id, nil, false)
	require.NoError(t, err)
	require.NoError(t, d.tx.UploadBlocks(ctx, v1.(*manifest.RemoteFile)))
	puts := realm.backend.BlockPuts()
	assert.Equal(t, int64(3), puts)

	// a retry after a failed manifest upload does not upload blocks again
	require.NoError(t, d.tx.UploadBlocks(ctx, v1.(*manifest.RemoteFile)))
	assert.Equal(t, puts, realm.backend.BlockPuts())
	assert.Equal(t, float64(3), testutil.ToFloat64(d.metrics.BlockUploads))
}

func TestReshapeIsLazy(t *testing.T) {
	ctx := context.Background()
	d := newRealm(t).device(t, alice)
	_, id := d.tree("lazy.txt", 4)
	d.write(id, []byte("abcdefgh"), 0)
	d.write(id, []byte("XY"), 1)

	before := d.file(id)
	assert.False(t, before.IsReshaped())
	assert.True(t, before.NeedSync)

	require.NoError(t, d.tx.FileReshape(ctx, id))
	after := d.file(id)
	assert.True(t, after.IsReshaped())
	assert.True(t, after.NeedSync, "reshaping does not change the sync state")
	assert.Equal(t, before.Updated, after.Updated)
	assert.Equal(t, []byte("aXYdefgh"), d.read(id))
	assert.Len(t, d.dirtyChunks(), 2, "only the reshaped blocks remain")

	// nothing left to do
	require.NoError(t, d.tx.FileReshape(ctx, id))
	assert.Equal(t, after, d.file(id))
}

func TestLoadManifestFromRemote(t *testing.T) {
	ctx := context.Background()
	realm := newRealm(t)
	a := realm.device(t, alice)
	_, id := a.tree("shared.txt", 4)
	a.write(id, []byte("shared content"), 0)
	a.sync(id)

	b := realm.device(t, bob)
	_, err := b.storage.GetManifest(id)
	require.True(t, errors.Is(err, status.ErrLocalMiss))

	loaded, err := b.tx.LoadManifest(ctx, id)
	require.NoError(t, err)
	assert.False(t, loaded.Header().NeedSync)
	assert.Equal(t, []byte("shared content"), b.read(id))
	assert.Equal(t, float64(4), testutil.ToFloat64(b.metrics.BlockDownloads))

	// blocks are then served from the clean cache
	assert.Equal(t, []byte("shared content"), b.read(id))
	assert.Equal(t, float64(4), testutil.ToFloat64(b.metrics.BlockDownloads))

	_, err = b.tx.LoadManifest(ctx, manifest.NewEntryID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteManifestNotFound))

	missing, err := b.tx.LoadRemote(ctx, manifest.NewEntryID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRemoteChangesEvictReplacedChunks(t *testing.T) {
	ctx := context.Background()
	realm := newRealm(t)
	a := realm.device(t, alice)
	_, id := a.tree("notes.txt", 4)
	a.write(id, []byte("v1"), 0)
	a.sync(id)

	b := realm.device(t, bob)
	_, err := b.tx.LoadManifest(ctx, id)
	require.NoError(t, err)
	b.write(id, []byte("version two"), 0)
	v := b.sync(id)

	next, err := a.tx.SynchronizationStep(ctx, id, v, false)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Empty(t, a.dirtyChunks())
	assert.Equal(t, []byte("version two"), a.read(id))
}

func TestFileConflict(t *testing.T) {
	ctx := context.Background()
	realm := newRealm(t)
	a := realm.device(t, alice)
	folder, id := a.tree("report.txt", 4)
	a.write(id, []byte("first draft"), 0)
	a.sync(id)

	b := realm.device(t, bob)
	_, err := b.tx.LoadManifest(ctx, id)
	require.NoError(t, err)
	b.write(id, []byte("bob's draft"), 0)
	theirs := b.sync(id)

	a.write(id, []byte("alice's draft"), 0)
	_, err = a.tx.SynchronizationStep(ctx, id, theirs, false)
	require.Error(t, err)
	var conflict *FileConflictError
	require.True(t, errors.As(err, &conflict))

	copyID, err := a.tx.FileConflict(ctx, id, conflict.Local, conflict.Remote)
	require.NoError(t, err)
	require.NotEmpty(t, copyID)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.Conflicts.WithLabelValues("file")))

	parent, err := a.storage.GetManifest(folder)
	require.NoError(t, err)
	assert.True(t, parent.Header().NeedSync)
	assert.Equal(t, map[string]manifest.EntryID{
		"report.txt": id,
		"report (conflicting with bob@desktop).txt": copyID,
	}, parent.(*manifest.LocalFolder).Children())

	live := a.file(id)
	assert.False(t, live.NeedSync)
	assert.Equal(t, theirs.Header().Version, live.BaseVersion())
	assert.Equal(t, []byte("bob's draft"), a.read(id))

	preserved := a.file(copyID)
	assert.True(t, preserved.IsPlaceholder())
	assert.True(t, preserved.NeedSync)
	assert.Equal(t, folder, preserved.Parent)
	assert.Equal(t, []byte("alice's draft"), a.read(copyID))

	// only the chunks of the copy remain dirty
	assert.Equal(t, chunk.IDs(preserved.Blocks...), a.dirtyChunks())

	// the conflict is already resolved
	again, err := a.tx.FileConflict(ctx, id, conflict.Local, conflict.Remote)
	require.NoError(t, err)
	assert.Empty(t, again)

	placeholders, err := a.tx.PlaceholderChildren(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, []manifest.EntryID{copyID}, placeholders)

	a.sync(copyID)
	assert.Equal(t, []byte("alice's draft"), a.read(copyID))
	assert.False(t, a.file(copyID).NeedSync)
}

// lockWatcher records whether an entry is locked whenever a block is downloaded
type lockWatcher struct {
	remote.BlockStore
	storage   *localstore.Storage
	entry     manifest.EntryID
	downloads int
	locked    int
}

func (w *lockWatcher) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	w.downloads++
	if w.storage != nil {
		lctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if unlock, err := w.storage.Lock(lctx, w.entry); err != nil {
			w.locked++
		} else {
			unlock()
		}
	}
	return w.BlockStore.Get(ctx, id)
}

func TestFileConflictDownloadsUnlocked(t *testing.T) {
	ctx := context.Background()
	realm := newRealm(t)
	a := realm.device(t, alice)
	folder, id := a.tree("report.txt", 4)
	a.write(id, []byte("first draft"), 0)
	a.sync(id)

	watcher := &lockWatcher{BlockStore: realm.backend, entry: folder}
	c := realm.deviceWith(t, "carol@tablet", watcher)
	watcher.storage = c.storage
	parent, err := a.storage.GetManifest(folder)
	require.NoError(t, err)
	require.NoError(t, c.storage.SetManifest(folder, parent))
	_, err = c.tx.LoadManifest(ctx, id)
	require.NoError(t, err)

	b := realm.device(t, bob)
	_, err = b.tx.LoadManifest(ctx, id)
	require.NoError(t, err)
	b.write(id, []byte("bob's draft"), 0)
	theirs := b.sync(id)

	// the local edit only touches a part of the file: the rest is remote only
	c.write(id, []byte("F"), 0)
	_, err = c.tx.SynchronizationStep(ctx, id, theirs, false)
	var conflict *FileConflictError
	require.True(t, errors.As(err, &conflict))

	copyID, err := c.tx.FileConflict(ctx, id, conflict.Local, conflict.Remote)
	require.NoError(t, err)
	require.NotEmpty(t, copyID)
	assert.Equal(t, 3, watcher.downloads)
	assert.Zero(t, watcher.locked, "blocks are downloaded without holding the parent lock")

	assert.Equal(t, []byte("First draft"), c.read(copyID))
	assert.Equal(t, []byte("bob's draft"), c.read(id))
}

func TestMinimalRemoteManifest(t *testing.T) {
	ctx := context.Background()
	d := newRealm(t).device(t, alice)
	_, id := d.tree("new.txt", 4)

	minimal, err := d.tx.GetMinimalRemoteManifest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, minimal)
	assert.Equal(t, uint64(1), minimal.Header().Version)
	assert.Equal(t, alice, minimal.Header().Author)

	d.sync(id)
	minimal, err = d.tx.GetMinimalRemoteManifest(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, minimal)
}
