package workspace

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oneconcern/vaultsync/pkg/config"
	"github.com/oneconcern/vaultsync/pkg/dlogger"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/localstore"
	"github.com/oneconcern/vaultsync/pkg/locks"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/metrics"
	"github.com/oneconcern/vaultsync/pkg/remote"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/oneconcern/vaultsync/pkg/transactions"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts bounds the number of upload attempts of a single sync
	DefaultMaxAttempts = 16

	dirtyBacklog = 1024
)

// Workspace is the local view of a realm, synchronized with the remote store
type Workspace struct {
	root    manifest.EntryID
	author  string
	storage *localstore.Storage
	tx      *transactions.Transactions

	clock          clockwork.Clock
	l              *zap.Logger
	metrics        *metrics.Metrics
	maxConcurrency int
	maxAttempts    int
	blockSize      uint64
	pollInterval   time.Duration

	// serializes the syncs of an entry
	syncLocks *locks.Table

	dirty         chan manifest.EntryID
	dirtyOverflow atomic.Bool
}

// Option customizes a workspace
type Option func(*Workspace)

// Logger for the workspace and its transactions
func Logger(l *zap.Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.l = l
		}
	}
}

// Clock used to timestamp changes and pace the monitor
func Clock(c clockwork.Clock) Option {
	return func(w *Workspace) {
		if c != nil {
			w.clock = c
		}
	}
}

// Metrics records sync activity
func Metrics(m *metrics.Metrics) Option {
	return func(w *Workspace) {
		w.metrics = m
	}
}

// MaxConcurrency bounds the number of children synchronized in parallel
func MaxConcurrency(n int) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.maxConcurrency = n
		}
	}
}

// MaxAttempts bounds the number of upload attempts of a single entry sync
func MaxAttempts(n int) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// BlockSize of the files created in this workspace
func BlockSize(size uint64) Option {
	return func(w *Workspace) {
		if size > 0 {
			w.blockSize = size
		}
	}
}

// WithConfig applies the settings of a configuration
func WithConfig(cfg config.Config) Option {
	return func(w *Workspace) {
		if size, err := cfg.BlockSizeBytes(); err == nil && size > 0 {
			w.blockSize = size
		}
		if cfg.MaxConcurrency > 0 {
			w.maxConcurrency = cfg.MaxConcurrency
		}
		if cfg.PollInterval > 0 {
			w.pollInterval = cfg.PollInterval
		}
	}
}

// New workspace over a local storage, for the realm of a loader.
//
// The workspace root shares its id with the realm. Its manifest is taken from
// local storage, else from the remote store, else created as a placeholder.
func New(ctx context.Context, storage *localstore.Storage, loader *remote.Loader, opts ...Option) (*Workspace, error) {
	w := &Workspace{
		root:           loader.Realm(),
		author:         loader.Author(),
		storage:        storage,
		clock:          clockwork.NewRealClock(),
		l:              zap.NewNop(),
		maxConcurrency: config.DefaultMaxConcurrency,
		maxAttempts:    DefaultMaxAttempts,
		blockSize:      config.DefaultBlockSize,
		pollInterval:   config.DefaultPollInterval,
		syncLocks:      locks.NewTable(),
		dirty:          make(chan manifest.EntryID, dirtyBacklog),
	}
	for _, apply := range opts {
		apply(w)
	}
	w.l = dlogger.Named(w.l, "workspace", string(w.root))
	if w.metrics != nil {
		loader = loader.With(remote.WithMetrics(w.metrics))
	}
	w.tx = transactions.New(storage, loader,
		transactions.Logger(w.l),
		transactions.Clock(w.clock),
		transactions.Metrics(w.metrics),
	)

	if err := w.ensureRoot(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Workspace) ensureRoot(ctx context.Context) error {
	_, err := w.tx.LoadManifest(ctx, w.root)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, status.ErrRemoteManifestNotFound):
		return err
	}

	unlock, err := w.storage.Lock(ctx, w.root)
	if err != nil {
		return err
	}
	defer unlock()
	if _, err = w.storage.GetManifest(w.root); err == nil {
		return nil
	}
	w.l.Info("creating workspace root")
	return w.storage.SetManifest(w.root, manifest.NewWorkspacePlaceholder(w.root, w.now()))
}

// Root is the id of the workspace root
func (w *Workspace) Root() manifest.EntryID {
	return w.root
}

// Author is the device identity signing the manifests of this workspace
func (w *Workspace) Author() string {
	return w.author
}

func (w *Workspace) now() time.Time {
	return w.clock.Now().UTC()
}

// markDirty notifies the monitor of a local change
func (w *Workspace) markDirty(ids ...manifest.EntryID) {
	for _, id := range ids {
		select {
		case w.dirty <- id:
		default:
			w.dirtyOverflow.Store(true)
		}
	}
}
