package workspace

import (
	"context"
	"sort"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/oneconcern/vaultsync/pkg/transactions"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GetMinimalRemoteManifest returns the manifest registering an entry not yet
// known remotely, or nil when it is already registered.
func (w *Workspace) GetMinimalRemoteManifest(ctx context.Context, id manifest.EntryID) (manifest.Remote, error) {
	return w.tx.GetMinimalRemoteManifest(ctx, id)
}

// MinimalSync registers a placeholder remotely, without its content
func (w *Workspace) MinimalSync(ctx context.Context, id manifest.EntryID) error {
	unlock, err := w.syncLocks.Lock(ctx, string(id))
	if err != nil {
		return err
	}
	defer unlock()
	return w.minimalSync(ctx, id)
}

func (w *Workspace) minimalSync(ctx context.Context, id manifest.EntryID) error {
	minimal, err := w.tx.GetMinimalRemoteManifest(ctx, id)
	if err != nil || minimal == nil {
		return err
	}

	err = w.tx.UploadManifest(ctx, minimal)
	switch {
	case errors.Is(err, status.ErrRemoteSync):
		// registered meanwhile: the next full sync merges it
		w.l.Debug("placeholder already registered", zap.String("entry_id", string(id)))
		return nil
	case err != nil:
		return err
	}

	_, err = w.tx.SynchronizationStep(ctx, id, minimal, true)
	if errors.Is(err, status.ErrReshapingRequired) {
		return nil
	}
	return err
}

// Sync uploads the local changes of an entry and merges the remote ones.
//
// With recursive set, the children of a folder are synchronized as well, in
// parallel. Syncing an entry unknown locally does nothing.
func (w *Workspace) Sync(ctx context.Context, id manifest.EntryID, recursive bool) error {
	if err := w.ensureRealm(ctx); err != nil {
		return err
	}
	return w.sync(ctx, id, recursive)
}

// ensureRealm creates the remote realm the first time the workspace root is synchronized
func (w *Workspace) ensureRealm(ctx context.Context) error {
	root, err := w.storage.GetManifest(w.root)
	if err != nil {
		return err
	}
	if !root.IsPlaceholder() {
		return nil
	}
	return w.tx.CreateRealm(ctx)
}

func (w *Workspace) sync(ctx context.Context, id manifest.EntryID, recursive bool) error {
	synced, err := w.syncEntry(ctx, id)

	var conflict *transactions.FileConflictError
	switch {
	case errors.As(err, &conflict):
		return w.resolveConflict(ctx, id, conflict)
	case err != nil:
		return err
	case synced == nil:
		// not known locally
		return nil
	}

	folder, isFolder := synced.(manifest.Folderish)
	if !recursive || !isFolder {
		return nil
	}

	children := folder.Children()
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.maxConcurrency)
	for _, name := range names {
		child := children[name]
		g.Go(func() error {
			return w.sync(gctx, child, true)
		})
	}
	return g.Wait()
}

// resolveConflict keeps the remote version of a file as the live copy and
// preserves the local version under a conflict name.
func (w *Workspace) resolveConflict(ctx context.Context, id manifest.EntryID, conflict *transactions.FileConflictError) error {
	copyID, err := w.tx.FileConflict(ctx, id, conflict.Local, conflict.Remote)
	if err != nil {
		return err
	}
	if copyID == "" {
		return w.sync(ctx, id, false)
	}
	if err = w.sync(ctx, conflict.Local.Header().Parent, false); err != nil {
		return err
	}
	return w.sync(ctx, copyID, false)
}

// syncEntry runs the sync transactions of an entry until nothing is left to
// upload, and returns the resulting local manifest. It returns a nil manifest
// for an entry absent from local storage.
func (w *Workspace) syncEntry(ctx context.Context, id manifest.EntryID) (manifest.Local, error) {
	unlock, err := w.syncLocks.Lock(ctx, string(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if absent, err := w.absent(id); absent || err != nil {
		return nil, err
	}

	current, err := w.tx.LoadRemote(ctx, id)
	if err != nil {
		return nil, err
	}

	final := false
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		candidate, err := w.tx.SynchronizationStep(ctx, id, current, final)
		switch {
		case errors.Is(err, status.ErrReshapingRequired):
			if err = w.tx.FileReshape(ctx, id); err != nil {
				return nil, w.unlessRemoved(id, err)
			}
			continue
		case err != nil:
			return nil, w.unlessRemoved(id, err)
		}

		if candidate == nil {
			return w.storage.GetManifest(id)
		}

		if err = w.registerPlaceholderChildren(ctx, id, candidate); err != nil {
			return nil, err
		}
		if file, isFile := candidate.(*manifest.RemoteFile); isFile {
			if err = w.tx.UploadBlocks(ctx, file); err != nil {
				return nil, err
			}
		}

		err = w.tx.UploadManifest(ctx, candidate)
		switch {
		case errors.Is(err, status.ErrRemoteSync):
			w.l.Debug("upload rejected, reloading the remote manifest",
				zap.String("entry_id", string(id)), zap.Uint64("version", candidate.Header().Version))
			if current, err = w.tx.LoadRemote(ctx, id); err != nil {
				return nil, err
			}
			final = false
			continue
		case err != nil:
			return nil, err
		}

		w.l.Info("entry uploaded", zap.String("entry_id", string(id)), zap.Uint64("version", candidate.Header().Version))
		current, final = candidate, true
	}
	return nil, status.ErrRemoteSync.WrapMessage("entry %s: giving up after %d attempts", id, w.maxAttempts)
}

// registerPlaceholderChildren makes sure a folder manifest never references
// entries unknown to the remote store.
func (w *Workspace) registerPlaceholderChildren(ctx context.Context, id manifest.EntryID, candidate manifest.Remote) error {
	switch candidate.(type) {
	case *manifest.RemoteFolder, *manifest.RemoteWorkspace:
	default:
		return nil
	}
	local, err := w.storage.GetManifest(id)
	if err != nil {
		return err
	}
	placeholders, err := w.tx.PlaceholderChildren(ctx, local)
	if err != nil {
		return err
	}
	for _, child := range placeholders {
		if err = w.MinimalSync(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// absent tells whether the manifest of an entry is missing from local storage
func (w *Workspace) absent(id manifest.EntryID) (bool, error) {
	_, err := w.storage.GetManifest(id)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, status.ErrLocalMiss):
		return true, nil
	default:
		return false, err
	}
}

// unlessRemoved drops the error of a transaction on an entry removed meanwhile
func (w *Workspace) unlessRemoved(id manifest.EntryID, err error) error {
	if !errors.Is(err, status.ErrLocalMiss) {
		return err
	}
	if absent, _ := w.absent(id); absent {
		w.l.Debug("entry removed during sync", zap.String("entry_id", string(id)))
		return nil
	}
	return err
}
