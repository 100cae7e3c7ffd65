package workspace

import (
	"context"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"go.uber.org/zap"
)

// folder loads a folder-like manifest, fetching it when unknown locally
func (w *Workspace) folder(ctx context.Context, id manifest.EntryID) (manifest.Folderish, error) {
	m, err := w.tx.LoadManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	f, ok := m.(manifest.Folderish)
	if !ok {
		return nil, status.ErrNotAFolder.WrapMessage("entry %s", id)
	}
	return f, nil
}

// lockedFolder locks a folder-like entry and returns its manifest.
// The caller must release the lock.
func (w *Workspace) lockedFolder(ctx context.Context, id manifest.EntryID) (manifest.Folderish, func(), error) {
	if _, err := w.folder(ctx, id); err != nil {
		return nil, nil, err
	}
	unlock, err := w.storage.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m, err := w.storage.GetManifest(id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	f, ok := m.(manifest.Folderish)
	if !ok {
		unlock()
		return nil, nil, status.ErrNotAFolder.WrapMessage("entry %s", id)
	}
	return f, unlock, nil
}

func withChild(children map[string]manifest.EntryID, name string, id manifest.EntryID) map[string]manifest.EntryID {
	c := make(map[string]manifest.EntryID, len(children)+1)
	for k, v := range children {
		c[k] = v
	}
	if id != "" {
		c[name] = id
	} else {
		delete(c, name)
	}
	return c
}

// CreateFile creates an empty file in a folder
func (w *Workspace) CreateFile(ctx context.Context, parent manifest.EntryID, name string) (manifest.EntryID, error) {
	return w.create(ctx, parent, name, func() manifest.Local {
		return manifest.NewFilePlaceholder(parent, w.blockSize, w.now())
	})
}

// CreateFolder creates an empty folder in a folder
func (w *Workspace) CreateFolder(ctx context.Context, parent manifest.EntryID, name string) (manifest.EntryID, error) {
	return w.create(ctx, parent, name, func() manifest.Local {
		return manifest.NewFolderPlaceholder(parent, w.now())
	})
}

func (w *Workspace) create(ctx context.Context, parent manifest.EntryID, name string, placeholder func() manifest.Local) (manifest.EntryID, error) {
	if err := manifest.ValidateName(name); err != nil {
		return "", status.ErrInvalidArgument.Wrap(err)
	}
	folder, unlock, err := w.lockedFolder(ctx, parent)
	if err != nil {
		return "", err
	}
	defer unlock()

	if _, exists := folder.Children()[name]; exists {
		return "", status.ErrEntryExists.WrapMessage("%q in %s", name, parent)
	}

	child := placeholder()
	id := child.Header().ID
	// the child is stored first: a folder never references a missing manifest
	if err = w.storage.SetManifest(id, child); err != nil {
		return "", err
	}
	if err = w.storage.SetManifest(parent, folder.EvolveChildrenAndMarkUpdated(withChild(folder.Children(), name, id), w.now())); err != nil {
		return "", err
	}
	w.l.Debug("entry created", zap.String("entry_id", string(id)), zap.String("name", name), zap.String("parent", string(parent)))
	w.markDirty(parent, id)
	return id, nil
}

// Lookup returns the id of a named child
func (w *Workspace) Lookup(ctx context.Context, parent manifest.EntryID, name string) (manifest.EntryID, error) {
	folder, err := w.folder(ctx, parent)
	if err != nil {
		return "", err
	}
	id, ok := folder.Children()[name]
	if !ok {
		return "", status.ErrEntryNotFound.WrapMessage("%q in %s", name, parent)
	}
	return id, nil
}

// Children returns a copy of the children of a folder
func (w *Workspace) Children(ctx context.Context, id manifest.EntryID) (map[string]manifest.EntryID, error) {
	folder, err := w.folder(ctx, id)
	if err != nil {
		return nil, err
	}
	return withChild(folder.Children(), "", ""), nil
}

// Rename renames a child within its folder. An existing destination is an error.
func (w *Workspace) Rename(ctx context.Context, parent manifest.EntryID, from, to string) error {
	if err := manifest.ValidateName(to); err != nil {
		return status.ErrInvalidArgument.Wrap(err)
	}
	folder, unlock, err := w.lockedFolder(ctx, parent)
	if err != nil {
		return err
	}
	defer unlock()

	id, ok := folder.Children()[from]
	if !ok {
		return status.ErrEntryNotFound.WrapMessage("%q in %s", from, parent)
	}
	if from == to {
		return nil
	}
	if _, exists := folder.Children()[to]; exists {
		return status.ErrEntryExists.WrapMessage("%q in %s", to, parent)
	}

	children := withChild(withChild(folder.Children(), from, ""), to, id)
	if err = w.storage.SetManifest(parent, folder.EvolveChildrenAndMarkUpdated(children, w.now())); err != nil {
		return err
	}
	w.markDirty(parent)
	return nil
}

// Remove removes a file or an empty folder.
//
// The local manifest of the removed entry is dropped along with its dirty chunks.
func (w *Workspace) Remove(ctx context.Context, parent manifest.EntryID, name string) error {
	folder, unlock, err := w.lockedFolder(ctx, parent)
	if err != nil {
		return err
	}
	defer unlock()

	id, ok := folder.Children()[name]
	if !ok {
		return status.ErrEntryNotFound.WrapMessage("%q in %s", name, parent)
	}

	unlockChild, err := w.storage.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlockChild()

	child, err := w.storage.GetManifest(id)
	if err != nil && !errors.Is(err, status.ErrLocalMiss) {
		return err
	}
	if f, isFolder := child.(manifest.Folderish); isFolder && len(f.Children()) > 0 {
		return status.ErrFolderNotEmpty.WrapMessage("%q in %s", name, parent)
	}

	if err = w.storage.SetManifest(parent, folder.EvolveChildrenAndMarkUpdated(withChild(folder.Children(), name, ""), w.now())); err != nil {
		return err
	}
	if file, isFile := child.(*manifest.LocalFile); isFile {
		if err = w.storage.ClearChunks(ctx, chunk.IDs(file.Blocks...)); err != nil {
			return err
		}
	}
	if child != nil {
		if err = w.storage.ClearManifest(id); err != nil {
			return err
		}
	}
	w.l.Debug("entry removed", zap.String("entry_id", string(id)), zap.String("name", name), zap.String("parent", string(parent)))
	w.markDirty(parent)
	return nil
}
