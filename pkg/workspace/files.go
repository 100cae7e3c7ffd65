package workspace

import (
	"context"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/fileops"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
)

// lockedFile locks a file entry and returns its manifest. The caller must release the lock.
func (w *Workspace) lockedFile(ctx context.Context, id manifest.EntryID) (*manifest.LocalFile, func(), error) {
	if _, err := w.tx.LoadManifest(ctx, id); err != nil {
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
	f, ok := m.(*manifest.LocalFile)
	if !ok {
		unlock()
		return nil, nil, status.ErrNotAFile.WrapMessage("entry %s", id)
	}
	return f, unlock, nil
}

// ReadBytes reads up to size bytes at offset. Reading past the end of file returns less data.
func (w *Workspace) ReadBytes(ctx context.Context, id manifest.EntryID, size, offset uint64) ([]byte, error) {
	file, unlock, err := w.lockedFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	size = fileops.ClipRead(file, size, offset)
	chunks := fileops.PrepareRead(file, size, offset)
	return fileops.BuildData(offset, size, chunks, func(c chunk.Chunk) ([]byte, error) {
		return w.tx.ReadChunkData(ctx, c)
	})
}

// WriteBytes writes data at offset, zero-filling any gap past the end of file
func (w *Workspace) WriteBytes(ctx context.Context, id manifest.EntryID, data []byte, offset uint64) (int, error) {
	file, unlock, err := w.lockedFile(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	updated, ops, removed := fileops.PrepareWrite(file, uint64(len(data)), offset, w.now())
	if err = w.commit(ctx, id, updated, ops, data, removed); err != nil {
		return 0, err
	}
	if len(data) > 0 {
		w.markDirty(id)
	}
	return len(data), nil
}

// Resize truncates or extends a file, extension reading as zeros
func (w *Workspace) Resize(ctx context.Context, id manifest.EntryID, size uint64) error {
	file, unlock, err := w.lockedFile(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if file.Size == size {
		return nil
	}
	updated, ops, removed := fileops.PrepareResize(file, size, w.now())
	if err = w.commit(ctx, id, updated, ops, nil, removed); err != nil {
		return err
	}
	w.markDirty(id)
	return nil
}

// commit writes new chunks, then the manifest referencing them, then evicts the
// chunks no longer referenced.
func (w *Workspace) commit(ctx context.Context, id manifest.EntryID, m *manifest.LocalFile, ops []fileops.WriteOp, data []byte, removed map[chunk.ID]struct{}) error {
	for _, op := range ops {
		if err := w.storage.SetChunk(ctx, op.Chunk.ID, op.Data(data)); err != nil {
			return err
		}
	}
	if err := w.storage.SetManifest(id, m); err != nil {
		return err
	}
	return w.storage.ClearChunks(ctx, removed)
}

// Reshape compacts a file into one block per slot, ahead of its upload
func (w *Workspace) Reshape(ctx context.Context, id manifest.EntryID) error {
	if _, err := w.tx.LoadManifest(ctx, id); err != nil {
		return err
	}
	return w.tx.FileReshape(ctx, id)
}
