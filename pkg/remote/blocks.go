package remote

import (
	"context"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/storage"
	"github.com/oneconcern/vaultsync/pkg/storage/status"
)

type storageBlocks struct {
	store storage.Store
}

// NewStorageBlockStore exposes a key/value storage as a block store.
//
// Blocks are immutable: an existing block is never overwritten.
func NewStorageBlockStore(store storage.Store) BlockStore {
	return &storageBlocks{store: store}
}

func (s *storageBlocks) Put(ctx context.Context, id chunk.ID, _ manifest.EntryID, data []byte) error {
	err := storage.PutBytes(ctx, s.store, string(id), data, storage.NoOverWrite)
	if err != nil && !errors.Is(err, status.ErrExists) {
		return ErrUnavailable.Wrap(err)
	}
	return nil
}

func (s *storageBlocks) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	data, err := storage.ReadAll(ctx, s.store, string(id))
	if err != nil {
		if errors.Is(err, status.ErrNotExists) {
			return nil, ErrNotFound.Wrap(err)
		}
		return nil, ErrUnavailable.Wrap(err)
	}
	return data, nil
}
