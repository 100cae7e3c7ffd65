package localstore

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
)

// ManifestStore persists serialized local manifests by entry id
type ManifestStore interface {
	Get(manifest.EntryID) ([]byte, error)
	Set(manifest.EntryID, []byte) error
	Delete(manifest.EntryID) error
	Keys() ([]manifest.EntryID, error)
	Close() error
}

var manifestPref = [9]byte{'m', 'a', 'n', 'i', 'f', 'e', 's', 't', ':'}

func manifestKey(id manifest.EntryID) []byte {
	return append(manifestPref[:], []byte(id)...)
}

type badgerManifests struct {
	db *badger.DB
}

// NewBadgerManifests opens a badger manifest store under dir.
//
// An empty dir opens an in-memory store.
func NewBadgerManifests(dir string) (ManifestStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.New("open manifest store").Wrap(err)
	}
	return &badgerManifests{db: db}, nil
}

func badgerRewriteError(id manifest.EntryID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return status.ErrLocalMiss.WrapMessage("manifest %s", id)
	default:
		return err
	}
}

func (b *badgerManifests) Get(id manifest.EntryID) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, badgerRewriteError(id, err)
	}
	return data, nil
}

func (b *badgerManifests) Set(id manifest.EntryID, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(id), data)
	})
}

func (b *badgerManifests) Delete(id manifest.EntryID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(manifestKey(id))
	})
}

func (b *badgerManifests) Keys() ([]manifest.EntryID, error) {
	var keys []manifest.EntryID
	err := b.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         manifestPref[:],
		})
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			keys = append(keys, manifest.EntryID(key[len(manifestPref):]))
		}
		return nil
	})
	return keys, err
}

func (b *badgerManifests) Close() error {
	return b.db.Close()
}
