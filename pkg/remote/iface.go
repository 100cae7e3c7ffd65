package remote

import (
	"context"
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
)

// Sentinel errors returned by implementations of the remote interfaces
var (
	// ErrNotFound indicates the requested manifest, version or block does not exist
	ErrNotFound = errors.New("remote object not found")

	// ErrVersionConflict indicates another writer already registered this version
	ErrVersionConflict = errors.New("version conflict")

	// ErrBadVersion indicates an update skipping versions
	ErrBadVersion = errors.New("bad version")

	// ErrRealmExists indicates the realm was already created
	ErrRealmExists = errors.New("realm already exists")

	// ErrRealmNotFound indicates writing to a realm which was never created
	ErrRealmNotFound = errors.New("realm not found")

	// ErrUnavailable indicates a transport failure
	ErrUnavailable = errors.New("remote unavailable")
)

// Blob is a versioned, opaque manifest content
type Blob struct {
	Version   uint64
	Content   []byte
	Author    string
	Timestamp time.Time
}

// VersionedStore stores opaque manifest blobs under increasing versions
type VersionedStore interface {
	// Read a version of a manifest, the latest one when version is 0
	Read(ctx context.Context, id manifest.EntryID, version uint64) (Blob, error)

	// Create registers version 1 of a manifest in a realm
	Create(ctx context.Context, id, realm manifest.EntryID, encryptionRevision uint32, blob Blob) error

	// Update registers the next version of a manifest
	Update(ctx context.Context, id manifest.EntryID, blob Blob) error

	// PollChanges lists the latest version of the manifests changed since a checkpoint
	PollChanges(ctx context.Context, realm manifest.EntryID, checkpoint uint64) (uint64, map[manifest.EntryID]uint64, error)

	// CreateRealm creates the versioning domain of a workspace
	CreateRealm(ctx context.Context, realm manifest.EntryID) error
}

// BlockStore stores immutable, content-addressed blocks
type BlockStore interface {
	// Put is idempotent: putting the same id twice is not an error
	Put(ctx context.Context, id chunk.ID, realm manifest.EntryID, data []byte) error
	Get(ctx context.Context, id chunk.ID) ([]byte, error)
}

// Devices resolves the verify key of a manifest author
type Devices interface {
	VerifyKey(ctx context.Context, author string) (crypto.VerifyKey, error)
}

// StaticDevices is a fixed set of known devices
type StaticDevices map[string]crypto.VerifyKey

// VerifyKey of a known device
func (d StaticDevices) VerifyKey(_ context.Context, author string) (crypto.VerifyKey, error) {
	k, ok := d[author]
	if !ok {
		return nil, ErrNotFound.WrapMessage("unknown device %q", author)
	}
	return k, nil
}
