package remote

import (
	"context"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/metrics"
	"github.com/oneconcern/vaultsync/pkg/status"
	"go.uber.org/zap"
)

// Loader reads and writes the manifests and blocks of a realm
type Loader struct {
	realm              manifest.EntryID
	encryptionRevision uint32
	key                crypto.SecretKey
	author             string
	signer             crypto.SigningKey
	devices            Devices
	manifests          VersionedStore
	blocks             BlockStore

	l       *zap.Logger
	metrics *metrics.Metrics
}

// LoaderOption customizes a Loader
type LoaderOption func(*Loader)

// WithLogger sets the logger of the loader
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.l = l
		}
	}
}

// WithMetrics sets the metrics recorded by the loader
func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(ld *Loader) {
		ld.metrics = m
	}
}

// WithEncryptionRevision sets the revision of the realm key
func WithEncryptionRevision(revision uint32) LoaderOption {
	return func(ld *Loader) {
		ld.encryptionRevision = revision
	}
}

// NewLoader builds a loader for a realm, on behalf of a device
func NewLoader(realm manifest.EntryID, key crypto.SecretKey, author string, signer crypto.SigningKey,
	devices Devices, manifests VersionedStore, blocks BlockStore, opts ...LoaderOption) *Loader {
	ld := &Loader{
		realm:              realm,
		encryptionRevision: 1,
		key:                key,
		author:             author,
		signer:             signer,
		devices:            devices,
		manifests:          manifests,
		blocks:             blocks,
		l:                  zap.NewNop(),
	}
	for _, apply := range opts {
		apply(ld)
	}
	return ld
}

// With returns a copy of the loader with some options changed
func (ld *Loader) With(opts ...LoaderOption) *Loader {
	c := *ld
	for _, apply := range opts {
		apply(&c)
	}
	return &c
}

// Realm served by this loader
func (ld *Loader) Realm() manifest.EntryID {
	return ld.realm
}

// Author of the manifests uploaded by this loader
func (ld *Loader) Author() string {
	return ld.author
}

func transportError(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return status.ErrBackendUnavailable.Wrap(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return status.ErrBackendUnavailable.Wrap(err)
}

// LoadManifest fetches, decrypts and verifies a remote manifest.
//
// Version 0 stands for the latest version.
func (ld *Loader) LoadManifest(ctx context.Context, id manifest.EntryID, version uint64) (manifest.Remote, error) {
	blob, err := ld.manifests.Read(ctx, id, version)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, status.ErrRemoteManifestNotFound.Wrap(err)
		}
		return nil, transportError(err)
	}

	signed, err := ld.key.Decrypt(blob.Content)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}
	verifyKey, err := ld.devices.VerifyKey(ctx, blob.Author)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}
	payload, err := verifyKey.Verify(signed)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}
	r, err := manifest.UnmarshalRemote(payload)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}

	h := r.Header()
	switch {
	case h.ID != id:
		return nil, status.ErrIntegrity.WrapMessage("manifest %s claims to be %s", id, h.ID)
	case h.Version != blob.Version || (version != 0 && h.Version != version):
		return nil, status.ErrIntegrity.WrapMessage("manifest %s: version %d does not match stored version %d", id, h.Version, blob.Version)
	case h.Author != blob.Author:
		return nil, status.ErrIntegrity.WrapMessage("manifest %s: author %q does not match signer %q", id, h.Author, blob.Author)
	case !h.Timestamp.Equal(blob.Timestamp):
		return nil, status.ErrIntegrity.WrapMessage("manifest %s: timestamp %v does not match stored timestamp %v", id, h.Timestamp, blob.Timestamp)
	}
	if err = r.Validate(); err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}

	ld.l.Debug("manifest loaded", zap.String("entry_id", string(id)), zap.Uint64("version", h.Version))
	return r, nil
}

// UploadManifest signs, encrypts and registers a remote manifest.
//
// Version 1 creates the entry, other versions update it. A rejected version
// yields status.ErrRemoteSync.
func (ld *Loader) UploadManifest(ctx context.Context, r manifest.Remote) error {
	payload, err := manifest.MarshalRemote(r)
	if err != nil {
		return err
	}
	content, err := ld.key.Encrypt(ld.signer.Sign(payload))
	if err != nil {
		return err
	}

	h := r.Header()
	blob := Blob{
		Version:   h.Version,
		Content:   content,
		Author:    h.Author,
		Timestamp: h.Timestamp,
	}
	if h.Version == 1 {
		err = ld.manifests.Create(ctx, h.ID, ld.realm, ld.encryptionRevision, blob)
	} else {
		err = ld.manifests.Update(ctx, h.ID, blob)
	}

	switch {
	case err == nil:
		ld.metrics.ManifestUpload("ok")
		ld.l.Debug("manifest uploaded", zap.String("entry_id", string(h.ID)), zap.Uint64("version", h.Version))
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrBadVersion), errors.Is(err, ErrNotFound):
		ld.metrics.ManifestUpload("rejected")
		return status.ErrRemoteSync.Wrap(err)
	default:
		return transportError(err)
	}
}

// UploadBlock encrypts and stores a block. Uploading the same block again is a no-op.
func (ld *Loader) UploadBlock(ctx context.Context, access chunk.Access, data []byte) error {
	content, err := access.Key.Encrypt(data)
	if err != nil {
		return err
	}
	if err = ld.blocks.Put(ctx, access.ID, ld.realm, content); err != nil {
		return transportError(err)
	}
	ld.metrics.BlockUpload(len(data))
	ld.l.Debug("block uploaded", zap.String("block_id", string(access.ID)), zap.Uint64("size", access.Size))
	return nil
}

// LoadBlock fetches, decrypts and checks a block
func (ld *Loader) LoadBlock(ctx context.Context, access chunk.Access) ([]byte, error) {
	content, err := ld.blocks.Get(ctx, access.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, status.ErrBlockNotFound.Wrap(err)
		}
		return nil, transportError(err)
	}
	data, err := access.Key.Decrypt(content)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}
	if crypto.DigestFromData(data) != access.Digest {
		return nil, status.ErrIntegrity.WrapMessage("block %s: digest mismatch", access.ID)
	}
	ld.metrics.BlockDownload()
	return data, nil
}

// CreateRealm creates the realm of this loader. An existing realm is not an error.
func (ld *Loader) CreateRealm(ctx context.Context) error {
	err := ld.manifests.CreateRealm(ctx, ld.realm)
	if err == nil || errors.Is(err, ErrRealmExists) {
		return nil
	}
	return transportError(err)
}

// PollChanges lists the manifests of the realm changed since a checkpoint
func (ld *Loader) PollChanges(ctx context.Context, checkpoint uint64) (uint64, map[manifest.EntryID]uint64, error) {
	next, changes, err := ld.manifests.PollChanges(ctx, ld.realm, checkpoint)
	if err != nil {
		if errors.Is(err, ErrRealmNotFound) || errors.Is(err, ErrNotFound) {
			return checkpoint, map[manifest.EntryID]uint64{}, nil
		}
		return checkpoint, nil, transportError(err)
	}
	return next, changes, nil
}
