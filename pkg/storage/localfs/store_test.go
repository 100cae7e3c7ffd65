// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"io/ioutil"
	"testing"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/storage"
	"github.com/oneconcern/vaultsync/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStores(t testing.TB) map[string]storage.Store {
	t.Helper()

	stores := make(map[string]storage.Store, 2)
	for _, name := range []string{"plain", "atomic"} {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "sixteentons", []byte("this is the text"), 0600))
		require.NoError(t, afero.WriteFile(fs, "seventeentons", []byte("this is the text for another thing"), 0600))

		if name == "plain" {
			stores[name] = New(fs)
			continue
		}
		s, err := NewAtomic(fs)
		require.NoError(t, err)
		stores[name] = s
	}
	return stores
}

func TestHas(t *testing.T) {
	for name, bs := range setupStores(t) {
		bs := bs
		t.Run(name, func(t *testing.T) {
			has, err := bs.Has(context.Background(), "sixteentons")
			require.NoError(t, err)
			require.True(t, has)

			has, err = bs.Has(context.Background(), "fifteentons")
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestGet(t *testing.T) {
	for name, bs := range setupStores(t) {
		bs := bs
		t.Run(name, func(t *testing.T) {
			rdr, err := bs.Get(context.Background(), "seventeentons")
			require.NoError(t, err)
			b, err := ioutil.ReadAll(rdr)
			require.NoError(t, err)
			require.NoError(t, rdr.Close())
			assert.Equal(t, "this is the text for another thing", string(b))

			_, err = bs.Get(context.Background(), "fifteentons")
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrNotExists))
		})
	}
}

func TestPut(t *testing.T) {
	for name, bs := range setupStores(t) {
		bs := bs
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, bs.Put(ctx, "eighteentons", bytes.NewBufferString("here we go once again"), storage.NoOverWrite))

			b, err := storage.ReadAll(ctx, bs, "eighteentons")
			require.NoError(t, err)
			assert.Equal(t, "here we go once again", string(b))

			err = bs.Put(ctx, "eighteentons", bytes.NewBufferString("again"), storage.NoOverWrite)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrExists))

			require.NoError(t, bs.Put(ctx, "eighteentons", bytes.NewBufferString("again"), storage.OverWrite))
			b, err = storage.ReadAll(ctx, bs, "eighteentons")
			require.NoError(t, err)
			assert.Equal(t, "again", string(b))

			k, err := bs.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, k, 3)
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	for name, bs := range setupStores(t) {
		bs := bs
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, bs.Delete(ctx, "seventeentons"))
			require.NoError(t, bs.Delete(ctx, "seventeentons"), "deleting a missing key is not an error")
			k, err := bs.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"sixteentons"}, k)

			require.NoError(t, bs.Clear(ctx))
			k, err = bs.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, k)
		})
	}
}

func TestAtomicRejectsStagingKeys(t *testing.T) {
	bs, err := NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)

	err = bs.Put(context.Background(), ".put-stage/x", bytes.NewBufferString("x"), storage.OverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))
}
