// Copyright © 2018 One Concern

package storage_test

import (
	"context"
	"testing"

	"github.com/oneconcern/vaultsync/pkg/storage"
	"github.com/oneconcern/vaultsync/pkg/storage/localfs"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInstrument(t *testing.T) {
	tracer := mocktracer.New()
	store := storage.Instrument(tracer, zaptest.NewLogger(t), localfs.New(afero.NewMemMapFs()))
	ctx := context.Background()

	require.NoError(t, storage.PutBytes(ctx, store, "key", []byte("value"), storage.NoOverWrite))
	data, err := storage.ReadAll(ctx, store, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", string(data))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "storage.localfs.Put", spans[0].OperationName)
	assert.Equal(t, "storage.localfs.Get", spans[1].OperationName)
}
