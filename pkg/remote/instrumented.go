package remote

import (
	"context"
	"strings"

	"github.com/oneconcern/vaultsync/pkg/manifest"
	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// Instrument decorates a versioned store with tracing spans and debug logs
func Instrument(tr opentracing.Tracer, l *zap.Logger, store VersionedStore) VersionedStore {
	if tr == nil {
		tr = opentracing.GlobalTracer()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedStore{
		tr:    tr,
		store: store,
		l:     l.Named("remote"),
	}
}

type instrumentedStore struct {
	store VersionedStore
	tr    opentracing.Tracer
	l     *zap.Logger
}

func (i *instrumentedStore) opName(name string) string {
	return strings.Join([]string{"remote", name}, ".")
}

func (i *instrumentedStore) spanFromContext(ctx context.Context, name string) opentracing.Span {
	parent := opentracing.SpanFromContext(ctx)
	var span opentracing.Span
	if parent != nil {
		span = i.tr.StartSpan(name, opentracing.ChildOf(parent.Context()))
	} else {
		span = i.tr.StartSpan(name)
	}
	return span
}

func finish(span opentracing.Span, err error) {
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("message", err.Error())
	}
	span.Finish()
}

func (i *instrumentedStore) Read(ctx context.Context, id manifest.EntryID, version uint64) (blob Blob, err error) {
	span := i.spanFromContext(ctx, i.opName("Read"))
	span.SetTag("entry_id", string(id))
	defer func() { finish(span, err) }()
	i.l.Debug("remote read", zap.String("entry_id", string(id)), zap.Uint64("version", version))

	return i.store.Read(opentracing.ContextWithSpan(ctx, span), id, version)
}

func (i *instrumentedStore) Create(ctx context.Context, id, realm manifest.EntryID, encryptionRevision uint32, blob Blob) (err error) {
	span := i.spanFromContext(ctx, i.opName("Create"))
	span.SetTag("entry_id", string(id))
	defer func() { finish(span, err) }()
	i.l.Debug("remote create", zap.String("entry_id", string(id)), zap.String("realm", string(realm)))

	return i.store.Create(opentracing.ContextWithSpan(ctx, span), id, realm, encryptionRevision, blob)
}

func (i *instrumentedStore) Update(ctx context.Context, id manifest.EntryID, blob Blob) (err error) {
	span := i.spanFromContext(ctx, i.opName("Update"))
	span.SetTag("entry_id", string(id))
	defer func() { finish(span, err) }()
	i.l.Debug("remote update", zap.String("entry_id", string(id)), zap.Uint64("version", blob.Version))

	return i.store.Update(opentracing.ContextWithSpan(ctx, span), id, blob)
}

func (i *instrumentedStore) PollChanges(ctx context.Context, realm manifest.EntryID, checkpoint uint64) (next uint64, changes map[manifest.EntryID]uint64, err error) {
	span := i.spanFromContext(ctx, i.opName("PollChanges"))
	defer func() { finish(span, err) }()
	i.l.Debug("remote poll", zap.String("realm", string(realm)), zap.Uint64("checkpoint", checkpoint))

	return i.store.PollChanges(opentracing.ContextWithSpan(ctx, span), realm, checkpoint)
}

func (i *instrumentedStore) CreateRealm(ctx context.Context, realm manifest.EntryID) (err error) {
	span := i.spanFromContext(ctx, i.opName("CreateRealm"))
	defer func() { finish(span, err) }()
	i.l.Debug("remote create realm", zap.String("realm", string(realm)))

	return i.store.CreateRealm(opentracing.ContextWithSpan(ctx, span), realm)
}
