package localcache

import (
	"context"
	"time"

	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
)

// WithExpireDuration sets how long an entity stays cached.
func WithExpireDuration(d time.Duration) CacheOption {
	return &withExpireDuration{d}
}

type withExpireDuration struct{ d time.Duration }

func (w *withExpireDuration) Apply(o *cacheHandler) {
	o.expireDuration = w.d
}

// WithIncludeKinds caches only entities of the given kinds.
func WithIncludeKinds(kinds ...string) CacheOption {
	return &withFilter{storagecache.WithIncludeKinds(kinds...)}
}

// WithExcludeKinds never caches entities of the given kinds.
func WithExcludeKinds(kinds ...string) CacheOption {
	return &withFilter{storagecache.WithExcludeKinds(kinds...)}
}

// WithKeyFilter caches only keys f accepts.
func WithKeyFilter(f storagecache.KeyFilter) CacheOption {
	return &withFilter{f}
}

type withFilter struct{ f storagecache.KeyFilter }

func (w *withFilter) Apply(o *cacheHandler) {
	o.stOpts.Filters = append(o.stOpts.Filters, w.f)
}

func WithLogger(logf func(ctx context.Context, format string, args ...interface{})) CacheOption {
	return &withLogger{logf}
}

type withLogger struct {
	logf func(ctx context.Context, format string, args ...interface{})
}

func (w *withLogger) Apply(o *cacheHandler) {
	o.logf = w.logf
}
