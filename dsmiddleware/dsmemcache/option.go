package dsmemcache

import (
	"context"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
)

// WithExpireDuration sets the memcache item expiration.
// Zero means no expiration.
func WithExpireDuration(d time.Duration) CacheOption {
	return &withExpireDuration{d}
}

type withExpireDuration struct{ d time.Duration }

func (w *withExpireDuration) Apply(o *cacheHandler) {
	o.expireDuration = w.d
}

func WithIncludeKinds(kinds ...string) CacheOption {
	return &withFilter{storagecache.WithIncludeKinds(kinds...)}
}

func WithExcludeKinds(kinds ...string) CacheOption {
	return &withFilter{storagecache.WithExcludeKinds(kinds...)}
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

// WithCacheKey replaces how a memcache key is derived from an entity key.
// Memcache keys are limited to 250 bytes.
func WithCacheKey(f func(key *pb.Key) (string, error)) CacheOption {
	return &withCacheKey{f}
}

type withCacheKey struct {
	f func(key *pb.Key) (string, error)
}

func (w *withCacheKey) Apply(o *cacheHandler) {
	o.cacheKey = w.f
}
