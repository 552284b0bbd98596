package dsmemcache

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/zeebo/xxh3"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/protobuf/proto"
)

var _ storagecache.Storage = &cacheHandler{}
var _ datastore.Middleware = &cacheHandler{}

// New dsmemcache middleware creates & returns.
func New(client *memcache.Client, opts ...CacheOption) interface {
	datastore.Middleware
	storagecache.Storage
} {
	ch := &cacheHandler{
		client: client,
		stOpts: &storagecache.Options{},
	}

	for _, opt := range opts {
		opt.Apply(ch)
	}

	if ch.logf == nil {
		ch.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}
	if ch.cacheKey == nil {
		ch.cacheKey = defaultCacheKey
	}
	ch.stOpts.Logf = ch.logf

	ch.Middleware = storagecache.New(ch, ch.stOpts)

	return ch
}

const (
	keyPrefix = "mercari:dsmemcache:"
	// memcached rejects longer keys.
	maxKeyLength = 250
)

// defaultCacheKey encodes the wire key, or its xxh3 digest when the encoding
// does not fit in a memcached key.
func defaultCacheKey(key *pb.Key) (string, error) {
	s, err := shared.WireKeyCacheKey(key)
	if err != nil {
		return "", err
	}
	if len(keyPrefix)+len(s) <= maxKeyLength {
		return keyPrefix + s, nil
	}
	sum := xxh3.HashString128(s).Bytes()
	return keyPrefix + "h:" + hex.EncodeToString(sum[:]), nil
}

type cacheHandler struct {
	datastore.Middleware
	stOpts *storagecache.Options

	client         *memcache.Client
	expireDuration time.Duration
	logf           func(ctx context.Context, format string, args ...interface{})
	cacheKey       func(key *pb.Key) (string, error)
}

// A CacheOption is an cache option for a dsmemcache middleware.
type CacheOption interface {
	Apply(*cacheHandler)
}

func (ch *cacheHandler) SetMulti(ctx context.Context, cis []*storagecache.CacheItem) error {
	ch.logf(ctx, "dsmiddleware/dsmemcache.SetMulti: incoming len=%d", len(cis))

	for _, ci := range cis {
		value, err := proto.Marshal(ci.Entity)
		if err != nil {
			ch.logf(ctx, "dsmiddleware/dsmemcache.SetMulti: proto.Marshal error key=%s err=%s", shared.WireKeyString(ci.Key), err.Error())
			continue
		}
		cacheKey, err := ch.cacheKey(ci.Key)
		if err != nil {
			return err
		}
		item := &memcache.Item{
			Key:        cacheKey,
			Value:      value,
			Expiration: int32(ch.expireDuration.Seconds()),
		}
		if err := ch.client.Set(item); err != nil {
			return err
		}
	}

	return nil
}

func (ch *cacheHandler) GetMulti(ctx context.Context, keys []*pb.Key) ([]*storagecache.CacheItem, error) {
	ch.logf(ctx, "dsmiddleware/dsmemcache.GetMulti: incoming len=%d", len(keys))

	resultList := make([]*storagecache.CacheItem, len(keys))

	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKey, err := ch.cacheKey(key)
		if err != nil {
			return nil, err
		}
		cacheKeys = append(cacheKeys, cacheKey)
	}
	itemMap, err := ch.client.GetMulti(cacheKeys)
	if err != nil {
		ch.logf(ctx, "dsmiddleware/dsmemcache: error on dsmemcache.GetMulti %s", err.Error())
	}

	hit, miss := 0, 0
	for idx, key := range keys {
		item, ok := itemMap[cacheKeys[idx]]
		if !ok {
			miss++
			continue
		}
		e := &pb.Entity{}
		if err := proto.Unmarshal(item.Value, e); err != nil {
			ch.logf(ctx, "dsmiddleware/dsmemcache.GetMulti: proto.Unmarshal error key=%s err=%s", shared.WireKeyString(key), err.Error())
			miss++
			continue
		}
		if e.Key != nil && !proto.Equal(e.Key, key) {
			ch.logf(ctx, "dsmiddleware/dsmemcache.GetMulti: key mismatch key=%s cached=%s", shared.WireKeyString(key), shared.WireKeyString(e.Key))
			miss++
			continue
		}

		resultList[idx] = &storagecache.CacheItem{
			Key:    key,
			Entity: e,
		}
		hit++
	}

	ch.logf(ctx, "dsmiddleware/dsmemcache.GetMulti: hit=%d miss=%d", hit, miss)

	return resultList, nil
}

func (ch *cacheHandler) DeleteMulti(ctx context.Context, keys []*pb.Key) error {
	ch.logf(ctx, "dsmiddleware/dsmemcache.DeleteMulti: incoming len=%d", len(keys))
	for _, key := range keys {
		cacheKey, err := ch.cacheKey(key)
		if err != nil {
			return err
		}
		err = ch.client.Delete(cacheKey)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			ch.logf(ctx, "dsmiddleware/dsmemcache: error on dsmemcache.DeleteMulti %s", err.Error())
		}
	}

	return nil
}
