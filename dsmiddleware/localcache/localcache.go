package localcache

import (
	"context"
	"sort"
	"sync"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/protobuf/proto"
)

var _ storagecache.Storage = &cacheHandler{}
var _ datastore.Middleware = &cacheHandler{}

const defaultExpiration = 3 * time.Minute

func New(opts ...CacheOption) CacheHandler {
	ch := &cacheHandler{
		cache:  make(map[string]cacheItem),
		stOpts: &storagecache.Options{},
		now:    time.Now,
	}

	for _, opt := range opts {
		opt.Apply(ch)
	}

	if ch.expireDuration == 0 {
		ch.expireDuration = defaultExpiration
	}
	if ch.logf == nil {
		ch.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}
	ch.stOpts.Logf = ch.logf

	s := storagecache.New(ch, ch.stOpts)
	ch.Middleware = s

	return ch
}

// CacheHandler is an in-process entity cache.
type CacheHandler interface {
	datastore.Middleware
	storagecache.Storage

	HasCache(key *pb.Key) bool
	DeleteCache(ctx context.Context, key *pb.Key)
	CacheKeys() []string
	CacheLen() int
	FlushLocalCache()
}

type cacheHandler struct {
	datastore.Middleware
	stOpts *storagecache.Options

	cache          map[string]cacheItem
	m              sync.Mutex
	expireDuration time.Duration
	now            func() time.Time
	logf           func(ctx context.Context, format string, args ...interface{})
}

type CacheOption interface {
	Apply(*cacheHandler)
}

type cacheItem struct {
	Entity     *pb.Entity
	setAt      time.Time
	expiration time.Duration
}

func (ch *cacheHandler) HasCache(key *pb.Key) bool {
	cacheKey, err := shared.WireKeyCacheKey(key)
	if err != nil {
		return false
	}

	ch.m.Lock()
	defer ch.m.Unlock()
	_, ok := ch.cache[cacheKey]
	return ok
}

func (ch *cacheHandler) DeleteCache(ctx context.Context, key *pb.Key) {
	cacheKey, err := shared.WireKeyCacheKey(key)
	if err != nil {
		return
	}

	ch.m.Lock()
	defer ch.m.Unlock()
	ch.logf(ctx, "dsmiddleware/localcache.DeleteCache: key=%s", shared.WireKeyString(key))
	delete(ch.cache, cacheKey)
}

func (ch *cacheHandler) CacheKeys() []string {
	ch.m.Lock()
	defer ch.m.Unlock()

	list := make([]string, 0, len(ch.cache))
	for keyStr := range ch.cache {
		list = append(list, keyStr)
	}
	sort.Strings(list)

	return list
}

func (ch *cacheHandler) CacheLen() int {
	ch.m.Lock()
	defer ch.m.Unlock()
	return len(ch.cache)
}

func (ch *cacheHandler) FlushLocalCache() {
	ch.m.Lock()
	defer ch.m.Unlock()
	ch.cache = make(map[string]cacheItem)
}

func (ch *cacheHandler) SetMulti(ctx context.Context, cis []*storagecache.CacheItem) error {
	ch.m.Lock()
	defer ch.m.Unlock()

	ch.logf(ctx, "dsmiddleware/localcache.SetMulti: len=%d", len(cis))

	now := ch.now()
	for idx, ci := range cis {
		cacheKey, err := shared.WireKeyCacheKey(ci.Key)
		if err != nil {
			return err
		}
		ch.logf(ctx, "dsmiddleware/localcache.SetMulti: idx=%d key=%s len(ps)=%d", idx, shared.WireKeyString(ci.Key), len(ci.Entity.GetProperties()))
		ch.cache[cacheKey] = cacheItem{
			Entity:     proto.Clone(ci.Entity).(*pb.Entity),
			setAt:      now,
			expiration: ch.expireDuration,
		}
	}

	return nil
}

func (ch *cacheHandler) GetMulti(ctx context.Context, keys []*pb.Key) ([]*storagecache.CacheItem, error) {
	ch.m.Lock()
	defer ch.m.Unlock()

	now := ch.now()

	ch.logf(ctx, "dsmiddleware/localcache.GetMulti: len=%d", len(keys))

	resultList := make([]*storagecache.CacheItem, len(keys))
	for idx, key := range keys {
		cacheKey, err := shared.WireKeyCacheKey(key)
		if err != nil {
			return nil, err
		}
		cItem, ok := ch.cache[cacheKey]
		if !ok {
			ch.logf(ctx, "dsmiddleware/localcache.GetMulti: idx=%d, missed key=%s", idx, shared.WireKeyString(key))
			continue
		}

		if cItem.setAt.Add(cItem.expiration).After(now) {
			ch.logf(ctx, "dsmiddleware/localcache.GetMulti: idx=%d, hit key=%s len(ps)=%d", idx, shared.WireKeyString(key), len(cItem.Entity.GetProperties()))
			resultList[idx] = &storagecache.CacheItem{
				Key:    key,
				Entity: proto.Clone(cItem.Entity).(*pb.Entity),
			}
		} else {
			ch.logf(ctx, "dsmiddleware/localcache.GetMulti: idx=%d, expired key=%s", idx, shared.WireKeyString(key))
			delete(ch.cache, cacheKey)
		}
	}

	return resultList, nil
}

func (ch *cacheHandler) DeleteMulti(ctx context.Context, keys []*pb.Key) error {
	ch.m.Lock()
	defer ch.m.Unlock()

	ch.logf(ctx, "dsmiddleware/localcache.DeleteMulti: len=%d", len(keys))

	for idx, key := range keys {
		cacheKey, err := shared.WireKeyCacheKey(key)
		if err != nil {
			return err
		}
		ch.logf(ctx, "dsmiddleware/localcache.DeleteMulti: idx=%d key=%s", idx, shared.WireKeyString(key))
		delete(ch.cache, cacheKey)
	}

	return nil
}
