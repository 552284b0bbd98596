package rediscache

import (
	"context"
	"sync"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/gomodule/redigo/redis"
	"github.com/jackc/puddle/v2"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/protobuf/proto"
)

var _ storagecache.Storage = &cacheHandler{}
var _ datastore.Middleware = &cacheHandler{}

const defaultExpiration = 15 * time.Minute

// New returns a middleware that caches entities in redis. Commands are sent
// as MULTI/EXEC batches on conn, which is used by one call at a time.
func New(conn redis.Conn, opts ...CacheOption) interface {
	datastore.Middleware
	storagecache.Storage
} {
	var m sync.Mutex
	return newCacheHandler(func(ctx context.Context) (redis.Conn, func(), error) {
		m.Lock()
		return conn, m.Unlock, nil
	}, opts)
}

// NewWithPool is like New but takes a connection from pool for every
// storage call. A connection that reports an error is destroyed instead of
// being returned to pool.
func NewWithPool(pool *puddle.Pool[redis.Conn], opts ...CacheOption) interface {
	datastore.Middleware
	storagecache.Storage
} {
	return newCacheHandler(func(ctx context.Context) (redis.Conn, func(), error) {
		res, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return res.Value(), func() {
			if res.Value().Err() != nil {
				res.Destroy()
				return
			}
			res.Release()
		}, nil
	}, opts)
}

// NewPool returns a pool for NewWithPool holding at most maxSize connections
// made by dial.
func NewPool(dial func(ctx context.Context) (redis.Conn, error), maxSize int32) (*puddle.Pool[redis.Conn], error) {
	return puddle.NewPool(&puddle.Config[redis.Conn]{
		Constructor: dial,
		Destructor: func(conn redis.Conn) {
			_ = conn.Close()
		},
		MaxSize: maxSize,
	})
}

func newCacheHandler(acquire func(ctx context.Context) (redis.Conn, func(), error), opts []CacheOption) *cacheHandler {
	ch := &cacheHandler{
		acquire:        acquire,
		stOpts:         &storagecache.Options{},
		expireDuration: defaultExpiration,
	}

	for _, opt := range opts {
		opt.Apply(ch)
	}

	if ch.logf == nil {
		ch.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}
	if ch.cacheKey == nil {
		ch.cacheKey = func(key *pb.Key) (string, error) {
			s, err := shared.WireKeyCacheKey(key)
			if err != nil {
				return "", err
			}
			return "mercari:rediscache:" + s, nil
		}
	}
	ch.stOpts.Logf = ch.logf

	ch.Middleware = storagecache.New(ch, ch.stOpts)

	return ch
}

type cacheHandler struct {
	datastore.Middleware
	stOpts *storagecache.Options

	acquire        func(ctx context.Context) (redis.Conn, func(), error)
	expireDuration time.Duration
	logf           func(ctx context.Context, format string, args ...interface{})
	cacheKey       func(key *pb.Key) (string, error)
}

type CacheOption interface {
	Apply(*cacheHandler)
}

// storagecache.Storage implementation

func (ch *cacheHandler) SetMulti(ctx context.Context, cis []*storagecache.CacheItem) error {
	conn, release, err := ch.acquire(ctx)
	if err != nil {
		ch.logf(ctx, "dsmiddleware/rediscache.SetMulti: acquire connection err=%s", err.Error())
		return err
	}
	defer release()

	ch.logf(ctx, "dsmiddleware/rediscache.SetMulti: incoming len=%d", len(cis))

	err = conn.Send("MULTI")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.SetMulti: conn.Send("MULTI") err=%s`, err.Error())
		return err
	}

	cnt := 0
	for _, ci := range cis {
		cacheValue, err := proto.Marshal(ci.Entity)
		if err != nil {
			ch.logf(ctx, "dsmiddleware/rediscache.SetMulti: proto.Marshal error key=%s err=%s", shared.WireKeyString(ci.Key), err.Error())
			continue
		}
		cacheKey, err := ch.cacheKey(ci.Key)
		if err != nil {
			conn.Send("DISCARD")
			return err
		}

		if ch.expireDuration <= 0 {
			err = conn.Send("SET", cacheKey, cacheValue)
			if err != nil {
				ch.logf(ctx, `dsmiddleware/rediscache.SetMulti: conn.Send("SET", "%s", ...) err=%s`, cacheKey, err.Error())
				return err
			}
		} else {
			err = conn.Send("SET", cacheKey, cacheValue, "PX", int64(ch.expireDuration/time.Millisecond))
			if err != nil {
				ch.logf(ctx, `dsmiddleware/rediscache.SetMulti: conn.Send("SET", "%s", ..., "PX", %d) err=%s`, cacheKey, ch.expireDuration/time.Millisecond, err.Error())
				return err
			}
		}
		cnt++
	}

	ch.logf(ctx, "dsmiddleware/rediscache.SetMulti: len=%d", cnt)

	_, err = conn.Do("EXEC")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.SetMulti: conn.Do("EXEC") err=%s`, err.Error())
		return err
	}

	return nil
}

func (ch *cacheHandler) GetMulti(ctx context.Context, keys []*pb.Key) ([]*storagecache.CacheItem, error) {
	conn, release, err := ch.acquire(ctx)
	if err != nil {
		ch.logf(ctx, "dsmiddleware/rediscache.GetMulti: acquire connection err=%s", err.Error())
		return nil, err
	}
	defer release()

	ch.logf(ctx, "dsmiddleware/rediscache.GetMulti: incoming len=%d", len(keys))

	err = conn.Send("MULTI")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.GetMulti: conn.Send("MULTI") err=%s`, err.Error())
		return nil, err
	}

	for _, key := range keys {
		cacheKey, err := ch.cacheKey(key)
		if err != nil {
			conn.Send("DISCARD")
			return nil, err
		}
		err = conn.Send("GET", cacheKey)
		if err != nil {
			ch.logf(ctx, `dsmiddleware/rediscache.GetMulti: conn.Send("GET", "%s") err=%s`, cacheKey, err.Error())
			return nil, err
		}
	}

	resp, err := conn.Do("EXEC")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.GetMulti: conn.Do("EXEC") err=%s`, err.Error())
		return nil, err
	}
	bs, err := redis.ByteSlices(resp, nil)
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.GetMulti: redis.ByteSlices err=%s`, err.Error())
		return nil, err
	}

	resultList := make([]*storagecache.CacheItem, len(keys))
	hit := 0
	miss := 0
	for idx, b := range bs {
		if len(b) == 0 {
			miss++
			continue
		}
		e := &pb.Entity{}
		if err := proto.Unmarshal(b, e); err != nil {
			ch.logf(ctx, "dsmiddleware/rediscache.GetMulti: proto.Unmarshal error key=%s err=%s", shared.WireKeyString(keys[idx]), err.Error())
			miss++
			continue
		}
		if !proto.Equal(e.GetKey(), keys[idx]) {
			ch.logf(ctx, "dsmiddleware/rediscache.GetMulti: key equality check failed key=%s", shared.WireKeyString(keys[idx]))
			miss++
			continue
		}

		resultList[idx] = &storagecache.CacheItem{
			Key:    keys[idx],
			Entity: e,
		}
		hit++
	}

	ch.logf(ctx, "dsmiddleware/rediscache.GetMulti: hit=%d miss=%d", hit, miss)

	return resultList, nil
}

func (ch *cacheHandler) DeleteMulti(ctx context.Context, keys []*pb.Key) error {
	conn, release, err := ch.acquire(ctx)
	if err != nil {
		ch.logf(ctx, "dsmiddleware/rediscache.DeleteMulti: acquire connection err=%s", err.Error())
		return err
	}
	defer release()

	ch.logf(ctx, "dsmiddleware/rediscache.DeleteMulti: incoming len=%d", len(keys))

	err = conn.Send("MULTI")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.DeleteMulti: conn.Send("MULTI") err=%s`, err.Error())
		return err
	}

	for _, key := range keys {
		cacheKey, err := ch.cacheKey(key)
		if err != nil {
			conn.Send("DISCARD")
			return err
		}

		err = conn.Send("DEL", cacheKey)
		if err != nil {
			ch.logf(ctx, `dsmiddleware/rediscache.DeleteMulti: conn.Send("DEL", "%s") err=%s`, cacheKey, err.Error())
			return err
		}
	}

	_, err = conn.Do("EXEC")
	if err != nil {
		ch.logf(ctx, `dsmiddleware/rediscache.DeleteMulti: conn.Do("EXEC") err=%s`, err.Error())
		return err
	}

	return nil
}
