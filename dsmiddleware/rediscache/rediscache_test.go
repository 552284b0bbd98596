package rediscache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/gomodule/redigo/redis"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
	"go.mercari.io/dsrpc/internal/dstest"
)

type Data struct {
	Name string
}

func redisAddr() string {
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	return os.Getenv("REDIS_HOST") + ":" + port
}

func dialRedis(t *testing.T) redis.Conn {
	t.Helper()

	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST is not set")
	}

	conn, err := redis.Dial("tcp", redisAddr(),
		redis.DialConnectTimeout(time.Second),
		redis.DialReadTimeout(time.Second),
		redis.DialWriteTimeout(time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Do("FLUSHALL")
		conn.Close()
	})

	return conn
}

func inCache(ctx context.Context, ch storagecache.Storage, key *pb.Key) (bool, error) {
	resp, err := ch.GetMulti(ctx, []*pb.Key{key})
	if err != nil {
		return false, err
	} else if v := len(resp); v != 1 {
		return false, nil
	} else if v := resp[0]; v == nil {
		return false, nil
	}

	return true, nil
}

func wireKey(kind string, id int64) *pb.Key {
	return &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: dstest.ProjectID},
		Path:        []*pb.Key_PathElement{{Kind: kind, IdType: &pb.Key_PathElement_Id{Id: id}}},
	}
}

func TestRedisCache_Basic(t *testing.T) {
	conn := dialRedis(t)
	ctx, client, rpc := dstest.Setup(t)

	ch := New(conn, WithLogger(func(ctx context.Context, format string, args ...interface{}) {
		t.Logf(format, args...)
	}))
	client.AppendMiddleware(ch)

	key := datastore.IDKey("Data", 111, nil)
	if _, err := client.Put(ctx, key, &Data{Name: "Data"}); err != nil {
		t.Fatal(err)
	}

	if v, err := inCache(ctx, ch, wireKey("Data", 111)); err != nil {
		t.Fatal(err)
	} else if !v {
		t.Fatalf("unexpected: %v", v)
	}

	obj := &Data{}
	if err := client.Get(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	if v := obj.Name; v != "Data" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if v, err := inCache(ctx, ch, wireKey("Data", 111)); err != nil {
		t.Fatal(err)
	} else if v {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestRedisCache_MultiAndFilter(t *testing.T) {
	conn := dialRedis(t)
	ctx, client, rpc := dstest.Setup(t)

	ch := New(conn, WithExcludeKinds("DataB"))
	client.AppendMiddleware(ch)

	keys := make([]*datastore.Key, 0, 6)
	list := make([]*Data, 0, 6)
	for i := 1; i <= 3; i++ {
		keys = append(keys, datastore.IDKey("DataA", int64(i), nil), datastore.IDKey("DataB", int64(i), nil))
		list = append(list, &Data{Name: fmt.Sprintf("A%d", i)}, &Data{Name: fmt.Sprintf("B%d", i)})
	}
	if _, err := client.PutMulti(ctx, keys, list); err != nil {
		t.Fatal(err)
	}

	list = make([]*Data, len(keys))
	if err := client.GetMulti(ctx, keys, list); err != nil {
		t.Fatal(err)
	}
	if v := list[5].Name; v != "B3" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups[0].Keys); v != 3 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestRedisCache_Pool(t *testing.T) {
	_ = dialRedis(t)
	ctx, client, rpc := dstest.Setup(t)

	pool, err := NewPool(func(ctx context.Context) (redis.Conn, error) {
		return redis.DialContext(ctx, "tcp", redisAddr())
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	ch := NewWithPool(pool)
	client.AppendMiddleware(ch)

	keys := make([]*datastore.Key, 0, 5)
	list := make([]*Data, 0, 5)
	for i := 1; i <= 5; i++ {
		keys = append(keys, datastore.IDKey("Data", int64(i), nil))
		list = append(list, &Data{Name: fmt.Sprintf("#%d", i)})
	}
	if _, err := client.PutMulti(ctx, keys, list); err != nil {
		t.Fatal(err)
	}

	got := make([]*Data, len(keys))
	if err := client.GetMulti(ctx, keys, got); err != nil {
		t.Fatal(err)
	}
	lookups := len(rpc.Lookups)

	got = make([]*Data, len(keys))
	if err := client.GetMulti(ctx, keys, got); err != nil {
		t.Fatal(err)
	}
	if v := len(rpc.Lookups); v != lookups {
		t.Fatalf("unexpected: %v", v)
	}
	if v := got[4].Name; v != "#5" {
		t.Errorf("unexpected: %v", v)
	}
	if v := pool.Stat().TotalResources(); v > 2 {
		t.Errorf("unexpected: %v", v)
	}
}
