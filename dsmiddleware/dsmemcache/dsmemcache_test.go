package dsmemcache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/bradfitz/gomemcache/memcache"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/dslog"
	"go.mercari.io/dsrpc/dsmiddleware/storagecache"
	"go.mercari.io/dsrpc/internal/dstest"
)

type Data struct {
	Name string
}

func newMemcacheClient(t *testing.T) *memcache.Client {
	t.Helper()

	addr := os.Getenv("MEMCACHE_ADDR")
	if addr == "" {
		t.Skip("MEMCACHE_ADDR is not set")
	}

	memcacheClient := memcache.New(addr)
	memcacheClient.Timeout = time.Second
	t.Cleanup(func() {
		if err := memcacheClient.FlushAll(); err != nil {
			t.Error(err)
		}
	})

	return memcacheClient
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

func TestMemcache_Basic(t *testing.T) {
	memcacheClient := newMemcacheClient(t)
	ctx, client, rpc := dstest.Setup(t)

	var logs []string
	logf := func(ctx context.Context, format string, args ...interface{}) {
		t.Logf(format, args...)
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	// setup. strategies are first in - first apply.
	client.AppendMiddleware(dslog.NewLogger("before: ", logf))
	ch := New(memcacheClient)
	client.AppendMiddleware(ch)
	client.AppendMiddleware(dslog.NewLogger("after: ", logf))

	// Put. add to cache.
	key := datastore.IDKey("Data", 111, nil)
	if _, err := client.Put(ctx, key, &Data{Name: "Data"}); err != nil {
		t.Fatal(err)
	}

	if v, err := inCache(ctx, ch, wireKey("Data", 111)); err != nil {
		t.Fatal(err)
	} else if !v {
		t.Fatalf("unexpected: %v", v)
	}

	// Get. from cache.
	objAfter := &Data{}
	if err := client.Get(ctx, key, objAfter); err != nil {
		t.Fatal(err)
	}
	if v := objAfter.Name; v != "Data" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	// Delete.
	if err := client.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}

	if v, err := inCache(ctx, ch, wireKey("Data", 111)); err != nil {
		t.Fatal(err)
	} else if v {
		t.Fatalf("unexpected: %v", v)
	}

	expected := heredoc.Doc(`
		before: Commit #1, mode=NON_TRANSACTIONAL, mutations=[upsert /Data,111]
		after: Commit #1, mode=NON_TRANSACTIONAL, mutations=[upsert /Data,111]
		after: Commit #1, keys=[/Data,111]
		before: Commit #1, keys=[/Data,111]
		before: Lookup #2, len(keys)=1, keys=[/Data,111]
		before: Lookup #2, found=1, missing=0, deferred=0
		before: Commit #3, mode=NON_TRANSACTIONAL, mutations=[delete /Data,111]
		after: Commit #2, mode=NON_TRANSACTIONAL, mutations=[delete /Data,111]
		after: Commit #2, keys=[/Data,111]
		before: Commit #3, keys=[/Data,111]
	`)

	if v := strings.Join(logs, "\n") + "\n"; v != expected {
		t.Errorf("unexpected: %v", v)
	}
}

func TestMemcache_PartialHit(t *testing.T) {
	memcacheClient := newMemcacheClient(t)
	ctx, client, rpc := dstest.Setup(t)

	ch := New(memcacheClient, WithIncludeKinds("Data"), WithExpireDuration(time.Minute))
	client.AppendMiddleware(ch)

	key1 := datastore.IDKey("Data", 1, nil)
	key2 := datastore.IDKey("Data", 2, nil)
	if _, err := client.Put(ctx, key1, &Data{Name: "1"}); err != nil {
		t.Fatal(err)
	}
	rpc.Store(&pb.Entity{
		Key: wireKey("Data", 2),
		Properties: map[string]*pb.Value{
			"Name": {ValueType: &pb.Value_StringValue{StringValue: "2"}},
		},
	})

	list := make([]*Data, 2)
	if err := client.GetMulti(ctx, []*datastore.Key{key1, key2}, list); err != nil {
		t.Fatal(err)
	}
	if v := list[0].Name + list[1].Name; v != "12" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups[0].Keys); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v, err := inCache(ctx, ch, wireKey("Data", 2)); err != nil {
		t.Fatal(err)
	} else if !v {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestDefaultCacheKey_LongKey(t *testing.T) {
	short, err := defaultCacheKey(wireKey("Data", 1))
	if err != nil {
		t.Fatal(err)
	}
	if v := strings.HasPrefix(short, "mercari:dsmemcache:"); !v {
		t.Fatalf("unexpected: %v", short)
	}

	long := &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: dstest.ProjectID},
		Path: []*pb.Key_PathElement{
			{Kind: "Data", IdType: &pb.Key_PathElement_Name{Name: strings.Repeat("a", 300)}},
		},
	}
	longKey, err := defaultCacheKey(long)
	if err != nil {
		t.Fatal(err)
	}
	if v := len(longKey); v > 250 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := strings.HasPrefix(longKey, "mercari:dsmemcache:h:"); !v {
		t.Fatalf("unexpected: %v", longKey)
	}

	long.Path[0].IdType = &pb.Key_PathElement_Name{Name: strings.Repeat("b", 300)}
	other, err := defaultCacheKey(long)
	if err != nil {
		t.Fatal(err)
	}
	if longKey == other {
		t.Fatalf("unexpected: %v", other)
	}
}
