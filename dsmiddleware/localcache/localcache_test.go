package localcache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/MakeNowJust/heredoc/v2"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/dslog"
	"go.mercari.io/dsrpc/internal/dstest"
)

type Data struct {
	Name string
}

func wireKey(kind string, id int64) *pb.Key {
	return &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: dstest.ProjectID},
		Path:        []*pb.Key_PathElement{{Kind: kind, IdType: &pb.Key_PathElement_Id{Id: id}}},
	}
}

func TestLocalCache_Basic(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	var logs []string
	logf := func(ctx context.Context, format string, args ...interface{}) {
		t.Logf(format, args...)
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	// setup. strategies are first in - first apply.
	client.AppendMiddleware(dslog.NewLogger("before: ", logf))
	ch := New()
	client.AppendMiddleware(ch)
	client.AppendMiddleware(dslog.NewLogger("after: ", logf))

	// Put. add to cache.
	key := datastore.IDKey("Data", 111, nil)
	_, err := client.Put(ctx, key, &Data{Name: "Data"})
	if err != nil {
		t.Fatal(err)
	}

	if v := ch.HasCache(wireKey("Data", 111)); !v {
		t.Fatalf("unexpected: %v", v)
	}

	// Get. from cache.
	objAfter := &Data{}
	err = client.Get(ctx, key, objAfter)
	if err != nil {
		t.Fatal(err)
	}
	if v := objAfter.Name; v != "Data" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	// Delete.
	err = client.Delete(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	if v := ch.HasCache(wireKey("Data", 111)); v {
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

func TestLocalCache_PartialHit(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	ch := New()
	client.AppendMiddleware(ch)

	keyA := datastore.IDKey("Data", 1, nil)
	keyB := datastore.IDKey("Data", 2, nil)
	_, err := client.PutMulti(ctx, []*datastore.Key{keyA, keyB}, []*Data{{Name: "A"}, {Name: "B"}})
	if err != nil {
		t.Fatal(err)
	}
	ch.FlushLocalCache()

	// miss, then filled from the service
	if err := client.Get(ctx, keyA, &Data{}); err != nil {
		t.Fatal(err)
	}
	if v := ch.CacheLen(); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}

	list := make([]*Data, 2)
	if err := client.GetMulti(ctx, []*datastore.Key{keyA, keyB}, list); err != nil {
		t.Fatal(err)
	}
	if v := list[0].Name + list[1].Name; v != "AB" {
		t.Fatalf("unexpected: %v", v)
	}

	if v := len(rpc.Lookups); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups[1].Keys); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := rpc.Lookups[1].Keys[0].Path[0].GetId(); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_Missing(t *testing.T) {
	ctx, client, _ := dstest.Setup(t)

	ch := New()
	client.AppendMiddleware(ch)

	err := client.Get(ctx, datastore.IDKey("Data", 1, nil), &Data{})
	if err != datastore.ErrNoSuchEntity {
		t.Fatalf("unexpected: %v", err)
	}
	if v := ch.CacheLen(); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_Transaction(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	ch := New()
	client.AppendMiddleware(ch)

	key := datastore.IDKey("Data", 111, nil)
	if _, err := client.Put(ctx, key, &Data{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	_, err := client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		obj := &Data{}
		if err := tx.Get(key, obj); err != nil {
			return err
		}
		obj.Name = "B"
		_, err := tx.Put(key, obj)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// reads in a transaction skip the cache
	if v := len(rpc.Lookups); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	// transactional writes drop the entry
	if v := ch.HasCache(wireKey("Data", 111)); v {
		t.Fatalf("unexpected: %v", v)
	}

	obj := &Data{}
	if err := client.Get(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	if v := obj.Name; v != "B" {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_Insert(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	ch := New()
	client.AppendMiddleware(ch)

	key, err := client.Put(ctx, datastore.IncompleteKey("Data", nil), &Data{Name: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if v := ch.HasCache(wireKey("Data", key.ID)); !v {
		t.Fatalf("unexpected: %v", v)
	}

	obj := &Data{}
	if err := client.Get(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_Expiration(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ch := New(WithExpireDuration(time.Minute))
	ch.(*cacheHandler).now = func() time.Time { return now }
	client.AppendMiddleware(ch)

	key := datastore.IDKey("Data", 1, nil)
	if _, err := client.Put(ctx, key, &Data{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	if err := client.Get(ctx, key, &Data{}); err != nil {
		t.Fatal(err)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	now = now.Add(2 * time.Minute)
	if err := client.Get(ctx, key, &Data{}); err != nil {
		t.Fatal(err)
	}
	if v := len(rpc.Lookups); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_WithIncludeKinds(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	ch := New(WithIncludeKinds("DataA"))
	client.AppendMiddleware(ch)

	keyInc := datastore.IDKey("DataA", 111, nil)
	keyExc := datastore.IDKey("DataB", 111, nil)

	list := []*Data{{Name: "A"}, {Name: "B"}}
	_, err := client.PutMulti(ctx, []*datastore.Key{keyInc, keyExc}, list)
	if err != nil {
		t.Fatal(err)
	}

	if v := ch.HasCache(wireKey("DataA", 111)); !v {
		t.Fatalf("unexpected: %v", v)
	}
	if v := ch.HasCache(wireKey("DataB", 111)); v {
		t.Fatalf("unexpected: %v", v)
	}

	list = make([]*Data, 2)
	err = client.GetMulti(ctx, []*datastore.Key{keyInc, keyExc}, list)
	if err != nil {
		t.Fatal(err)
	}
	if v := list[0].Name; v != "A" {
		t.Errorf("unexpected: %v", v)
	}
	if v := list[1].Name; v != "B" {
		t.Errorf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups[0].Keys); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestLocalCache_WithExcludeKinds(t *testing.T) {
	ctx, client, _ := dstest.Setup(t)

	ch := New(WithExcludeKinds("DataA"))
	client.AppendMiddleware(ch)

	_, err := client.PutMulti(ctx, []*datastore.Key{
		datastore.IDKey("DataA", 1, nil),
		datastore.IDKey("DataB", 1, nil),
	}, []*Data{{Name: "A"}, {Name: "B"}})
	if err != nil {
		t.Fatal(err)
	}

	if v := ch.CacheLen(); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := ch.HasCache(wireKey("DataB", 1)); !v {
		t.Fatalf("unexpected: %v", v)
	}
}
