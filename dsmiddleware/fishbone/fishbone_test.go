package fishbone

import (
	"context"
	"fmt"
	"strings"
	"testing"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/localcache"
	"go.mercari.io/dsrpc/dsmiddleware/noop"
	"go.mercari.io/dsrpc/internal/dstest"
	"go.mercari.io/dsrpc/internal/testutils"
)

type Data struct {
	Name string
}

func TestFishbone_GetAll(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	keys := make([]*datastore.Key, 0, 3)
	list := make([]*Data, 0, 3)
	for i := 1; i <= 3; i++ {
		keys = append(keys, datastore.IDKey("Data", int64(i), nil))
		list = append(list, &Data{Name: fmt.Sprintf("#%d", i)})
	}
	if _, err := client.PutMulti(ctx, keys, list); err != nil {
		t.Fatal(err)
	}

	client.AppendMiddleware(New())
	client.AppendMiddleware(localcache.New())

	q := datastore.NewQuery("Data")
	for i := 0; i < 2; i++ {
		var got []*Data
		gotKeys, err := client.GetAll(ctx, q, &got)
		if err != nil {
			t.Fatal(err)
		}
		if v := len(gotKeys); v != 3 {
			t.Fatalf("unexpected: %v", v)
		}
		for idx, d := range got {
			if v := d.Name; v != fmt.Sprintf("#%d", idx+1) {
				t.Fatalf("unexpected: %v", v)
			}
		}
	}

	if v := len(rpc.RunQueries); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
	projection := rpc.RunQueries[0].GetQuery().GetProjection()
	if v := len(projection); v != 1 || projection[0].GetProperty().GetName() != "__key__" {
		t.Fatalf("unexpected: %v", projection)
	}
	// the second query is served from the cache.
	if v := len(rpc.Lookups); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestFishbone_KeysOnlyPassThrough(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	if _, err := client.Put(ctx, datastore.IDKey("Data", 1, nil), &Data{Name: "a"}); err != nil {
		t.Fatal(err)
	}

	client.AppendMiddleware(New())

	cnt, err := client.Count(ctx, datastore.NewQuery("Data"))
	if err != nil {
		t.Fatal(err)
	}
	if v := cnt; v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.Lookups); v != 0 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestFishbone_DeletedEntityIsDropped(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	for i := 1; i <= 2; i++ {
		if _, err := client.Put(ctx, datastore.IDKey("Data", int64(i), nil), &Data{Name: "a"}); err != nil {
			t.Fatal(err)
		}
	}

	client.AppendMiddleware(New())

	rpc.LookupFunc = func(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
		return &pb.LookupResponse{
			Found:   []*pb.EntityResult{{Entity: &pb.Entity{Key: req.Keys[0]}}},
			Missing: []*pb.EntityResult{{Entity: &pb.Entity{Key: req.Keys[1]}}},
		}, nil
	}

	var got []*Data
	gotKeys, err := client.GetAll(ctx, datastore.NewQuery("Data"), &got)
	if err != nil {
		t.Fatal(err)
	}
	if v := len(gotKeys); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := gotKeys[0].ID; v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

// removeOnLookup deletes key from the store right before every Lookup.
type removeOnLookup struct {
	datastore.Middleware
	rpc *testutils.FakeRPC
	key *pb.Key
}

func (m *removeOnLookup) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	m.rpc.Remove(m.key)
	return info.Next.Lookup(info, req)
}

func TestFishbone_DeletedEntityCountsAgainstLimit(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)
	rpc.PageSize = 2

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := client.Put(ctx, datastore.NameKey("Data", name, nil), &Data{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	client.AppendMiddleware(New())
	client.AppendMiddleware(&removeOnLookup{
		Middleware: noop.New(),
		rpc:        rpc,
		key: &pb.Key{
			PartitionId: &pb.PartitionId{ProjectId: dstest.ProjectID},
			Path:        []*pb.Key_PathElement{{Kind: "Data", IdType: &pb.Key_PathElement_Name{Name: "a"}}},
		},
	})

	var got []*Data
	if _, err := client.GetAll(ctx, datastore.NewQuery("Data").Limit(3), &got); err != nil {
		t.Fatal(err)
	}

	names := make([]string, 0, len(got))
	for _, d := range got {
		names = append(names, d.Name)
	}
	if v := strings.Join(names, ","); v != "b,c" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(rpc.RunQueries); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := rpc.RunQueries[1].GetQuery().GetLimit().GetValue(); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}
