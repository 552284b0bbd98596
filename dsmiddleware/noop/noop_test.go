package noop

import (
	"testing"

	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/dstest"
)

func TestNoop(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	client.AppendMiddleware(New())

	type Data struct {
		Name string
	}

	key, err := client.Put(ctx, datastore.IncompleteKey("Data", nil), &Data{Name: "Data"})
	if err != nil {
		t.Fatal(err)
	}

	obj := &Data{}
	if err := client.Get(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	if v := obj.Name; v != "Data" {
		t.Fatalf("unexpected: %v", v)
	}

	cnt, err := client.Count(ctx, datastore.NewQuery("Data"))
	if err != nil {
		t.Fatal(err)
	}
	if cnt != 1 {
		t.Fatalf("unexpected: %v", cnt)
	}

	if v := len(rpc.Commits) + len(rpc.Lookups) + len(rpc.RunQueries); v != 3 {
		t.Fatalf("unexpected: %v", v)
	}
}
