package boom

import (
	"testing"

	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/dstest"
)

func TestTransaction_PutIncomplete(t *testing.T) {
	ctx, client, _ := dstest.Setup(t)

	type Data struct {
		ID  int64 `datastore:"-" boom:"id"`
		Str string
	}

	bm := FromClient(ctx, client)

	tx, err := bm.NewTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}

	obj := &Data{Str: "Str"}
	if _, err := tx.Put(obj); err != nil {
		t.Fatal(err)
	}
	if v := obj.ID; v != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if v := obj.ID; v == 0 {
		t.Fatalf("unexpected: %v", v)
	}

	got := &Data{ID: obj.ID}
	if err := bm.Get(ctx, got); err != nil {
		t.Fatal(err)
	}
	if v := got.Str; v != "Str" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestTransaction_RunInTransaction(t *testing.T) {
	ctx, client, _ := dstest.Setup(t)

	type Data struct {
		ID  int64 `datastore:"-" boom:"id"`
		Str string
	}

	bm := FromClient(ctx, client)

	if _, err := bm.Put(ctx, &Data{ID: 1, Str: "before"}); err != nil {
		t.Fatal(err)
	}

	created := &Data{Str: "created"}
	_, err := bm.RunInTransaction(ctx, func(tx *Transaction) error {
		obj := &Data{ID: 1}
		if err := tx.Get(obj); err != nil {
			return err
		}
		obj.Str = "after"
		if _, err := tx.Put(obj); err != nil {
			return err
		}
		if _, err := tx.Put(created); err != nil {
			return err
		}
		return tx.Delete(&Data{ID: 99})
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := created.ID; v == 0 {
		t.Fatalf("unexpected: %v", v)
	}

	obj := &Data{ID: 1}
	if err := bm.Get(ctx, obj); err != nil {
		t.Fatal(err)
	}
	if v := obj.Str; v != "after" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	type Data struct {
		ID int64 `datastore:"-" boom:"id"`
	}

	bm := FromClient(ctx, client)

	tx, err := bm.NewTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Put(&Data{ID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Commit(); err != datastore.ErrTransactionFinished {
		t.Fatalf("unexpected: %v", err)
	}
	if v := rpc.Len(); v != 0 {
		t.Errorf("unexpected: %v", v)
	}
	if v := tx.Kind(&Data{}); v != "Data" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestTransaction_GetAll(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	type Data struct {
		ID  int64 `datastore:"-" boom:"id"`
		Str string
	}

	bm := FromClient(ctx, client)

	if _, err := bm.PutMulti(ctx, []*Data{{ID: 1, Str: "A"}, {ID: 2, Str: "B"}}); err != nil {
		t.Fatal(err)
	}

	tx, err := bm.NewTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	var list []*Data
	if _, err := tx.GetAll(ctx, datastore.NewQuery("Data"), &list); err != nil {
		t.Fatal(err)
	}
	if v := len(list); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}
	if v := list[1].ID; v != 2 {
		t.Errorf("unexpected: %v", v)
	}

	req := rpc.RunQueries[len(rpc.RunQueries)-1]
	if v := string(req.GetReadOptions().GetTransaction()); v != string(tx.ID()) {
		t.Errorf("unexpected: %v", v)
	}
}
