package rpcbreaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/sony/gobreaker/v2"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/dstest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Data struct {
	Name string
}

func TestBreaker_Trip(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	var buf strings.Builder
	logf := func(ctx context.Context, format string, args ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", args...)
	}

	client.AppendMiddleware(New(
		WithConsecutiveFailures(2),
		WithOpenTimeout(time.Hour),
		WithLogf(logf),
	))

	rpc.LookupFunc = func(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
		return nil, status.Error(codes.Unavailable, "unavailable")
	}

	key := datastore.IDKey("Data", 1, nil)
	for i := 0; i < 2; i++ {
		err := client.Get(ctx, key, &Data{})
		if v := status.Code(err); v != codes.Unavailable {
			t.Fatalf("unexpected: %v", err)
		}
	}

	err := client.Get(ctx, key, &Data{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("unexpected: %v", err)
	}
	if v := len(rpc.Lookups); v != 2 {
		t.Fatalf("unexpected: %v", v)
	}

	if v := buf.String(); v != "middleware/rpcbreaker: dsrpc state closed -> open\n" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	client.AppendMiddleware(New(WithConsecutiveFailures(1)))

	rpc.CommitFunc = func(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
		return nil, status.Error(codes.InvalidArgument, "bad request")
	}

	key := datastore.IDKey("Data", 1, nil)
	for i := 0; i < 3; i++ {
		_, err := client.Put(ctx, key, &Data{Name: "a"})
		if v := status.Code(err); v != codes.InvalidArgument {
			t.Fatalf("unexpected: %v", err)
		}
	}
	if v := len(rpc.Commits); v != 3 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestBreaker_RollbackBypassesOpenBreaker(t *testing.T) {
	ctx, client, rpc := dstest.Setup(t)

	client.AppendMiddleware(New(WithConsecutiveFailures(1), WithOpenTimeout(time.Hour)))

	rpc.LookupFunc = func(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
		return nil, status.Error(codes.Internal, "internal")
	}

	tx, err := client.NewTransaction(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Get(datastore.IDKey("Data", 1, nil), &Data{}); err == nil {
		t.Fatal("unexpected success")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if v := len(rpc.Rollbacks); v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestIsSuccessful(t *testing.T) {
	if v := IsSuccessful(status.Error(codes.NotFound, "")); !v {
		t.Fatalf("unexpected: %v", v)
	}
	if v := IsSuccessful(status.Error(codes.Unavailable, "")); v {
		t.Fatalf("unexpected: %v", v)
	}
	if v := IsSuccessful(context.DeadlineExceeded); v {
		t.Fatalf("unexpected: %v", v)
	}
}
