// Package dstest builds clients over an in-memory RPC channel for tests.
package dstest

import (
	"context"
	"testing"

	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/clouddatastore"
	"go.mercari.io/dsrpc/internal/testutils"
)

const ProjectID = "dstest"

func Setup(t *testing.T, opts ...datastore.ClientOption) (context.Context, datastore.Client, *testutils.FakeRPC) {
	t.Helper()

	ctx := context.Background()
	rpc := testutils.NewFakeRPC()
	opts = append([]datastore.ClientOption{datastore.WithProjectID(ProjectID)}, opts...)
	client, err := clouddatastore.FromRPC(ctx, rpc, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	return ctx, client, rpc
}
