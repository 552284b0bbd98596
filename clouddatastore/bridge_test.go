package clouddatastore

import (
	"context"
	"testing"

	w "go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/auth"
	"golang.org/x/oauth2"
	grpcmetadata "google.golang.org/grpc/metadata"
)

func TestNewClientSettings_ProjectID(t *testing.T) {
	ctx := context.Background()

	t.Setenv("DATASTORE_PROJECT_ID", "from-datastore-env")
	t.Setenv("PROJECT_ID", "from-env")

	settings, err := newClientSettings(ctx, w.WithProjectID("from-option"))
	if err != nil {
		t.Fatal(err)
	}
	if v := settings.ProjectID; v != "from-option" {
		t.Fatalf("unexpected: %v", v)
	}

	settings, err = newClientSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v := settings.ProjectID; v != "from-datastore-env" {
		t.Fatalf("unexpected: %v", v)
	}

	t.Setenv("DATASTORE_PROJECT_ID", "")
	settings, err = newClientSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v := settings.ProjectID; v != "from-env" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := len(settings.Scopes); v != len(DefaultScopes) {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestFromContext_Emulator(t *testing.T) {
	ctx := context.Background()

	t.Setenv("DATASTORE_EMULATOR_HOST", "localhost:8081")

	client, err := FromContext(ctx, w.WithProjectID("emulator"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if v := IsCloudDatastoreClient(client); !v {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestGRPCRPC_Outgoing(t *testing.T) {
	ctx := context.Background()

	r := &grpcRPC{projectID: "p"}
	out, err := r.outgoing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	md, _ := grpcmetadata.FromOutgoingContext(out)
	if v := md.Get("x-goog-request-params"); len(v) != 1 || v[0] != "project_id=p" {
		t.Fatalf("unexpected: %v", v)
	}
	if v := md.Get("authorization"); len(v) != 0 {
		t.Fatalf("unexpected: %v", v)
	}

	r.tokens = auth.NewTokenCache(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc"}))
	out, err = r.outgoing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	md, _ = grpcmetadata.FromOutgoingContext(out)
	if v := md.Get("authorization"); len(v) != 1 || v[0] != "Bearer abc" {
		t.Fatalf("unexpected: %v", v)
	}
}
