package internal

import (
	"context"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
)

type ClientSettings struct {
	ProjectID string
	Namespace string

	Scopes          []string
	TokenSource     oauth2.TokenSource
	CredentialsFile string // if set, Token Source is ignored.

	Endpoint    string
	GRPCConn    *grpc.ClientConn // if set, Endpoint and DialOptions are ignored.
	DialOptions []grpc.DialOption

	Logf               func(ctx context.Context, format string, args ...interface{})
	MaxDeferredRetries int
}

func GetProjectID() string {
	if v := os.Getenv("DATASTORE_PROJECT_ID"); v != "" {
		return v
	}
	return os.Getenv("PROJECT_ID") // NOTE ないよりマシ
}

func GetEmulatorHost() string {
	return os.Getenv("DATASTORE_EMULATOR_HOST")
}
