package clouddatastore

import (
	"context"
	"errors"
	"os"

	"cloud.google.com/go/compute/metadata"
	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	w "go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal"
	"go.mercari.io/dsrpc/internal/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	grpcmetadata "google.golang.org/grpc/metadata"
)

// DefaultEndpoint is the production Datastore gRPC endpoint.
const DefaultEndpoint = "datastore.googleapis.com:443"

// DefaultScopes are requested when no WithScopes option is given.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/datastore",
}

var ErrNoProjectID = errors.New("clouddatastore: project id is not specified")

func newClientSettings(ctx context.Context, opts ...w.ClientOption) (*internal.ClientSettings, error) {
	settings := &internal.ClientSettings{}
	for _, opt := range opts {
		opt.Apply(settings)
	}
	if settings.ProjectID == "" {
		settings.ProjectID = internal.GetProjectID()
	}
	if settings.ProjectID == "" && metadata.OnGCE() {
		pID, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, err
		}
		settings.ProjectID = pID
	}
	if settings.ProjectID == "" {
		return nil, ErrNoProjectID
	}
	if len(settings.Scopes) == 0 {
		settings.Scopes = DefaultScopes
	}
	return settings, nil
}

// FromContext dials Datastore and returns a Client. When
// DATASTORE_EMULATOR_HOST is set the emulator is used without credentials.
func FromContext(ctx context.Context, opts ...w.ClientOption) (w.Client, error) {
	settings, err := newClientSettings(ctx, opts...)
	if err != nil {
		return nil, err
	}

	conn := settings.GRPCConn
	var owned *grpc.ClientConn
	var tokens *auth.TokenCache
	if emulator := internal.GetEmulatorHost(); emulator != "" && conn == nil {
		owned, err = grpc.NewClient(emulator, append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}, settings.DialOptions...)...)
		if err != nil {
			return nil, err
		}
		conn = owned
	} else {
		ts, err := tokenSource(ctx, settings)
		if err != nil {
			return nil, err
		}
		tokens = auth.NewTokenCache(ts)

		if conn == nil {
			endpoint := settings.Endpoint
			if endpoint == "" {
				endpoint = DefaultEndpoint
			}
			owned, err = grpc.NewClient(endpoint, append([]grpc.DialOption{
				grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")),
			}, settings.DialOptions...)...)
			if err != nil {
				return nil, err
			}
			conn = owned
		}
	}

	rpc := &grpcRPC{
		client:    pb.NewDatastoreClient(conn),
		tokens:    tokens,
		projectID: settings.ProjectID,
	}
	return newClient(settings, rpc, owned), nil
}

// FromRPC returns a Client that issues its calls to rpc. The project id must
// be resolvable the same way FromContext resolves it.
func FromRPC(ctx context.Context, rpc w.RPC, opts ...w.ClientOption) (w.Client, error) {
	settings, err := newClientSettings(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newClient(settings, rpc, nil), nil
}

func IsCloudDatastoreClient(client w.Client) bool {
	_, ok := client.(*datastoreImpl)
	return ok
}

func tokenSource(ctx context.Context, settings *internal.ClientSettings) (oauth2.TokenSource, error) {
	if settings.CredentialsFile != "" {
		b, err := os.ReadFile(settings.CredentialsFile)
		if err != nil {
			return nil, err
		}
		creds, err := google.CredentialsFromJSON(ctx, b, settings.Scopes...)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	}
	if settings.TokenSource != nil {
		return settings.TokenSource, nil
	}
	return google.DefaultTokenSource(ctx, settings.Scopes...)
}

var _ w.RPC = (*grpcRPC)(nil)

// grpcRPC adapts the generated Datastore stub to w.RPC, attaching the
// credential and routing header to every call.
type grpcRPC struct {
	client    pb.DatastoreClient
	tokens    *auth.TokenCache
	projectID string
}

func (r *grpcRPC) outgoing(ctx context.Context) (context.Context, error) {
	ctx, err := r.tokens.Authorize(ctx)
	if err != nil {
		return nil, err
	}
	return grpcmetadata.AppendToOutgoingContext(ctx, "x-goog-request-params", "project_id="+r.projectID), nil
}

func (r *grpcRPC) Lookup(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.Lookup(ctx, req)
}

func (r *grpcRPC) RunQuery(ctx context.Context, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.RunQuery(ctx, req)
}

func (r *grpcRPC) Commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.Commit(ctx, req)
}

func (r *grpcRPC) BeginTransaction(ctx context.Context, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.BeginTransaction(ctx, req)
}

func (r *grpcRPC) Rollback(ctx context.Context, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.Rollback(ctx, req)
}

func (r *grpcRPC) AllocateIds(ctx context.Context, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.AllocateIds(ctx, req)
}

func (r *grpcRPC) ReserveIds(ctx context.Context, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	ctx, err := r.outgoing(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.ReserveIds(ctx, req)
}
