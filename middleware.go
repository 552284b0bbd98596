package datastore

import (
	"context"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
)

// RPC is the Datastore v1 service as seen by the client. The gRPC stub is
// adapted to it by the clouddatastore package; tests provide fakes.
type RPC interface {
	Lookup(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error)
	RunQuery(ctx context.Context, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error)
	Commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error)
	BeginTransaction(ctx context.Context, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error)
	Rollback(ctx context.Context, req *pb.RollbackRequest) (*pb.RollbackResponse, error)
	AllocateIds(ctx context.Context, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error)
	ReserveIds(ctx context.Context, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error)
}

// Middleware intercepts every RPC issued by a Client.
// Implementations call info.Next to continue the chain.
type Middleware interface {
	Lookup(info *MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error)
	RunQuery(info *MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error)
	Commit(info *MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error)
	BeginTransaction(info *MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error)
	Rollback(info *MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error)
	AllocateIds(info *MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error)
	ReserveIds(info *MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error)
}

// MiddlewareInfo carries the call context through a middleware chain.
type MiddlewareInfo struct {
	Context   context.Context
	ProjectID string
	Next      Middleware
}
