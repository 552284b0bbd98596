package noop

import (
	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
)

var _ datastore.Middleware = &noop{}

// New no-op middleware creates and returns.
func New() datastore.Middleware {
	return &noop{}
}

type noop struct {
}

func (*noop) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	return info.Next.Lookup(info, req)
}

func (*noop) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	return info.Next.RunQuery(info, req)
}

func (*noop) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	return info.Next.Commit(info, req)
}

func (*noop) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	return info.Next.BeginTransaction(info, req)
}

func (*noop) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	return info.Next.Rollback(info, req)
}

func (*noop) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	return info.Next.AllocateIds(info, req)
}

func (*noop) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	return info.Next.ReserveIds(info, req)
}
