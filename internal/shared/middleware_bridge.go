package shared

import (
	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
)

var _ datastore.Middleware = &MiddlewareBridge{}

// MiddlewareBridge walks a middleware list and finally hands the request to
// the RPC channel. Each step gets a bridge over the remaining middlewares as
// its info.Next.
type MiddlewareBridge struct {
	rpc  datastore.RPC
	mws  []datastore.Middleware
	Info *datastore.MiddlewareInfo
}

func NewMiddlewareBridge(info *datastore.MiddlewareInfo, rpc datastore.RPC, mws []datastore.Middleware) *MiddlewareBridge {
	cb := &MiddlewareBridge{
		rpc:  rpc,
		mws:  mws,
		Info: info,
	}
	cb.Info.Next = cb
	return cb
}

func (cb *MiddlewareBridge) next() (datastore.Middleware, *datastore.MiddlewareInfo) {
	current := cb.mws[0]
	left := &MiddlewareBridge{
		rpc:  cb.rpc,
		mws:  cb.mws[1:],
		Info: cb.Info,
	}
	left.Info.Next = left

	return current, left.Info
}

func (cb *MiddlewareBridge) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.Lookup(info.Context, req)
	}

	current, info := cb.next()
	return current.Lookup(info, req)
}

func (cb *MiddlewareBridge) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.RunQuery(info.Context, req)
	}

	current, info := cb.next()
	return current.RunQuery(info, req)
}

func (cb *MiddlewareBridge) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.Commit(info.Context, req)
	}

	current, info := cb.next()
	return current.Commit(info, req)
}

func (cb *MiddlewareBridge) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.BeginTransaction(info.Context, req)
	}

	current, info := cb.next()
	return current.BeginTransaction(info, req)
}

func (cb *MiddlewareBridge) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.Rollback(info.Context, req)
	}

	current, info := cb.next()
	return current.Rollback(info, req)
}

func (cb *MiddlewareBridge) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.AllocateIds(info.Context, req)
	}

	current, info := cb.next()
	return current.AllocateIds(info, req)
}

func (cb *MiddlewareBridge) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	if len(cb.mws) == 0 {
		return cb.rpc.ReserveIds(info.Context, req)
	}

	current, info := cb.next()
	return current.ReserveIds(info, req)
}
