package chaosrpc

import (
	"math/rand"
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NOTE Please give me a pull request if You can make more chaos (within what Datastore itself can return).

var _ datastore.Middleware = &chaosHandler{}

// ErrChaos is returned in place of a real RPC result. It carries
// codes.Unavailable like a dropped connection does.
var ErrChaos = status.Error(codes.Unavailable, "error from chaosrpc!!")

func New(s rand.Source) datastore.Middleware {
	return &chaosHandler{
		r: rand.New(s),
	}
}

type chaosHandler struct {
	m sync.Mutex
	r *rand.Rand
}

func (ch *chaosHandler) raiseError() error {
	ch.m.Lock()
	defer ch.m.Unlock()

	// Make an error with a 20% rate
	if ch.r.Intn(5) == 0 {
		return ErrChaos
	}

	return nil
}

func (ch *chaosHandler) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.Lookup(info, req)
}

func (ch *chaosHandler) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.RunQuery(info, req)
}

func (ch *chaosHandler) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.Commit(info, req)
}

func (ch *chaosHandler) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.BeginTransaction(info, req)
}

func (ch *chaosHandler) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	// a failed rollback leaves the transaction to expire on the server side
	return info.Next.Rollback(info, req)
}

func (ch *chaosHandler) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.AllocateIds(info, req)
}

func (ch *chaosHandler) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	if err := ch.raiseError(); err != nil {
		return nil, err
	}

	return info.Next.ReserveIds(info, req)
}
