// Package rpcbreaker stops sending RPCs to Datastore while it keeps failing.
//
// Every RPC runs inside one gobreaker circuit breaker. Once the breaker is
// open, calls fail with gobreaker.ErrOpenState until the timeout passes.
// Only errors that point at the service or the network count as failures;
// a NotFound or an Aborted transaction leaves the breaker closed.
package rpcbreaker

import (
	"context"
	"errors"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/sony/gobreaker/v2"
	"go.mercari.io/dsrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ datastore.Middleware = &breakerHandler{}

func New(opts ...BreakerOption) datastore.Middleware {
	bh := &breakerHandler{
		settings: gobreaker.Settings{
			Name:        "dsrpc",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: IsSuccessful,
		},
	}

	for _, opt := range opts {
		opt.Apply(bh)
	}

	if bh.logf != nil {
		logf := bh.logf
		onStateChange := bh.settings.OnStateChange
		bh.settings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			logf(context.Background(), "middleware/rpcbreaker: %s state %s -> %s", name, from.String(), to.String())
			if onStateChange != nil {
				onStateChange(name, from, to)
			}
		}
	}

	bh.cb = gobreaker.NewCircuitBreaker[any](bh.settings)

	return bh
}

type breakerHandler struct {
	settings gobreaker.Settings
	logf     func(ctx context.Context, format string, args ...interface{})
	cb       *gobreaker.CircuitBreaker[any]
}

type BreakerOption interface {
	Apply(*breakerHandler)
}

// IsSuccessful reports whether err leaves the service healthy.
func IsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
		codes.FailedPrecondition, codes.Aborted, codes.OutOfRange, codes.Unauthenticated, codes.Canceled:
		return true
	}
	return false
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], f func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		return f()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (bh *breakerHandler) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.LookupResponse, error) {
		return next.Lookup(info, req)
	})
}

func (bh *breakerHandler) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.RunQueryResponse, error) {
		return next.RunQuery(info, req)
	})
}

func (bh *breakerHandler) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.CommitResponse, error) {
		return next.Commit(info, req)
	})
}

func (bh *breakerHandler) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.BeginTransactionResponse, error) {
		return next.BeginTransaction(info, req)
	})
}

// Rollback always reaches the service so that open transactions are released.
func (bh *breakerHandler) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	return info.Next.Rollback(info, req)
}

func (bh *breakerHandler) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.AllocateIdsResponse, error) {
		return next.AllocateIds(info, req)
	})
}

func (bh *breakerHandler) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	next := info.Next
	return execute(bh.cb, func() (*pb.ReserveIdsResponse, error) {
		return next.ReserveIds(info, req)
	})
}
