package rpcretry

import (
	"context"
	"math"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ datastore.Middleware = &retryHandler{}

func New(opts ...RetryOption) datastore.Middleware {
	rh := &retryHandler{
		retryLimit:         3,
		minBackoffDuration: 100 * time.Millisecond,
		retryable:          DefaultRetryable,
		logf:               func(ctx context.Context, format string, args ...interface{}) {},
	}

	for _, opt := range opts {
		opt.Apply(rh)
	}

	return rh
}

type retryHandler struct {
	retryLimit         int
	minBackoffDuration time.Duration
	maxBackoffDuration time.Duration
	maxDoublings       int
	retryable          func(err error) bool
	logf               func(ctx context.Context, format string, args ...interface{})
}

type RetryOption interface {
	Apply(*retryHandler)
}

// DefaultRetryable retries everything except errors the service will return
// again for the same request.
func DefaultRetryable(err error) bool {
	switch err {
	case context.Canceled, context.DeadlineExceeded:
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
		codes.FailedPrecondition, codes.Aborted, codes.Unauthenticated, codes.Canceled, codes.Unimplemented:
		return false
	}
	return true
}

func (rh *retryHandler) waitDuration(retry int) time.Duration {
	d := 10 * time.Millisecond
	if 0 <= rh.minBackoffDuration {
		d = rh.minBackoffDuration
	}

	m := retry
	if 0 < rh.maxDoublings && rh.maxDoublings < m {
		m = rh.maxDoublings
	}
	if m <= 0 {
		m = 1
	}

	wait := math.Pow(2, float64(m-1)) * float64(d)

	if 0 < rh.maxBackoffDuration {
		wait = math.Min(wait, float64(rh.maxBackoffDuration))
	}

	return time.Duration(wait)
}

func (rh *retryHandler) try(ctx context.Context, logPrefix string, f func() error) {
	try := 1
	for {
		err := f()
		if err == nil || !rh.retryable(err) {
			return
		}
		if rh.retryLimit <= try {
			return
		}
		d := rh.waitDuration(try)
		rh.logf(ctx, "%s: err=%s, will be retry #%d after %s", logPrefix, err.Error(), try, d.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		try++
	}
}

func (rh *retryHandler) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (resp *pb.LookupResponse, retErr error) {
	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.Lookup", func() error {
		resp, retErr = next.Lookup(info, req)
		return retErr
	})
	return
}

func (rh *retryHandler) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (resp *pb.RunQueryResponse, retErr error) {
	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.RunQuery", func() error {
		resp, retErr = next.RunQuery(info, req)
		return retErr
	})
	return
}

// Commit is retried only when every mutation is idempotent. An insert could
// be applied twice, or fail with AlreadyExists after a lost success.
func (rh *retryHandler) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (resp *pb.CommitResponse, retErr error) {
	for _, m := range req.GetMutations() {
		if _, ok := m.GetOperation().(*pb.Mutation_Insert); ok {
			return info.Next.Commit(info, req)
		}
	}

	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.Commit", func() error {
		resp, retErr = next.Commit(info, req)
		return retErr
	})
	return
}

func (rh *retryHandler) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (resp *pb.BeginTransactionResponse, retErr error) {
	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.BeginTransaction", func() error {
		resp, retErr = next.BeginTransaction(info, req)
		return retErr
	})
	return
}

func (rh *retryHandler) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	return info.Next.Rollback(info, req)
}

func (rh *retryHandler) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (resp *pb.AllocateIdsResponse, retErr error) {
	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.AllocateIds", func() error {
		resp, retErr = next.AllocateIds(info, req)
		return retErr
	})
	return
}

func (rh *retryHandler) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (resp *pb.ReserveIdsResponse, retErr error) {
	next := info.Next
	rh.try(info.Context, "middleware/rpcretry.ReserveIds", func() error {
		resp, retErr = next.ReserveIds(info, req)
		return retErr
	})
	return
}
