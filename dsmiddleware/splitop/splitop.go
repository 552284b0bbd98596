package splitop

import (
	"context"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/noop"
	"google.golang.org/protobuf/proto"
)

var _ datastore.Middleware = &splitHandler{}

// New split operation middleware will be returns.
func New(opts ...Option) datastore.Middleware {
	sh := &splitHandler{
		Middleware:        noop.New(),
		getSplitThreshold: 1000,
		putSplitThreshold: 500,
	}
	for _, opt := range opts {
		opt.Apply(sh)
	}
	if sh.logf == nil {
		sh.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}

	return sh
}

// A Option is an option for splitop.
type Option interface {
	Apply(*splitHandler)
}

type splitHandler struct {
	datastore.Middleware

	getSplitThreshold int
	putSplitThreshold int

	logf func(ctx context.Context, format string, args ...interface{})
}

func (sh *splitHandler) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	keys := req.GetKeys()
	sh.logf(info.Context, "get %d keys", len(keys))
	if sh.getSplitThreshold <= 0 || len(keys) <= sh.getSplitThreshold {
		return info.Next.Lookup(info, req)
	}

	resp := &pb.LookupResponse{}
	next := info.Next
	for i := 0; i < len(keys); i += sh.getSplitThreshold {
		end := i + sh.getSplitThreshold
		if len(keys) < end {
			end = len(keys)
		}
		sh.logf(info.Context, "get [%d, %d) range keys", i, end)

		chunkReq := proto.Clone(req).(*pb.LookupRequest)
		chunkReq.Keys = keys[i:end]
		chunkResp, err := next.Lookup(info, chunkReq)
		if err != nil {
			return nil, err
		}
		resp.Found = append(resp.Found, chunkResp.GetFound()...)
		resp.Missing = append(resp.Missing, chunkResp.GetMissing()...)
		resp.Deferred = append(resp.Deferred, chunkResp.GetDeferred()...)
		if resp.ReadTime == nil {
			resp.ReadTime = chunkResp.GetReadTime()
		}
	}

	return resp, nil
}

func (sh *splitHandler) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	mutations := req.GetMutations()
	if req.GetMode() != pb.CommitRequest_NON_TRANSACTIONAL {
		return info.Next.Commit(info, req)
	}
	sh.logf(info.Context, "put %d mutations", len(mutations))
	if sh.putSplitThreshold <= 0 || len(mutations) <= sh.putSplitThreshold {
		return info.Next.Commit(info, req)
	}

	resp := &pb.CommitResponse{}
	next := info.Next
	for i := 0; i < len(mutations); i += sh.putSplitThreshold {
		end := i + sh.putSplitThreshold
		if len(mutations) < end {
			end = len(mutations)
		}
		sh.logf(info.Context, "put [%d, %d) range mutations", i, end)

		chunkReq := proto.Clone(req).(*pb.CommitRequest)
		chunkReq.Mutations = mutations[i:end]
		chunkResp, err := next.Commit(info, chunkReq)
		if err != nil {
			return nil, err
		}
		resp.MutationResults = append(resp.MutationResults, chunkResp.GetMutationResults()...)
		resp.IndexUpdates += chunkResp.GetIndexUpdates()
		resp.CommitTime = chunkResp.GetCommitTime()
	}

	return resp, nil
}
