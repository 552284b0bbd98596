package dslog

import (
	"context"
	"strings"
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/shared"
)

var _ datastore.Middleware = &logger{}

// NewLogger returns a middleware that logs every RPC and its outcome.
// Calls are numbered so a request line can be paired with its result.
func NewLogger(prefix string, logf func(ctx context.Context, format string, args ...interface{})) datastore.Middleware {
	return &logger{Prefix: prefix, Logf: logf, counter: 1}
}

type logger struct {
	Prefix string
	Logf   func(ctx context.Context, format string, args ...interface{})

	m       sync.Mutex
	counter int
}

func (l *logger) next() int {
	l.m.Lock()
	defer l.m.Unlock()

	cnt := l.counter
	l.counter++
	return cnt
}

func mutationsToString(mutations []*pb.Mutation) string {
	ss := make([]string, 0, len(mutations))
	for _, m := range mutations {
		ss = append(ss, shared.MutationKind(m)+" "+shared.WireKeyString(shared.MutationKey(m)))
	}
	return strings.Join(ss, ", ")
}

func (l *logger) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"Lookup #%d, len(keys)=%d, keys=[%s]", cnt, len(req.Keys), shared.WireKeysString(req.Keys))

	resp, err := info.Next.Lookup(info, req)

	if err == nil {
		l.Logf(info.Context, l.Prefix+"Lookup #%d, found=%d, missing=%d, deferred=%d", cnt, len(resp.GetFound()), len(resp.GetMissing()), len(resp.GetDeferred()))
	} else {
		l.Logf(info.Context, l.Prefix+"Lookup #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	cnt := l.next()

	kinds := make([]string, 0, 1)
	for _, k := range req.GetQuery().GetKind() {
		kinds = append(kinds, k.GetName())
	}
	l.Logf(info.Context, l.Prefix+"RunQuery #%d, kind=%s", cnt, strings.Join(kinds, ","))

	resp, err := info.Next.RunQuery(info, req)

	if err == nil {
		batch := resp.GetBatch()
		l.Logf(info.Context, l.Prefix+"RunQuery #%d, len(results)=%d, more=%s", cnt, len(batch.GetEntityResults()), batch.GetMoreResults().String())
	} else {
		l.Logf(info.Context, l.Prefix+"RunQuery #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"Commit #%d, mode=%s, mutations=[%s]", cnt, req.GetMode().String(), mutationsToString(req.GetMutations()))

	resp, err := info.Next.Commit(info, req)

	if err == nil {
		keys := make([]*pb.Key, 0, len(req.GetMutations()))
		for idx, m := range req.GetMutations() {
			key := shared.MutationKey(m)
			if results := resp.GetMutationResults(); idx < len(results) && results[idx].GetKey() != nil {
				key = results[idx].GetKey()
			}
			keys = append(keys, key)
		}
		l.Logf(info.Context, l.Prefix+"Commit #%d, keys=[%s]", cnt, shared.WireKeysString(keys))
	} else {
		l.Logf(info.Context, l.Prefix+"Commit #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"BeginTransaction #%d, readOnly=%t", cnt, req.GetTransactionOptions().GetReadOnly() != nil)

	resp, err := info.Next.BeginTransaction(info, req)

	if err == nil {
		l.Logf(info.Context, l.Prefix+"BeginTransaction #%d, tx=%x", cnt, resp.GetTransaction())
	} else {
		l.Logf(info.Context, l.Prefix+"BeginTransaction #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"Rollback #%d, tx=%x", cnt, req.GetTransaction())

	resp, err := info.Next.Rollback(info, req)

	if err != nil {
		l.Logf(info.Context, l.Prefix+"Rollback #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"AllocateIds #%d, len(keys)=%d, keys=[%s]", cnt, len(req.Keys), shared.WireKeysString(req.Keys))

	resp, err := info.Next.AllocateIds(info, req)

	if err == nil {
		l.Logf(info.Context, l.Prefix+"AllocateIds #%d, keys=[%s]", cnt, shared.WireKeysString(resp.GetKeys()))
	} else {
		l.Logf(info.Context, l.Prefix+"AllocateIds #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}

func (l *logger) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	cnt := l.next()

	l.Logf(info.Context, l.Prefix+"ReserveIds #%d, len(keys)=%d, keys=[%s]", cnt, len(req.Keys), shared.WireKeysString(req.Keys))

	resp, err := info.Next.ReserveIds(info, req)

	if err != nil {
		l.Logf(info.Context, l.Prefix+"ReserveIds #%d, err=%s", cnt, err.Error())
	}

	return resp, err
}
