package storagecache

import (
	"context"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/protobuf/proto"
)

var _ datastore.Middleware = &cacheHandler{}

func New(s Storage, opts *Options) datastore.Middleware {
	ch := &cacheHandler{
		s: s,
	}
	if opts != nil {
		ch.logf = opts.Logf
		ch.filters = opts.Filters
	}

	if ch.logf == nil {
		ch.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}

	return ch
}

type Options struct {
	Logf    func(ctx context.Context, format string, args ...interface{})
	Filters []KeyFilter
}

// Storage is a cache backend keyed by wire keys.
type Storage interface {
	SetMulti(ctx context.Context, is []*CacheItem) error
	// GetMulti returns slice of CacheItem of the same length as Keys of the argument.
	// If not in the cache, the value of the corresponding element is nil.
	GetMulti(ctx context.Context, keys []*pb.Key) ([]*CacheItem, error)
	DeleteMulti(ctx context.Context, keys []*pb.Key) error
}

type KeyFilter func(ctx context.Context, key *pb.Key) bool

type CacheItem struct {
	Key    *pb.Key
	Entity *pb.Entity
}

type cacheHandler struct {
	s       Storage
	logf    func(ctx context.Context, format string, args ...interface{})
	filters []KeyFilter
}

func (ch *cacheHandler) target(ctx context.Context, key *pb.Key) bool {
	if key == nil || len(key.GetPath()) == 0 {
		return false
	}
	leaf := key.GetPath()[len(key.GetPath())-1]
	if leaf.GetId() == 0 && leaf.GetName() == "" {
		return false
	}
	for _, f := range ch.filters {
		// If false comes back even once, it is not cached
		if !f(ctx, key) {
			return false
		}
	}

	return true
}

// Lookup serves cached entities and forwards the rest. Reads inside a
// transaction always go to the service.
func (ch *cacheHandler) Lookup(info *datastore.MiddlewareInfo, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	switch req.GetReadOptions().GetConsistencyType().(type) {
	case nil, *pb.ReadOptions_ReadConsistency_:
	default:
		return info.Next.Lookup(info, req)
	}

	var hits []*pb.EntityResult
	missing := req.Keys
	{
		targetIdxList := make([]int, 0, len(req.Keys))
		targetKeys := make([]*pb.Key, 0, len(req.Keys))
		for idx, key := range req.Keys {
			if ch.target(info.Context, key) {
				targetIdxList = append(targetIdxList, idx)
				targetKeys = append(targetKeys, key)
			}
		}
		if len(targetKeys) != 0 {
			cis, err := ch.s.GetMulti(info.Context, targetKeys)
			if err != nil {
				ch.logf(info.Context, "dsmiddleware/storagecache.Lookup: error on storage.GetMulti err=%s", err.Error())
				return info.Next.Lookup(info, req)
			}
			hit := make(map[int]bool, len(cis))
			for idx, ci := range cis {
				if ci == nil || ci.Entity == nil {
					continue
				}
				hit[targetIdxList[idx]] = true
				hits = append(hits, &pb.EntityResult{Entity: ci.Entity})
			}
			if len(hit) != 0 {
				missing = make([]*pb.Key, 0, len(req.Keys)-len(hit))
				for idx, key := range req.Keys {
					if !hit[idx] {
						missing = append(missing, key)
					}
				}
			}
		}
	}

	if len(missing) == 0 {
		return &pb.LookupResponse{Found: hits}, nil
	}

	nextReq := proto.Clone(req).(*pb.LookupRequest)
	nextReq.Keys = missing
	resp, err := info.Next.Lookup(info, nextReq)
	if err != nil {
		return nil, err
	}

	cis := make([]*CacheItem, 0, len(resp.GetFound()))
	for _, result := range resp.GetFound() {
		e := result.GetEntity()
		if !ch.target(info.Context, e.GetKey()) {
			continue
		}
		cis = append(cis, &CacheItem{Key: e.GetKey(), Entity: e})
	}
	if len(cis) != 0 {
		if err := ch.s.SetMulti(info.Context, cis); err != nil {
			ch.logf(info.Context, "dsmiddleware/storagecache.Lookup: error on storage.SetMulti err=%s", err.Error())
		}
	}

	merged := proto.Clone(resp).(*pb.LookupResponse)
	merged.Found = append(hits, merged.Found...)
	return merged, nil
}

func (ch *cacheHandler) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	return info.Next.RunQuery(info, req)
}

// Commit refreshes the cache from a successful non-transactional commit.
// After a transactional or failed commit the mutated keys are dropped.
func (ch *cacheHandler) Commit(info *datastore.MiddlewareInfo, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	resp, err := info.Next.Commit(info, req)

	var cis []*CacheItem
	var deleteKeys []*pb.Key
	for idx, m := range req.GetMutations() {
		key := shared.MutationKey(m)
		if results := resp.GetMutationResults(); err == nil && idx < len(results) && results[idx].GetKey() != nil {
			key = results[idx].GetKey()
		}
		if !ch.target(info.Context, key) {
			continue
		}

		if err != nil || req.GetMode() == pb.CommitRequest_TRANSACTIONAL {
			deleteKeys = append(deleteKeys, key)
			continue
		}

		var e *pb.Entity
		switch op := m.GetOperation().(type) {
		case *pb.Mutation_Insert:
			e = op.Insert
		case *pb.Mutation_Update:
			e = op.Update
		case *pb.Mutation_Upsert:
			e = op.Upsert
		}
		if e == nil {
			deleteKeys = append(deleteKeys, key)
			continue
		}
		e = proto.Clone(e).(*pb.Entity)
		e.Key = key
		cis = append(cis, &CacheItem{Key: key, Entity: e})
	}

	if len(deleteKeys) != 0 {
		if sErr := ch.s.DeleteMulti(info.Context, deleteKeys); sErr != nil {
			ch.logf(info.Context, "dsmiddleware/storagecache.Commit: error on storage.DeleteMulti err=%s", sErr.Error())
		}
	}
	if len(cis) != 0 {
		if sErr := ch.s.SetMulti(info.Context, cis); sErr != nil {
			ch.logf(info.Context, "dsmiddleware/storagecache.Commit: error on storage.SetMulti err=%s", sErr.Error())
		}
	}

	return resp, err
}

func (ch *cacheHandler) BeginTransaction(info *datastore.MiddlewareInfo, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	return info.Next.BeginTransaction(info, req)
}

func (ch *cacheHandler) Rollback(info *datastore.MiddlewareInfo, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	return info.Next.Rollback(info, req)
}

func (ch *cacheHandler) AllocateIds(info *datastore.MiddlewareInfo, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	return info.Next.AllocateIds(info, req)
}

func (ch *cacheHandler) ReserveIds(info *datastore.MiddlewareInfo, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	return info.Next.ReserveIds(info, req)
}
