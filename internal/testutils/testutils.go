package testutils

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// FakeRPC is an in-memory Datastore RPC channel for tests.
//
// It keeps entities in a map, allocates sequential ids, and serves queries by
// kind in pages of PageSize. Every request is recorded. The *Func fields
// replace the built-in behavior of one method when set.
type FakeRPC struct {
	PageSize int

	LookupFunc   func(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error)
	RunQueryFunc func(ctx context.Context, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error)
	CommitFunc   func(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error)

	m        sync.Mutex
	entities map[string]*pb.Entity
	lastID   int64
	txID     int

	Lookups       []*pb.LookupRequest
	RunQueries    []*pb.RunQueryRequest
	Commits       []*pb.CommitRequest
	Begins        []*pb.BeginTransactionRequest
	Rollbacks     []*pb.RollbackRequest
	AllocateCalls []*pb.AllocateIdsRequest
	ReserveCalls  []*pb.ReserveIdsRequest
}

func NewFakeRPC() *FakeRPC {
	return &FakeRPC{
		PageSize: 100,
		entities: make(map[string]*pb.Entity),
	}
}

// KeyID returns a stable map key for k.
func KeyID(k *pb.Key) string {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(k)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Len returns how many entities are stored.
func (f *FakeRPC) Len() int {
	f.m.Lock()
	defer f.m.Unlock()
	return len(f.entities)
}

// Store saves e as if it was committed.
func (f *FakeRPC) Store(e *pb.Entity) {
	f.m.Lock()
	defer f.m.Unlock()
	f.entities[KeyID(e.Key)] = proto.Clone(e).(*pb.Entity)
}

// Remove drops the entity of k as if it was deleted by someone else.
func (f *FakeRPC) Remove(k *pb.Key) {
	f.m.Lock()
	defer f.m.Unlock()
	delete(f.entities, KeyID(k))
}

func (f *FakeRPC) Lookup(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	f.m.Lock()
	f.Lookups = append(f.Lookups, req)
	fn := f.LookupFunc
	f.m.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	f.m.Lock()
	defer f.m.Unlock()

	resp := &pb.LookupResponse{}
	for _, k := range req.Keys {
		if e, ok := f.entities[KeyID(k)]; ok {
			resp.Found = append(resp.Found, &pb.EntityResult{Entity: proto.Clone(e).(*pb.Entity)})
		} else {
			resp.Missing = append(resp.Missing, &pb.EntityResult{Entity: &pb.Entity{Key: k}})
		}
	}
	return resp, nil
}

func (f *FakeRPC) RunQuery(ctx context.Context, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	f.m.Lock()
	f.RunQueries = append(f.RunQueries, req)
	fn := f.RunQueryFunc
	f.m.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	f.m.Lock()
	defer f.m.Unlock()

	q := req.GetQuery()
	var kind string
	if len(q.GetKind()) != 0 {
		kind = q.GetKind()[0].GetName()
	}
	keysOnly := len(q.GetProjection()) == 1 && q.GetProjection()[0].GetProperty().GetName() == "__key__"

	var matched []*pb.Entity
	for _, e := range f.entities {
		path := e.GetKey().GetPath()
		if kind != "" && path[len(path)-1].GetKind() != kind {
			continue
		}
		if e.GetKey().GetPartitionId().GetNamespaceId() != req.GetPartitionId().GetNamespaceId() {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return KeyID(matched[i].Key) < KeyID(matched[j].Key)
	})

	pos := 0
	if len(q.GetStartCursor()) == 8 {
		pos = int(binary.BigEndian.Uint64(q.GetStartCursor()))
	}
	skipped := 0
	for skipped < int(q.GetOffset()) && pos < len(matched) {
		pos++
		skipped++
	}

	n := f.PageSize
	limited := false
	if q.Limit != nil && int(q.Limit.GetValue()) <= n {
		n = int(q.Limit.GetValue())
		limited = true
	}

	batch := &pb.QueryResultBatch{SkippedResults: int32(skipped)}
	for len(batch.EntityResults) < n && pos < len(matched) {
		e := proto.Clone(matched[pos]).(*pb.Entity)
		if keysOnly {
			e.Properties = nil
		}
		pos++
		batch.EntityResults = append(batch.EntityResults, &pb.EntityResult{Entity: e, Cursor: cursor(pos)})
	}
	batch.EndCursor = cursor(pos)

	switch {
	case pos >= len(matched):
		batch.MoreResults = pb.QueryResultBatch_NO_MORE_RESULTS
	case limited && len(batch.EntityResults) == n:
		batch.MoreResults = pb.QueryResultBatch_MORE_RESULTS_AFTER_LIMIT
	default:
		batch.MoreResults = pb.QueryResultBatch_NOT_FINISHED
	}

	return &pb.RunQueryResponse{Batch: batch, Query: q}, nil
}

func cursor(pos int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(pos))
	return b
}

func (f *FakeRPC) Commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	f.m.Lock()
	f.Commits = append(f.Commits, req)
	fn := f.CommitFunc
	f.m.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	f.m.Lock()
	defer f.m.Unlock()

	resp := &pb.CommitResponse{}
	for _, m := range req.Mutations {
		result := &pb.MutationResult{}
		switch op := m.Operation.(type) {
		case *pb.Mutation_Insert:
			e := proto.Clone(op.Insert).(*pb.Entity)
			if f.complete(e.Key) {
				if _, ok := f.entities[KeyID(e.Key)]; ok {
					return nil, status.Error(codes.AlreadyExists, "entity already exists")
				}
			} else {
				f.allocate(e.Key)
				result.Key = proto.Clone(e.Key).(*pb.Key)
			}
			f.entities[KeyID(e.Key)] = e
		case *pb.Mutation_Upsert:
			e := proto.Clone(op.Upsert).(*pb.Entity)
			f.entities[KeyID(e.Key)] = e
		case *pb.Mutation_Update:
			e := proto.Clone(op.Update).(*pb.Entity)
			if _, ok := f.entities[KeyID(e.Key)]; !ok {
				return nil, status.Error(codes.NotFound, "no entity to update")
			}
			f.entities[KeyID(e.Key)] = e
		case *pb.Mutation_Delete:
			delete(f.entities, KeyID(op.Delete))
		}
		resp.MutationResults = append(resp.MutationResults, result)
	}
	return resp, nil
}

func (f *FakeRPC) complete(k *pb.Key) bool {
	leaf := k.Path[len(k.Path)-1]
	return leaf.GetId() != 0 || leaf.GetName() != ""
}

func (f *FakeRPC) allocate(k *pb.Key) {
	f.lastID++
	k.Path[len(k.Path)-1].IdType = &pb.Key_PathElement_Id{Id: f.lastID}
}

func (f *FakeRPC) BeginTransaction(ctx context.Context, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.Begins = append(f.Begins, req)
	f.txID++
	return &pb.BeginTransactionResponse{Transaction: []byte{byte(f.txID)}}, nil
}

func (f *FakeRPC) Rollback(ctx context.Context, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.Rollbacks = append(f.Rollbacks, req)
	return &pb.RollbackResponse{}, nil
}

func (f *FakeRPC) AllocateIds(ctx context.Context, req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.AllocateCalls = append(f.AllocateCalls, req)

	resp := &pb.AllocateIdsResponse{}
	for _, k := range req.Keys {
		k = proto.Clone(k).(*pb.Key)
		f.allocate(k)
		resp.Keys = append(resp.Keys, k)
	}
	return resp, nil
}

func (f *FakeRPC) ReserveIds(ctx context.Context, req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.ReserveCalls = append(f.ReserveCalls, req)
	return &pb.ReserveIdsResponse{}, nil
}
