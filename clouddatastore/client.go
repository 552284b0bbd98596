package clouddatastore

import (
	"context"
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	w "go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ w.Client = (*datastoreImpl)(nil)

// DefaultMaxDeferredRetries is how many times a lookup is re-issued for
// deferred keys before the call fails with ErrDeferredLookupExhausted.
const DefaultMaxDeferredRetries = 16

type datastoreImpl struct {
	projectID          string
	namespace          string
	rpc                w.RPC
	conn               *grpc.ClientConn // owned; closed by Close
	logf               func(ctx context.Context, format string, args ...interface{})
	maxDeferredRetries int

	m   sync.Mutex
	mws []w.Middleware
}

func newClient(settings *internal.ClientSettings, rpc w.RPC, conn *grpc.ClientConn) *datastoreImpl {
	d := &datastoreImpl{
		projectID:          settings.ProjectID,
		namespace:          settings.Namespace,
		rpc:                rpc,
		conn:               conn,
		logf:               settings.Logf,
		maxDeferredRetries: settings.MaxDeferredRetries,
	}
	if d.logf == nil {
		d.logf = func(ctx context.Context, format string, args ...interface{}) {}
	}
	if d.maxDeferredRetries <= 0 {
		d.maxDeferredRetries = DefaultMaxDeferredRetries
	}
	return d
}

// chain returns the entry point of the middleware chain for one call.
func (d *datastoreImpl) chain(ctx context.Context) (w.Middleware, *w.MiddlewareInfo) {
	d.m.Lock()
	mws := make([]w.Middleware, len(d.mws))
	copy(mws, d.mws)
	d.m.Unlock()

	info := &w.MiddlewareInfo{
		Context:   ctx,
		ProjectID: d.projectID,
	}
	cb := shared.NewMiddlewareBridge(info, d.rpc, mws)
	return cb, cb.Info
}

func (d *datastoreImpl) ProjectID() string {
	return d.projectID
}

func (d *datastoreImpl) Get(ctx context.Context, key *w.Key, dst interface{}) error {
	err := d.GetMulti(ctx, []*w.Key{key}, []interface{}{dst})
	if merr, ok := err.(w.MultiError); ok {
		return merr[0]
	} else if err != nil {
		return err
	}

	return nil
}

func (d *datastoreImpl) GetMulti(ctx context.Context, keys []*w.Key, dst interface{}) error {
	return shared.GetMultiOps(ctx, keys, dst, func(keys []*w.Key) ([]*w.Entity, error) {
		return d.lookup(ctx, keys, nil)
	})
}

// lookup fetches the entities for keys, re-issuing the lookup for deferred
// keys until none remain. The result is aligned with keys; nil marks a
// missing entity.
func (d *datastoreImpl) lookup(ctx context.Context, keys []*w.Key, readOptions *pb.ReadOptions) ([]*w.Entity, error) {
	pbKeys := make([]*pb.Key, len(keys))
	for idx, key := range keys {
		if !key.Valid() || key.Incomplete() {
			return nil, w.ErrInvalidKey
		}
		pbKeys[idx] = keyToProto(d.projectID, key)
	}

	found := make(map[string]*w.Entity, len(keys))
	pending := pbKeys
	for try := 0; len(pending) != 0; try++ {
		if try > d.maxDeferredRetries {
			d.logf(ctx, "clouddatastore.lookup: %d keys still deferred after %d lookups", len(pending), try)
			return nil, w.ErrDeferredLookupExhausted
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, info := d.chain(ctx)
		resp, err := next.Lookup(info, &pb.LookupRequest{
			ProjectId:   d.projectID,
			ReadOptions: readOptions,
			Keys:        pending,
		})
		if err != nil {
			return nil, err
		}

		for _, result := range resp.GetFound() {
			e, err := protoToEntity(result.GetEntity())
			if err != nil {
				return nil, err
			}
			found[wireKeyID(result.GetEntity().GetKey())] = e
		}

		pending = resp.GetDeferred()
		if len(pending) != 0 {
			d.logf(ctx, "clouddatastore.lookup: %d keys deferred, re-issuing lookup", len(pending))
		}
	}

	entities := make([]*w.Entity, len(keys))
	for idx, pbKey := range pbKeys {
		e := found[wireKeyID(pbKey)]
		if e != nil {
			// every slot owns its key, even for duplicated keys
			e = &w.Entity{Key: keys[idx], Properties: e.Properties}
		}
		entities[idx] = e
	}

	return entities, nil
}

func (d *datastoreImpl) Put(ctx context.Context, key *w.Key, src interface{}) (*w.Key, error) {
	keys, err := d.PutMulti(ctx, []*w.Key{key}, []interface{}{src})
	if merr, ok := err.(w.MultiError); ok {
		return nil, merr[0]
	} else if err != nil {
		return nil, err
	}

	return keys[0], nil
}

func (d *datastoreImpl) PutMulti(ctx context.Context, keys []*w.Key, src interface{}) ([]*w.Key, error) {
	var retKeys []*w.Key
	err := shared.PutMultiOps(ctx, keys, src, func(entities []*w.Entity) error {
		mutations, err := putMutations(d.projectID, entities)
		if err != nil {
			return err
		}

		resp, err := d.commit(ctx, &pb.CommitRequest{
			ProjectId: d.projectID,
			Mode:      pb.CommitRequest_NON_TRANSACTIONAL,
			Mutations: mutations,
		})
		if err != nil {
			return err
		}

		retKeys, err = resultKeys(keys, resp)
		return err
	})
	if err != nil {
		return nil, err
	}

	return retKeys, nil
}

// putMutations classifies each entity: an incomplete key is an Insert (the
// service allocates the identifier), a complete key an Upsert.
func putMutations(projectID string, entities []*w.Entity) ([]*pb.Mutation, error) {
	mutations := make([]*pb.Mutation, 0, len(entities))
	for _, e := range entities {
		if !e.Key.Valid() {
			return nil, w.ErrInvalidKey
		}
		pe, err := entityToProto(projectID, e)
		if err != nil {
			return nil, err
		}
		m := &pb.Mutation{}
		if e.Key.Incomplete() {
			m.Operation = &pb.Mutation_Insert{Insert: pe}
		} else {
			m.Operation = &pb.Mutation_Upsert{Upsert: pe}
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}

func deleteMutations(projectID string, keys []*w.Key) ([]*pb.Mutation, error) {
	mutations := make([]*pb.Mutation, 0, len(keys))
	for _, key := range keys {
		if !key.Valid() || key.Incomplete() {
			return nil, w.ErrInvalidKey
		}
		mutations = append(mutations, &pb.Mutation{
			Operation: &pb.Mutation_Delete{Delete: keyToProto(projectID, key)},
		})
	}
	return mutations, nil
}

// resultKeys pairs the requested keys with the mutation results. A result
// without a key means the requested key was used as is.
func resultKeys(keys []*w.Key, resp *pb.CommitResponse) ([]*w.Key, error) {
	results := resp.GetMutationResults()
	retKeys := make([]*w.Key, len(keys))
	for idx, key := range keys {
		retKeys[idx] = key
		if idx >= len(results) || results[idx].GetKey() == nil {
			continue
		}
		k, err := protoToKey(results[idx].GetKey())
		if err != nil {
			return nil, err
		}
		retKeys[idx] = k
	}
	return retKeys, nil
}

func (d *datastoreImpl) commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	next, info := d.chain(ctx)
	return next.Commit(info, req)
}

func (d *datastoreImpl) Delete(ctx context.Context, key *w.Key) error {
	err := d.DeleteMulti(ctx, []*w.Key{key})
	if merr, ok := err.(w.MultiError); ok {
		return merr[0]
	} else if err != nil {
		return err
	}

	return nil
}

func (d *datastoreImpl) DeleteMulti(ctx context.Context, keys []*w.Key) error {
	if len(keys) == 0 {
		return nil
	}

	mutations, err := deleteMutations(d.projectID, keys)
	if err != nil {
		return err
	}

	_, err = d.commit(ctx, &pb.CommitRequest{
		ProjectId: d.projectID,
		Mode:      pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: mutations,
	})
	return err
}

func (d *datastoreImpl) AllocateIDs(ctx context.Context, keys []*w.Key) ([]*w.Key, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	for _, key := range keys {
		if !key.Valid() || !key.Incomplete() {
			return nil, w.ErrInvalidKey
		}
	}

	next, info := d.chain(ctx)
	resp, err := next.AllocateIds(info, &pb.AllocateIdsRequest{
		ProjectId: d.projectID,
		Keys:      keysToProto(d.projectID, keys),
	})
	if err != nil {
		return nil, err
	}

	return protoToKeys(resp.GetKeys())
}

func (d *datastoreImpl) ReserveIDs(ctx context.Context, keys []*w.Key) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		if !key.Valid() || key.Incomplete() {
			return w.ErrInvalidKey
		}
	}

	next, info := d.chain(ctx)
	_, err := next.ReserveIds(info, &pb.ReserveIdsRequest{
		ProjectId: d.projectID,
		Keys:      keysToProto(d.projectID, keys),
	})
	return err
}

func (d *datastoreImpl) Batch() *w.Batch {
	return &w.Batch{Client: d}
}

func (d *datastoreImpl) AppendMiddleware(mw w.Middleware) {
	d.m.Lock()
	defer d.m.Unlock()

	d.mws = append(d.mws, mw)
}

func (d *datastoreImpl) RemoveMiddleware(mw w.Middleware) bool {
	d.m.Lock()
	defer d.m.Unlock()

	list := make([]w.Middleware, 0, len(d.mws))
	found := false
	for _, old := range d.mws {
		if old == mw {
			found = true
			continue
		}
		list = append(list, old)
	}
	d.mws = list

	return found
}

func (d *datastoreImpl) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func toWrapperError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Aborted {
		return w.ErrConcurrentTransaction
	}
	return err
}
