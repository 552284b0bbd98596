package clouddatastore

import (
	"context"
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	w "go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/shared"
)

var _ w.Transaction = (*transactionImpl)(nil)
var _ w.Commit = (*commitImpl)(nil)
var _ w.PendingKey = (*pendingKeyImpl)(nil)

type transactionImpl struct {
	d   *datastoreImpl
	ctx context.Context
	id  []byte

	m         sync.Mutex
	mutations []*pb.Mutation
	pending   []*pendingKeyImpl
	finished  bool
}

type pendingKeyImpl struct {
	key *w.Key
	idx int // index of the mutation that stores this key
	tx  *transactionImpl
}

type commitImpl struct {
	tx      *transactionImpl
	results []*pb.MutationResult
}

func (d *datastoreImpl) NewTransaction(ctx context.Context, opts ...w.TransactionOption) (w.Transaction, error) {
	settings := &w.TransactionSettings{}
	for _, opt := range opts {
		opt.ApplyTx(settings)
	}

	return d.beginTransaction(ctx, settings)
}

func (d *datastoreImpl) beginTransaction(ctx context.Context, settings *w.TransactionSettings) (*transactionImpl, error) {
	txOpts := &pb.TransactionOptions{}
	if settings.ReadOnly {
		txOpts.Mode = &pb.TransactionOptions_ReadOnly_{ReadOnly: &pb.TransactionOptions_ReadOnly{}}
	} else {
		txOpts.Mode = &pb.TransactionOptions_ReadWrite_{ReadWrite: &pb.TransactionOptions_ReadWrite{
			PreviousTransaction: settings.PreviousTransaction,
		}}
	}

	next, info := d.chain(ctx)
	resp, err := next.BeginTransaction(info, &pb.BeginTransactionRequest{
		ProjectId:          d.projectID,
		TransactionOptions: txOpts,
	})
	if err != nil {
		return nil, err
	}

	return &transactionImpl{
		d:   d,
		ctx: ctx,
		id:  resp.GetTransaction(),
	}, nil
}

func (d *datastoreImpl) RunInTransaction(ctx context.Context, f func(tx w.Transaction) error, opts ...w.TransactionOption) (w.Commit, error) {
	settings := &w.TransactionSettings{Attempts: 1}
	for _, opt := range opts {
		opt.ApplyTx(settings)
	}

	var prev []byte
	for attempt := 1; ; attempt++ {
		settings.PreviousTransaction = prev
		tx, err := d.beginTransaction(ctx, settings)
		if err != nil {
			return nil, err
		}

		if err := f(tx); err != nil {
			if rerr := tx.Rollback(); rerr != nil && rerr != w.ErrTransactionFinished {
				d.logf(ctx, "clouddatastore.RunInTransaction: rollback failed: %v", rerr)
			}
			return nil, err
		}

		commit, err := tx.Commit()
		if err == w.ErrConcurrentTransaction && attempt < settings.Attempts {
			d.logf(ctx, "clouddatastore.RunInTransaction: attempt %d aborted, retrying", attempt)
			prev = tx.id
			continue
		} else if err != nil {
			return nil, err
		}

		return commit, nil
	}
}

func (tx *transactionImpl) ID() []byte {
	return tx.id
}

func (tx *transactionImpl) readOptions() *pb.ReadOptions {
	return &pb.ReadOptions{
		ConsistencyType: &pb.ReadOptions_Transaction{Transaction: tx.id},
	}
}

func (tx *transactionImpl) isFinished() bool {
	tx.m.Lock()
	defer tx.m.Unlock()
	return tx.finished
}

func (tx *transactionImpl) Get(key *w.Key, dst interface{}) error {
	err := tx.GetMulti([]*w.Key{key}, []interface{}{dst})
	if merr, ok := err.(w.MultiError); ok {
		return merr[0]
	} else if err != nil {
		return err
	}

	return nil
}

func (tx *transactionImpl) GetMulti(keys []*w.Key, dst interface{}) error {
	if tx.isFinished() {
		return w.ErrTransactionFinished
	}

	return shared.GetMultiOps(tx.ctx, keys, dst, func(keys []*w.Key) ([]*w.Entity, error) {
		return tx.d.lookup(tx.ctx, keys, tx.readOptions())
	})
}

func (tx *transactionImpl) Put(key *w.Key, src interface{}) (w.PendingKey, error) {
	pKeys, err := tx.PutMulti([]*w.Key{key}, []interface{}{src})
	if merr, ok := err.(w.MultiError); ok {
		return nil, merr[0]
	} else if err != nil {
		return nil, err
	}

	return pKeys[0], nil
}

func (tx *transactionImpl) PutMulti(keys []*w.Key, src interface{}) ([]w.PendingKey, error) {
	if tx.isFinished() {
		return nil, w.ErrTransactionFinished
	}

	var pKeys []w.PendingKey
	err := shared.PutMultiOps(tx.ctx, keys, src, func(entities []*w.Entity) error {
		mutations, err := putMutations(tx.d.projectID, entities)
		if err != nil {
			return err
		}

		tx.m.Lock()
		defer tx.m.Unlock()

		pKeys = make([]w.PendingKey, 0, len(keys))
		for idx, m := range mutations {
			pk := &pendingKeyImpl{
				key: entities[idx].Key,
				idx: len(tx.mutations),
				tx:  tx,
			}
			tx.mutations = append(tx.mutations, m)
			tx.pending = append(tx.pending, pk)
			pKeys = append(pKeys, pk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pKeys, nil
}

func (tx *transactionImpl) Delete(key *w.Key) error {
	err := tx.DeleteMulti([]*w.Key{key})
	if merr, ok := err.(w.MultiError); ok {
		return merr[0]
	} else if err != nil {
		return err
	}

	return nil
}

func (tx *transactionImpl) DeleteMulti(keys []*w.Key) error {
	if tx.isFinished() {
		return w.ErrTransactionFinished
	}

	mutations, err := deleteMutations(tx.d.projectID, keys)
	if err != nil {
		return err
	}

	tx.m.Lock()
	defer tx.m.Unlock()
	tx.mutations = append(tx.mutations, mutations...)

	return nil
}

func (tx *transactionImpl) Commit() (w.Commit, error) {
	tx.m.Lock()
	if tx.finished {
		tx.m.Unlock()
		return nil, w.ErrTransactionFinished
	}
	tx.finished = true
	mutations := tx.mutations
	tx.m.Unlock()

	resp, err := tx.d.commit(tx.ctx, &pb.CommitRequest{
		ProjectId:           tx.d.projectID,
		Mode:                pb.CommitRequest_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: tx.id},
		Mutations:           mutations,
	})
	if err != nil {
		return nil, toWrapperError(err)
	}

	return &commitImpl{tx: tx, results: resp.GetMutationResults()}, nil
}

func (tx *transactionImpl) Rollback() error {
	tx.m.Lock()
	if tx.finished {
		tx.m.Unlock()
		return w.ErrTransactionFinished
	}
	tx.finished = true
	tx.m.Unlock()

	next, info := tx.d.chain(tx.ctx)
	_, err := next.Rollback(info, &pb.RollbackRequest{
		ProjectId:   tx.d.projectID,
		Transaction: tx.id,
	})
	return err
}

func (p *pendingKeyImpl) Pending() *w.Key {
	return p.key
}

// Key resolves a PendingKey returned by Put of the committed transaction.
// It returns nil for keys that belong to another transaction.
func (c *commitImpl) Key(p w.PendingKey) *w.Key {
	pk, ok := p.(*pendingKeyImpl)
	if !ok || pk.tx != c.tx {
		return nil
	}
	if pk.idx < len(c.results) {
		if pbKey := c.results[pk.idx].GetKey(); pbKey != nil {
			key, err := protoToKey(pbKey)
			if err == nil {
				return key
			}
		}
	}
	return pk.key
}
