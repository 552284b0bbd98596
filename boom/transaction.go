package boom

import (
	"context"
	"reflect"
	"sync"

	"go.mercari.io/dsrpc"
)

// Transaction is a datastore.Transaction that takes tagged structs.
// Ids allocated at commit are written back to the structs passed to Put.
type Transaction struct {
	bm      *Boom
	tx      datastore.Transaction
	pending pendingStructs
}

// pendingStructs remembers the structs put with an incomplete key until the
// commit tells their ids.
type pendingStructs struct {
	m    sync.Mutex
	list []pendingStruct
}

type pendingStruct struct {
	pKey datastore.PendingKey
	dst  interface{}
}

func (ps *pendingStructs) add(keys []*datastore.Key, pKeys []datastore.PendingKey, src interface{}) {
	v := reflect.Indirect(reflect.ValueOf(src))

	ps.m.Lock()
	defer ps.m.Unlock()
	for idx, key := range keys {
		if !key.Incomplete() {
			continue
		}
		ps.list = append(ps.list, pendingStruct{pKey: pKeys[idx], dst: v.Index(idx).Interface()})
	}
}

func (ps *pendingStructs) resolve(bm *Boom, commit datastore.Commit) error {
	ps.m.Lock()
	defer ps.m.Unlock()

	list := ps.list
	ps.list = nil
	for _, p := range list {
		if err := bm.setStructKey(p.dst, commit.Key(p.pKey)); err != nil {
			return err
		}
	}

	return nil
}

func (tx *Transaction) Boom() *Boom {
	return tx.bm
}

// ID returns the id of the underlying Datastore transaction.
func (tx *Transaction) ID() []byte {
	return tx.tx.ID()
}

func (tx *Transaction) Kind(src interface{}) string {
	return tx.bm.Kind(src)
}

func (tx *Transaction) Key(src interface{}) *datastore.Key {
	return tx.bm.Key(src)
}

func (tx *Transaction) KeyError(src interface{}) (*datastore.Key, error) {
	return tx.bm.KeyError(src)
}

func (tx *Transaction) Get(dst interface{}) error {
	return singleError(tx.GetMulti([]interface{}{dst}))
}

func (tx *Transaction) GetMulti(dst interface{}) error {
	keys, err := tx.bm.extractKeys(dst)
	if err != nil {
		return err
	}

	return tx.tx.GetMulti(keys, dst)
}

// GetAll runs q inside the transaction and sets the key fields of dst.
func (tx *Transaction) GetAll(ctx context.Context, q *datastore.Query, dst interface{}) ([]*datastore.Key, error) {
	return tx.bm.GetAll(ctx, q.Transaction(tx.tx), dst)
}

func (tx *Transaction) Put(src interface{}) (datastore.PendingKey, error) {
	pKeys, err := tx.PutMulti([]interface{}{src})
	if err = singleError(err); err != nil {
		return nil, err
	}

	return pKeys[0], nil
}

// PutMulti buffers src. The id fields of structs with an incomplete key are
// set by Commit.
func (tx *Transaction) PutMulti(src interface{}) ([]datastore.PendingKey, error) {
	keys, err := tx.bm.extractKeys(src)
	if err != nil {
		return nil, err
	}

	pKeys, err := tx.tx.PutMulti(keys, src)
	if err != nil {
		return nil, err
	}
	tx.pending.add(keys, pKeys, src)

	return pKeys, nil
}

func (tx *Transaction) Delete(src interface{}) error {
	return singleError(tx.DeleteMulti([]interface{}{src}))
}

func (tx *Transaction) DeleteMulti(src interface{}) error {
	keys, err := tx.bm.extractKeys(src)
	if err != nil {
		return err
	}

	return tx.tx.DeleteMulti(keys)
}

func (tx *Transaction) Commit() (datastore.Commit, error) {
	commit, err := tx.tx.Commit()
	if err != nil {
		return nil, err
	}

	if err := tx.pending.resolve(tx.bm, commit); err != nil {
		return nil, err
	}

	return commit, nil
}

func (tx *Transaction) Rollback() error {
	return tx.tx.Rollback()
}
