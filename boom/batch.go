package boom

import (
	"sync"

	"go.mercari.io/dsrpc"
)

// Batch is a datastore.Batch that takes tagged structs.
type Batch struct {
	m  sync.Mutex
	bm *Boom
	b  *datastore.Batch

	earlyErrors []error
}

func (b *Batch) earlyError(err error) {
	b.m.Lock()
	b.earlyErrors = append(b.earlyErrors, err)
	b.m.Unlock()
}

func (b *Batch) Get(dst interface{}, h datastore.BatchErrHandler) {
	keys, err := b.bm.extractKeys([]interface{}{dst})
	if err != nil {
		b.earlyError(err)
		return
	}

	b.b.Get(keys[0], dst, h)
}

// Put queues src. On success the stored key is written back to src before
// h is called.
func (b *Batch) Put(src interface{}, h datastore.BatchPutHandler) {
	keys, err := b.bm.extractKeys([]interface{}{src})
	if err != nil {
		b.earlyError(err)
		return
	}

	b.b.Put(keys[0], src, func(key *datastore.Key, err error) error {
		if err == nil {
			err = b.bm.setStructKey(src, key)
		}
		if h != nil {
			return h(key, err)
		}
		return err
	})
}

func (b *Batch) Delete(src interface{}, h datastore.BatchErrHandler) {
	keys, err := b.bm.extractKeys([]interface{}{src})
	if err != nil {
		b.earlyError(err)
		return
	}

	b.b.Delete(keys[0], h)
}

func (b *Batch) Exec() error {
	err := b.b.Exec(b.bm.Context)

	b.m.Lock()
	defer b.m.Unlock()

	if merr, ok := err.(datastore.MultiError); ok {
		merr = append(merr, b.earlyErrors...)
		b.earlyErrors = nil
		if len(merr) == 0 {
			return nil
		}
		return merr
	} else if err != nil {
		return err
	} else if len(b.earlyErrors) != 0 {
		errs := b.earlyErrors
		b.earlyErrors = nil
		return datastore.MultiError(errs)
	}

	return nil
}
