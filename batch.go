package datastore

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Batch queues Put, Get and Delete operations and executes each group as one
// multi call when Exec is called.
type Batch struct {
	Client Client

	put    batchPut
	get    batchGet
	delete batchDelete
}

type BatchPutHandler func(key *Key, err error) error
type BatchErrHandler func(err error) error

type batchPut struct {
	m    sync.Mutex
	keys []*Key
	srcs []interface{}
	hs   []BatchPutHandler
}

type batchGet struct {
	m    sync.Mutex
	keys []*Key
	dsts []interface{}
	hs   []BatchErrHandler
}

type batchDelete struct {
	m    sync.Mutex
	keys []*Key
	hs   []BatchErrHandler
}

func (b *Batch) Put(key *Key, src interface{}, h BatchPutHandler) {
	b.put.Put(key, src, h)
}

func (b *Batch) Get(key *Key, dst interface{}, h BatchErrHandler) {
	b.get.Get(key, dst, h)
}

func (b *Batch) Delete(key *Key, h BatchErrHandler) {
	b.delete.Delete(key, h)
}

// Exec runs the queued groups concurrently. Handlers may enqueue more
// operations; Exec keeps going until the queues are empty.
func (b *Batch) Exec(ctx context.Context) error {
	var eg errgroup.Group
	var errors []error
	var m sync.Mutex
	collect := func(errs []error) error {
		if len(errs) != 0 {
			m.Lock()
			errors = append(errors, errs...)
			m.Unlock()
		}
		return nil
	}

	eg.Go(func() error { return collect(b.put.Exec(ctx, b.Client)) })
	eg.Go(func() error { return collect(b.get.Exec(ctx, b.Client)) })
	eg.Go(func() error { return collect(b.delete.Exec(ctx, b.Client)) })

	_ = eg.Wait()

	if len(errors) != 0 {
		return MultiError(errors)
	}

	if b.put.pending() || b.get.pending() || b.delete.pending() {
		return b.Exec(ctx)
	}

	return nil
}

func (b *batchPut) Put(key *Key, src interface{}, h BatchPutHandler) {
	b.m.Lock()
	defer b.m.Unlock()

	b.keys = append(b.keys, key)
	b.srcs = append(b.srcs, src)
	b.hs = append(b.hs, h)
}

func (b *batchPut) pending() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return len(b.keys) != 0
}

func (b *batchPut) Exec(ctx context.Context, client Client) []error {
	b.m.Lock()
	keys := b.keys
	srcs := b.srcs
	hs := b.hs
	b.keys = nil
	b.srcs = nil
	b.hs = nil
	b.m.Unlock()

	if len(keys) == 0 {
		return nil
	}

	newKeys, err := client.PutMulti(ctx, keys, srcs)

	if merr, ok := err.(MultiError); ok {
		trimmedError := make([]error, 0, len(merr))
		for idx, err := range merr {
			h := hs[idx]
			if h != nil {
				var newKey *Key
				if idx < len(newKeys) {
					newKey = newKeys[idx]
				}
				err = h(newKey, err)
			}
			if err != nil {
				trimmedError = append(trimmedError, err)
			}
		}
		return trimmedError
	} else if err != nil {
		for _, h := range hs {
			if h != nil {
				h(nil, err)
			}
		}
		return []error{err}
	}

	errs := make([]error, 0, len(newKeys))
	for idx, newKey := range newKeys {
		h := hs[idx]
		if h != nil {
			if err := h(newKey, nil); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) != 0 {
		return errs
	}

	return nil
}

func (b *batchGet) Get(key *Key, dst interface{}, h BatchErrHandler) {
	b.m.Lock()
	defer b.m.Unlock()

	b.keys = append(b.keys, key)
	b.dsts = append(b.dsts, dst)
	b.hs = append(b.hs, h)
}

func (b *batchGet) pending() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return len(b.keys) != 0
}

func (b *batchGet) Exec(ctx context.Context, client Client) []error {
	b.m.Lock()
	keys := b.keys
	dsts := b.dsts
	hs := b.hs
	b.keys = nil
	b.dsts = nil
	b.hs = nil
	b.m.Unlock()

	if len(keys) == 0 {
		return nil
	}

	err := client.GetMulti(ctx, keys, dsts)
	return dispatchErrors(hs, err)
}

func (b *batchDelete) Delete(key *Key, h BatchErrHandler) {
	b.m.Lock()
	defer b.m.Unlock()

	b.keys = append(b.keys, key)
	b.hs = append(b.hs, h)
}

func (b *batchDelete) pending() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return len(b.keys) != 0
}

func (b *batchDelete) Exec(ctx context.Context, client Client) []error {
	b.m.Lock()
	keys := b.keys
	hs := b.hs
	b.keys = nil
	b.hs = nil
	b.m.Unlock()

	if len(keys) == 0 {
		return nil
	}

	err := client.DeleteMulti(ctx, keys)
	return dispatchErrors(hs, err)
}

// dispatchErrors hands each element's error to its handler and returns what
// the handlers did not absorb.
func dispatchErrors(hs []BatchErrHandler, err error) []error {
	if merr, ok := err.(MultiError); ok {
		trimmedError := make([]error, 0, len(merr))
		for idx, err := range merr {
			h := hs[idx]
			if h != nil {
				err = h(err)
			}
			if err != nil {
				trimmedError = append(trimmedError, err)
			}
		}
		return trimmedError
	} else if err != nil {
		for _, h := range hs {
			if h != nil {
				h(err)
			}
		}
		return []error{err}
	}

	errs := make([]error, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			if err := h(nil); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) != 0 {
		return errs
	}

	return nil
}
