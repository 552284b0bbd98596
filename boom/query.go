package boom

import "go.mercari.io/dsrpc"

// NewQuery returns a query over the kind of src. When src has a parent field
// set, the query is restricted to that ancestor.
func (bm *Boom) NewQuery(src interface{}) (*datastore.Query, error) {
	key, err := bm.KeyError(src)
	if err != nil {
		return nil, err
	}

	q := datastore.NewQuery(key.Kind)
	if key.Parent != nil {
		q = q.Ancestor(key.Parent)
	}
	return q, nil
}

// Iterator sets the key fields of every loaded struct. With a keys-only
// query only the key fields of dst are filled.
type Iterator struct {
	bm *Boom
	it datastore.Iterator
}

func (it *Iterator) Next(dst interface{}) (*datastore.Key, error) {
	key, err := it.it.Next(dst)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return key, nil
	}

	if err := it.bm.setStructKey(dst, key); err != nil {
		return nil, err
	}

	return key, nil
}

func (it *Iterator) Cursor() (datastore.Cursor, error) {
	return it.it.Cursor()
}
