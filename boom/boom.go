package boom

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.mercari.io/dsrpc"
)

var typeOfKeyPtr = reflect.TypeOf((*datastore.Key)(nil))

// Boom derives entity keys from tagged struct fields.
type Boom struct {
	Context context.Context
	Client  datastore.Client
}

func (bm *Boom) extractKeys(src interface{}) ([]*datastore.Key, error) {
	v := reflect.Indirect(reflect.ValueOf(src))
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("boom: value must be a slice or pointer-to-slice or key-slice")
	}
	l := v.Len()

	keys := make([]*datastore.Key, 0, l)
	for i := 0; i < l; i++ {
		obj := v.Index(i).Interface()

		if key, ok := obj.(*datastore.Key); ok {
			keys = append(keys, key)
			continue
		}

		key, err := bm.KeyError(obj)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func tagOf(tf reflect.StructField) []string {
	tag := tf.Tag.Get("boom")
	if tag == "" {
		tag = tf.Tag.Get("goon")
	}
	return strings.SplitN(tag, ",", 2)
}

func (bm *Boom) setStructKey(src interface{}, key *datastore.Key) error {
	v := reflect.ValueOf(src)
	if k := v.Kind(); k != reflect.Ptr {
		return fmt.Errorf("boom: Expected pointer to struct, got instead: %v", k)
	}

	v = reflect.Indirect(v)
	t := v.Type()
	if k := t.Kind(); k != reflect.Struct {
		return fmt.Errorf("boom: Expected struct, got instead: %v", k)
	}

	idSet := false
	kindSet := false
	parentSet := false
	for i := 0; i < v.NumField(); i++ {
		tf := t.Field(i)
		vf := v.Field(i)

		if !vf.CanSet() {
			continue
		}

		tagValues := tagOf(tf)
		switch tagValues[0] {
		case "id":
			if idSet {
				return fmt.Errorf("boom: Only one field may be marked id")
			}

			switch vf.Kind() {
			case reflect.Int64:
				vf.SetInt(key.ID)
			case reflect.String:
				vf.SetString(key.Name)
			}
			idSet = true

		case "kind":
			if kindSet {
				return fmt.Errorf("boom: Only one field may be marked kind")
			}
			if vf.Kind() == reflect.String {
				if (len(tagValues) <= 1 || key.Kind != tagValues[1]) && t.Name() != key.Kind {
					vf.SetString(key.Kind)
				}
				kindSet = true
			}

		case "parent":
			if parentSet {
				return fmt.Errorf("boom: Only one field may be marked parent")
			}
			if tf.Type == typeOfKeyPtr {
				vf.Set(reflect.ValueOf(key.Parent))
				parentSet = true
			}
		}
	}

	if !idSet {
		return fmt.Errorf("boom: Could not set id field")
	}

	return nil
}

// Kind returns the kind of src's key, or "" when src has no valid key fields.
func (bm *Boom) Kind(src interface{}) string {
	key, err := bm.KeyError(src)
	if err != nil {
		return ""
	}

	return key.Kind
}

func (bm *Boom) Key(src interface{}) *datastore.Key {
	key, err := bm.KeyError(src)
	if err != nil {
		return nil
	}

	return key
}

// KeyError builds the key of src from its boom tagged fields. A zero id
// field gives an incomplete key.
func (bm *Boom) KeyError(src interface{}) (*datastore.Key, error) {
	v := reflect.Indirect(reflect.ValueOf(src))
	t := v.Type()

	if k := t.Kind(); k != reflect.Struct {
		return nil, fmt.Errorf("boom: Expected struct, got instead: %v", k)
	}

	var parent *datastore.Key
	var keyName string
	var keyID int64
	var kind string
	idFound := false

	for i := 0; i < v.NumField(); i++ {
		tf := t.Field(i)
		vf := v.Field(i)

		tagValues := tagOf(tf)
		switch tagValues[0] {
		case "id":
			if idFound {
				return nil, fmt.Errorf("boom: Only one field may be marked id")
			}
			switch vf.Kind() {
			case reflect.Int64:
				keyID = vf.Int()
			case reflect.String:
				keyName = vf.String()
			default:
				return nil, fmt.Errorf("boom: ID field must be int64 or string in %v", t.Name())
			}
			idFound = true

		case "kind":
			if vf.Kind() == reflect.String {
				if kind != "" {
					return nil, fmt.Errorf("boom: Only one field may be marked kind")
				}
				kind = vf.String()
				if kind == "" && len(tagValues) > 1 && tagValues[1] != "" {
					kind = tagValues[1]
				}
			}

		case "parent":
			if tf.Type == typeOfKeyPtr {
				if parent != nil {
					return nil, fmt.Errorf("boom: Only one field may be marked parent")
				}
				parent, _ = vf.Interface().(*datastore.Key)
			}
		}
	}

	if !idFound {
		return nil, fmt.Errorf("boom: No id field in %v", t.Name())
	}
	if kind == "" {
		kind = t.Name()
	}

	if keyName != "" {
		return datastore.NameKey(kind, keyName, parent), nil
	}
	if keyID == 0 {
		return datastore.IncompleteKey(kind, parent), nil
	}

	return datastore.IDKey(kind, keyID, parent), nil
}

// singleError unwraps the MultiError of a one element call.
func singleError(err error) error {
	if merr, ok := err.(datastore.MultiError); ok && len(merr) == 1 {
		return merr[0]
	}
	return err
}

func (bm *Boom) Get(ctx context.Context, dst interface{}) error {
	return singleError(bm.GetMulti(ctx, []interface{}{dst}))
}

func (bm *Boom) GetMulti(ctx context.Context, dst interface{}) error {
	keys, err := bm.extractKeys(dst)
	if err != nil {
		return err
	}

	return bm.Client.GetMulti(ctx, keys, dst)
}

func (bm *Boom) Put(ctx context.Context, src interface{}) (*datastore.Key, error) {
	keys, err := bm.PutMulti(ctx, []interface{}{src})
	if err = singleError(err); err != nil {
		return nil, err
	}

	return keys[0], nil
}

// PutMulti stores src and writes allocated ids back to the id fields.
func (bm *Boom) PutMulti(ctx context.Context, src interface{}) ([]*datastore.Key, error) {
	keys, err := bm.extractKeys(src)
	if err != nil {
		return nil, err
	}

	keys, err = bm.Client.PutMulti(ctx, keys, src)
	if err != nil {
		return nil, err
	}

	v := reflect.Indirect(reflect.ValueOf(src))
	for idx, key := range keys {
		err = bm.setStructKey(v.Index(idx).Interface(), key)
		if err != nil {
			return nil, err
		}
	}

	return keys, nil
}

func (bm *Boom) Delete(ctx context.Context, src interface{}) error {
	return singleError(bm.DeleteMulti(ctx, []interface{}{src}))
}

func (bm *Boom) DeleteMulti(ctx context.Context, src interface{}) error {
	keys, err := bm.extractKeys(src)
	if err != nil {
		return err
	}

	return bm.Client.DeleteMulti(ctx, keys)
}

func (bm *Boom) NewTransaction(ctx context.Context, opts ...datastore.TransactionOption) (*Transaction, error) {
	tx, err := bm.Client.NewTransaction(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Transaction{bm: bm, tx: tx}, nil
}

func (bm *Boom) RunInTransaction(ctx context.Context, f func(tx *Transaction) error, opts ...datastore.TransactionOption) (datastore.Commit, error) {
	var tx *Transaction
	commit, err := bm.Client.RunInTransaction(ctx, func(origTx datastore.Transaction) error {
		// a retried attempt starts over with no pending structs
		tx = &Transaction{bm: bm, tx: origTx}
		return f(tx)
	}, opts...)
	if err != nil {
		return nil, err
	}

	if err := tx.pending.resolve(bm, commit); err != nil {
		return nil, err
	}

	return commit, nil
}

func (bm *Boom) Run(ctx context.Context, q *datastore.Query) *Iterator {
	it := bm.Client.Run(ctx, q)
	return &Iterator{bm: bm, it: it}
}

func (bm *Boom) Count(ctx context.Context, q *datastore.Query) (int, error) {
	return bm.Client.Count(ctx, q)
}

func (bm *Boom) GetAll(ctx context.Context, q *datastore.Query, dst interface{}) ([]*datastore.Key, error) {
	keys, err := bm.Client.GetAll(ctx, q, dst)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return keys, nil
	}

	v := reflect.Indirect(reflect.ValueOf(dst))
	for idx, key := range keys {
		elem := v.Index(idx)
		if elem.Kind() != reflect.Ptr {
			elem = elem.Addr()
		}
		err = bm.setStructKey(elem.Interface(), key)
		if err != nil {
			return nil, err
		}
	}

	return keys, nil
}

func (bm *Boom) Batch() *Batch {
	return &Batch{bm: bm, b: bm.Client.Batch()}
}
