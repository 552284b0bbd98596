package shared

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.mercari.io/dsrpc"
)

var typeOfPropertyLoadSaver = reflect.TypeOf((*datastore.PropertyLoadSaver)(nil)).Elem()
var typeOfPropertyList = reflect.TypeOf(datastore.PropertyList(nil))

// getOps returns one entity per key, nil for keys that have no entity.
type getOps func(keys []*datastore.Key) ([]*datastore.Entity, error)
type putOps func(entities []*datastore.Entity) error

// GetMultiOps loads the entities fetched by ops into dst, which must be a
// slice with the same length as keys.
func GetMultiOps(ctx context.Context, keys []*datastore.Key, dst interface{}, ops getOps) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Slice {
		return errors.New("datastore: dst has invalid type")
	}
	if len(keys) != v.Len() {
		return errors.New("datastore: keys and dst slices have different length")
	}
	if len(keys) == 0 {
		return nil
	}
	if v.Type() == typeOfPropertyList {
		return datastore.ErrInvalidEntityType
	}

	entities, err := ops(keys)
	if err != nil {
		return err
	}
	if len(entities) != len(keys) {
		panic(fmt.Sprintf("unexpected entities length: %d, expected: %d", len(entities), len(keys)))
	}

	foundError := false
	merr := make(datastore.MultiError, len(keys))
	for idx := range keys {
		if entities[idx] == nil {
			merr[idx] = datastore.ErrNoSuchEntity
			foundError = true
			continue
		}

		elem, err := loadTarget(v.Index(idx))
		if err != nil {
			merr[idx] = err
			foundError = true
			continue
		}

		if err = datastore.LoadEntity(ctx, elem.Interface(), entities[idx]); err != nil {
			merr[idx] = err
			foundError = true
		}
	}

	if foundError {
		return merr
	}

	return nil
}

// loadTarget returns a pointer-ish value to load into for slice element elem.
func loadTarget(elem reflect.Value) (reflect.Value, error) {
	if elem.Kind() == reflect.Interface {
		if elem.IsNil() {
			return reflect.Value{}, datastore.ErrInvalidEntityType
		}
		elem = elem.Elem()
		if elem.Kind() != reflect.Ptr || elem.IsNil() {
			return reflect.Value{}, datastore.ErrInvalidEntityType
		}
		return elem, nil
	}

	elemType := elem.Type()
	switch {
	case reflect.PtrTo(elemType).Implements(typeOfPropertyLoadSaver):
		return elem.Addr(), nil
	case elemType.Kind() == reflect.Struct:
		return elem.Addr(), nil
	case elemType.Kind() == reflect.Ptr && elemType.Elem().Kind() == reflect.Struct:
		if elem.IsNil() {
			elem.Set(reflect.New(elemType.Elem()))
		}
		return elem, nil
	}
	return reflect.Value{}, datastore.ErrInvalidEntityType
}

// PutMultiOps converts every element of src into an entity and hands them to ops.
func PutMultiOps(ctx context.Context, keys []*datastore.Key, src interface{}, ops putOps) error {
	v := reflect.ValueOf(src)
	if v.Kind() != reflect.Slice {
		return errors.New("datastore: src has invalid type")
	}
	if len(keys) != v.Len() {
		return errors.New("datastore: key and src slices have different length")
	}
	if len(keys) == 0 {
		return nil
	}
	if v.Type() == typeOfPropertyList {
		return datastore.ErrInvalidEntityType
	}

	entities := make([]*datastore.Entity, 0, len(keys))
	for idx, key := range keys {
		elem := v.Index(idx)
		if elem.Kind() == reflect.Interface {
			elem = elem.Elem()
		} else if reflect.PtrTo(elem.Type()).Implements(typeOfPropertyLoadSaver) || elem.Kind() == reflect.Struct {
			elem = elem.Addr()
		}
		if !elem.IsValid() {
			return datastore.ErrInvalidEntityType
		}
		e, err := datastore.SaveEntity(ctx, key, elem.Interface())
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}

	return ops(entities)
}

// SliceAppender validates that dst is a pointer to a slice that can receive
// query results and returns a constructor for fresh elements plus an appender.
func SliceAppender(dst interface{}) (newElem func() reflect.Value, appendElem func(reflect.Value), err error) {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return nil, nil, datastore.ErrInvalidEntityType
	}
	dv = dv.Elem()
	if dv.Kind() != reflect.Slice || dv.Type() == typeOfPropertyList {
		return nil, nil, datastore.ErrInvalidEntityType
	}

	elemType := dv.Type().Elem()
	isPtr := false
	if elemType.Kind() == reflect.Ptr {
		isPtr = true
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct && !reflect.PtrTo(elemType).Implements(typeOfPropertyLoadSaver) {
		return nil, nil, datastore.ErrInvalidEntityType
	}

	newElem = func() reflect.Value {
		return reflect.New(elemType)
	}
	appendElem = func(elem reflect.Value) {
		if !isPtr {
			elem = elem.Elem()
		}
		dv.Set(reflect.Append(dv, elem))
	}
	return newElem, appendElem, nil
}
