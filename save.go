// Copyright 2014 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datastore

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// SaveEntity converts src into an Entity stored under key.
// src must be a struct pointer or implement PropertyLoadSaver.
func SaveEntity(ctx context.Context, key *Key, src interface{}) (*Entity, error) {
	var err error
	var props []Property
	switch x := src.(type) {
	case *Entity:
		return &Entity{Key: key, Properties: x.Properties}, nil
	case PropertyLoadSaver:
		props, err = x.Save(ctx)
	default:
		props, err = SaveStruct(ctx, src)
	}
	if err != nil {
		return nil, err
	}

	return &Entity{Key: key, Properties: props}, nil
}

func (s structPLS) Save(ctx context.Context) ([]Property, error) {
	var props []Property
	for i := range s.codec.fields {
		f := &s.codec.fields[i]
		v := s.v.FieldByIndex(f.index)
		if err := saveStructProperty(ctx, &props, f.name, f.opts, v); err != nil {
			return nil, err
		}
	}
	return props, nil
}

// key extracts the __key__ field from the struct, if the struct has one.
func (s structPLS) key() *Key {
	if s.codec.keyIndex == nil {
		return nil
	}
	k, _ := s.v.FieldByIndex(s.codec.keyIndex).Interface().(*Key)
	return k
}

func saveStructProperty(ctx context.Context, props *[]Property, name string, opts saveOpts, v reflect.Value) error {
	if opts.omitEmpty && isEmptyValue(v) {
		return nil
	}

	p := Property{
		Name:    name,
		NoIndex: opts.noIndex,
	}

	// Field types that implement PropertyLoadSaver save as a nested entity.
	if v.Kind() != reflect.Ptr || !v.IsNil() {
		vpls, err := pls(v)
		if err != nil {
			return err
		}
		if vpls != nil {
			subProps, err := vpls.Save(ctx)
			if err != nil {
				return err
			}
			p.Value = &Entity{Properties: subProps}
			*props = append(*props, p)
			return nil
		}
	}

	if v.Kind() == reflect.Slice && v.Type() != typeOfByteSlice {
		return saveSliceProperty(ctx, props, name, opts, v)
	}

	value, err := saveValue(ctx, v)
	if err != nil {
		return err
	}
	p.Value = value
	*props = append(*props, p)
	return nil
}

func saveSliceProperty(ctx context.Context, props *[]Property, name string, opts saveOpts, v reflect.Value) error {
	// Easy case: if the slice is empty, we're done.
	if v.Len() == 0 {
		return nil
	}

	values := make([]interface{}, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if elem.Kind() == reflect.Slice && elem.Type() != typeOfByteSlice {
			return fmt.Errorf("datastore: unsupported struct field %q: slice of slices", name)
		}
		value, err := saveValue(ctx, elem)
		if err != nil {
			return err
		}
		values = append(values, value)
	}

	*props = append(*props, Property{
		Name:    name,
		Value:   values,
		NoIndex: opts.noIndex,
	})
	return nil
}

// saveValue converts a single struct field or slice element to a property value.
func saveValue(ctx context.Context, v reflect.Value) (interface{}, error) {
	if v.Type() == typeOfKeyPtr {
		if v.IsNil() {
			return nil, nil
		}
		return v.Interface(), nil
	}

	switch x := v.Interface().(type) {
	case time.Time:
		return x, nil
	case GeoPoint:
		return x, nil
	case []byte:
		return x, nil
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Ptr:
		if v.Type().Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("datastore: unsupported struct field type: %s", v.Type())
		}
		if v.IsNil() {
			return nil, nil
		}
		return saveNestedStruct(ctx, v.Elem())
	case reflect.Struct:
		return saveNestedStruct(ctx, v)
	}

	return nil, fmt.Errorf("datastore: unsupported struct field type: %v", v.Type())
}

func saveNestedStruct(ctx context.Context, v reflect.Value) (interface{}, error) {
	if !v.CanAddr() {
		// slice elements of struct type are addressable; map values are not.
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		v = cp
	}
	sub, err := newStructPLS(v.Addr().Interface())
	if err != nil {
		return nil, fmt.Errorf("datastore: unsupported struct field: %v", err)
	}
	subProps, err := sub.Save(ctx)
	if err != nil {
		return nil, err
	}
	return &Entity{Key: sub.key(), Properties: subProps}, nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.IsZero()
		}
	}
	return false
}
