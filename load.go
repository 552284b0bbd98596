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

var (
	typeOfByteSlice = reflect.TypeOf([]byte(nil))
	typeOfTime      = reflect.TypeOf(time.Time{})
	typeOfGeoPoint  = reflect.TypeOf(GeoPoint{})
	typeOfKeyPtr    = reflect.TypeOf((*Key)(nil))
)

// SuppressErrFieldMismatch makes struct loading ignore properties that have
// no matching field. Type mismatches are always reported.
var SuppressErrFieldMismatch = false

// typeMismatchReason returns a string explaining why the property p could not
// be stored in an entity field of type v.Type().
func typeMismatchReason(value interface{}, v reflect.Value) string {
	entityType := "empty"
	switch value.(type) {
	case int64:
		entityType = "int"
	case bool:
		entityType = "bool"
	case string:
		entityType = "string"
	case float64:
		entityType = "float"
	case *Key:
		entityType = "*datastore.Key"
	case *Entity:
		entityType = "*datastore.Entity"
	case GeoPoint:
		entityType = "GeoPoint"
	case time.Time:
		entityType = "time.Time"
	case []byte:
		entityType = "[]byte"
	case []interface{}:
		entityType = "array"
	}

	return fmt.Sprintf("type mismatch: %s versus %v", entityType, v.Type())
}

// LoadEntity loads ent into dst.
// dst must be a struct pointer or implement PropertyLoadSaver. If dst
// implements KeyLoader, the entity key is passed to LoadKey first.
func LoadEntity(ctx context.Context, dst interface{}, ent *Entity) error {
	if e, ok := dst.(*Entity); ok {
		if e == nil {
			return ErrInvalidEntityType
		}
		e.Key = ent.Key
		e.Properties = append(e.Properties[:0:0], ent.Properties...)
		return nil
	}
	if e, ok := dst.(PropertyLoadSaver); ok {
		if kl, ok := dst.(KeyLoader); ok {
			if err := kl.LoadKey(ctx, ent.Key); err != nil {
				return err
			}
		}
		return e.Load(ctx, ent.Properties)
	}

	x, err := newStructPLS(dst)
	if err != nil {
		return err
	}
	if x.codec.keyIndex != nil {
		x.v.FieldByIndex(x.codec.keyIndex).Set(reflect.ValueOf(ent.Key))
	}
	return x.Load(ctx, ent.Properties)
}

func (s structPLS) Load(ctx context.Context, props []Property) error {
	var fieldName, reason string
	for _, p := range props {
		f := s.codec.match(p.Name)
		if f == nil {
			if !SuppressErrFieldMismatch && fieldName == "" {
				fieldName, reason = p.Name, "no such struct field"
			}
			continue
		}
		v := s.v.FieldByIndex(f.index)
		if !v.CanSet() {
			if fieldName == "" {
				fieldName, reason = p.Name, "cannot set struct field"
			}
			continue
		}
		if errReason := loadValue(ctx, v, p.Value); errReason != "" {
			// Conversion errors take precedence over missing fields.
			if fieldName == "" || reason == "no such struct field" {
				fieldName, reason = p.Name, errReason
			}
		}
	}
	if fieldName != "" {
		return &ErrFieldMismatch{
			StructType: s.v.Type(),
			FieldName:  fieldName,
			Reason:     reason,
		}
	}
	return nil
}

// loadValue stores value into v and returns a non-empty reason on failure.
func loadValue(ctx context.Context, v reflect.Value, value interface{}) string {
	if vs, ok := value.([]interface{}); ok {
		if v.Kind() != reflect.Slice || v.Type() == typeOfByteSlice {
			return typeMismatchReason(value, v)
		}
		slice := reflect.MakeSlice(v.Type(), len(vs), len(vs))
		for i, elem := range vs {
			if reason := loadValue(ctx, slice.Index(i), elem); reason != "" {
				return reason
			}
		}
		v.Set(reflect.AppendSlice(v, slice))
		return ""
	}

	if ent, ok := value.(*Entity); ok {
		if v.Kind() == reflect.Ptr && v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		vpls, err := pls(v)
		if err != nil {
			return err.Error()
		}
		if vpls != nil {
			if err := vpls.Load(ctx, ent.Properties); err != nil {
				return err.Error()
			}
			return ""
		}
	}

	// A single value loaded into a slice field is appended.
	if v.Kind() == reflect.Slice && v.Type() != typeOfByteSlice {
		elem := reflect.New(v.Type().Elem()).Elem()
		if reason := loadValue(ctx, elem, value); reason != "" {
			return reason
		}
		v.Set(reflect.Append(v, elem))
		return ""
	}

	if value == nil {
		v.Set(reflect.Zero(v.Type()))
		return ""
	}

	if v.Type() == typeOfKeyPtr {
		k, ok := value.(*Key)
		if !ok {
			return typeMismatchReason(value, v)
		}
		v.Set(reflect.ValueOf(k))
		return ""
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x, ok := value.(int64)
		if !ok {
			return typeMismatchReason(value, v)
		}
		if v.OverflowInt(x) {
			return fmt.Sprintf("value %v overflows struct field of type %v", x, v.Type())
		}
		v.SetInt(x)
	case reflect.Bool:
		x, ok := value.(bool)
		if !ok {
			return typeMismatchReason(value, v)
		}
		v.SetBool(x)
	case reflect.String:
		x, ok := value.(string)
		if !ok {
			return typeMismatchReason(value, v)
		}
		v.SetString(x)
	case reflect.Float32, reflect.Float64:
		x, ok := value.(float64)
		if !ok {
			return typeMismatchReason(value, v)
		}
		if v.OverflowFloat(x) {
			return fmt.Sprintf("value %v overflows struct field of type %v", x, v.Type())
		}
		v.SetFloat(x)
	case reflect.Slice:
		x, ok := value.([]byte)
		if !ok {
			return typeMismatchReason(value, v)
		}
		v.SetBytes(x)
	case reflect.Ptr:
		if v.Type().Elem().Kind() != reflect.Struct {
			return typeMismatchReason(value, v)
		}
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return loadValue(ctx, v.Elem(), value)
	case reflect.Struct:
		switch v.Type() {
		case typeOfTime:
			x, ok := value.(time.Time)
			if !ok {
				return typeMismatchReason(value, v)
			}
			v.Set(reflect.ValueOf(x))
		case typeOfGeoPoint:
			x, ok := value.(GeoPoint)
			if !ok {
				return typeMismatchReason(value, v)
			}
			v.Set(reflect.ValueOf(x))
		default:
			ent, ok := value.(*Entity)
			if !ok {
				return typeMismatchReason(value, v)
			}
			if err := LoadEntity(ctx, v.Addr().Interface(), ent); err != nil {
				return err.Error()
			}
		}
	default:
		return typeMismatchReason(value, v)
	}
	return ""
}
