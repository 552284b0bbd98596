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
	"strings"
	"sync"
	"unicode"
)

var _ PropertyLoadSaver = (*PropertyList)(nil)

// Property is a name/value pair plus some metadata. A datastore entity's
// contents are loaded and saved as a sequence of Properties.
//
// Value is one of nil, bool, int64, float64, time.Time, *Key, string, []byte,
// GeoPoint, *Entity or []interface{} holding any of the former except another
// []interface{}.
type Property struct {
	Name  string
	Value interface{}
	// NoIndex is whether the datastore cannot index this property.
	// For array values it applies to every element.
	NoIndex bool
}

// Entity is the value type for a nested struct, and the unit read and written
// by the client. A nested entity may omit its key.
type Entity struct {
	Key        *Key
	Properties []Property
}

// GeoPoint represents a location as latitude/longitude in degrees.
type GeoPoint struct {
	Lat, Lng float64
}

// Valid returns whether a GeoPoint is within [-90, 90] latitude and [-180, 180] longitude.
func (g GeoPoint) Valid() bool {
	return -90 <= g.Lat && g.Lat <= 90 && -180 <= g.Lng && g.Lng <= 180
}

// PropertyLoadSaver can be converted from and to a slice of Properties.
type PropertyLoadSaver interface {
	Load(ctx context.Context, ps []Property) error
	Save(ctx context.Context) ([]Property, error)
}

// KeyLoader can store a Key.
type KeyLoader interface {
	PropertyLoadSaver
	LoadKey(ctx context.Context, k *Key) error
}

// PropertyList converts a []Property to implement PropertyLoadSaver.
type PropertyList []Property

// Load loads all of the provided properties into l.
// It does not first reset *l to an empty slice.
func (l *PropertyList) Load(ctx context.Context, p []Property) error {
	*l = append(*l, p...)
	return nil
}

// Save saves all of l's properties as a slice of Properties.
func (l *PropertyList) Save(ctx context.Context) ([]Property, error) {
	return *l, nil
}

// Get returns the property named name.
func (l PropertyList) Get(name string) (Property, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// validPropertyName returns whether name consists of one or more valid Go
// identifiers joined by ".".
func validPropertyName(name string) bool {
	if name == "" {
		return false
	}
	for _, s := range strings.Split(name, ".") {
		if s == "" {
			return false
		}
		first := true
		for _, c := range s {
			if first {
				first = false
				if c != '_' && !unicode.IsLetter(c) {
					return false
				}
			} else {
				if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
					return false
				}
			}
		}
	}
	return true
}

type saveOpts struct {
	noIndex   bool
	omitEmpty bool
}

// parseTag interprets datastore struct field tags
func parseTag(t reflect.StructTag) (name string, keep bool, opts saveOpts, err error) {
	s := t.Get("datastore")
	parts := strings.Split(s, ",")
	if parts[0] == "-" && len(parts) == 1 {
		return "", false, opts, nil
	}
	if parts[0] != "" && parts[0] != keyFieldName && !validPropertyName(parts[0]) {
		err = fmt.Errorf("datastore: struct tag has invalid property name: %q", parts[0])
		return "", false, opts, err
	}

	for _, p := range parts[1:] {
		switch p {
		case "omitempty":
			opts.omitEmpty = true
		case "noindex":
			opts.noIndex = true
		default:
			err = fmt.Errorf("datastore: struct tag has invalid option: %q", p)
			return "", false, opts, err
		}
	}
	return parts[0], true, opts, nil
}

// keyFieldName is the tag name that binds a *Key field to the entity key.
const keyFieldName = "__key__"

type structField struct {
	name  string
	index []int
	typ   reflect.Type
	opts  saveOpts
}

type structCodec struct {
	fields   []structField
	byName   map[string]int
	keyIndex []int
}

func (c *structCodec) match(name string) *structField {
	if i, ok := c.byName[name]; ok {
		return &c.fields[i]
	}
	return nil
}

// structCache collects the structs whose fields have already been calculated.
var structCache sync.Map // map[reflect.Type]*structCodec

func getStructCodec(t reflect.Type) (*structCodec, error) {
	if c, ok := structCache.Load(t); ok {
		return c.(*structCodec), nil
	}
	c := &structCodec{byName: make(map[string]int)}
	if err := c.collect(t, nil); err != nil {
		return nil, err
	}
	structCache.Store(t, c)
	return c, nil
}

func (c *structCodec) collect(t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		// If a named field is unexported, ignore it. An anonymous
		// unexported field is processed, because it may contain
		// exported fields, which are visible.
		exported := f.PkgPath == ""
		if !exported && !f.Anonymous {
			continue
		}

		name, keep, opts, err := parseTag(f.Tag)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}

		idx := append(append([]int(nil), index...), i)

		if name == keyFieldName {
			if f.Type != typeOfKeyPtr {
				return fmt.Errorf("datastore: %s field %q must be *datastore.Key", keyFieldName, f.Name)
			}
			c.keyIndex = idx
			continue
		}

		// Embedded structs without a tag are promoted.
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct && !isLeafType(f.Type) {
			if err := c.collect(f.Type, idx); err != nil {
				return err
			}
			continue
		}
		if !exported {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if _, dup := c.byName[name]; dup {
			return fmt.Errorf("datastore: struct tag has repeated property name: %q", name)
		}
		c.byName[name] = len(c.fields)
		c.fields = append(c.fields, structField{name: name, index: idx, typ: f.Type, opts: opts})
	}
	return nil
}

// isLeafType determines whether or not a type is a 'leaf type'
// and should not be recursed into, but considered one field.
func isLeafType(t reflect.Type) bool {
	return t == typeOfTime || t == typeOfGeoPoint
}

type structPLS struct {
	v     reflect.Value
	codec *structCodec
}

// newStructPLS returns a structPLS, which implements the
// PropertyLoadSaver interface, for the struct pointer p.
func newStructPLS(p interface{}) (*structPLS, error) {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, ErrInvalidEntityType
	}
	v = v.Elem()
	c, err := getStructCodec(v.Type())
	if err != nil {
		return nil, err
	}
	return &structPLS{v, c}, nil
}

// LoadStruct loads the properties from p to dst.
// dst must be a struct pointer.
//
// The values of dst's unmatched struct fields are not modified,
// and matching slice-typed fields are not reset before appending to
// them. In particular, it is recommended to pass a pointer to a zero
// valued struct on each LoadStruct call.
func LoadStruct(ctx context.Context, dst interface{}, p []Property) error {
	x, err := newStructPLS(dst)
	if err != nil {
		return err
	}
	return x.Load(ctx, p)
}

// SaveStruct returns the properties from src as a slice of Properties.
// src must be a struct pointer.
func SaveStruct(ctx context.Context, src interface{}) ([]Property, error) {
	x, err := newStructPLS(src)
	if err != nil {
		return nil, err
	}
	return x.Save(ctx)
}

// pls returns v as a PropertyLoadSaver when v or its address implements it.
func pls(v reflect.Value) (PropertyLoadSaver, error) {
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, nil
	}
	if v.Kind() != reflect.Ptr {
		if _, ok := v.Interface().(PropertyLoadSaver); ok {
			return nil, fmt.Errorf("datastore: PropertyLoadSaver methods must be implemented on a pointer to %T", v.Interface())
		}
		if !v.CanAddr() {
			return nil, nil
		}
		v = v.Addr()
	}

	vpls, _ := v.Interface().(PropertyLoadSaver)
	return vpls, nil
}
