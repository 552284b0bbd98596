package clouddatastore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	w "go.mercari.io/dsrpc"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// keyToProto converts a key to its wire form. The parent chain is walked from
// the leaf to the root and reversed, so the wire path is ordered root first.
func keyToProto(projectID string, key *w.Key) *pb.Key {
	if key == nil {
		return nil
	}

	var path []*pb.Key_PathElement
	for k := key; k != nil; k = k.Parent {
		el := &pb.Key_PathElement{Kind: k.Kind}
		if k.ID != 0 {
			el.IdType = &pb.Key_PathElement_Id{Id: k.ID}
		} else if k.Name != "" {
			el.IdType = &pb.Key_PathElement_Name{Name: k.Name}
		}
		path = append(path, el)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return &pb.Key{
		PartitionId: &pb.PartitionId{
			ProjectId:   projectID,
			NamespaceId: key.Namespace,
		},
		Path: path,
	}
}

func keysToProto(projectID string, keys []*w.Key) []*pb.Key {
	if keys == nil {
		return nil
	}

	pbKeys := make([]*pb.Key, len(keys))
	for idx, key := range keys {
		pbKeys[idx] = keyToProto(projectID, key)
	}
	return pbKeys
}

// protoToKey converts a wire key back into a parent chain. The partition
// namespace is applied to every element.
func protoToKey(p *pb.Key) (*w.Key, error) {
	if p == nil {
		return nil, nil
	}
	if len(p.GetPath()) == 0 {
		return nil, w.ErrInvalidKey
	}

	namespace := p.GetPartitionId().GetNamespaceId()
	var key *w.Key
	for _, el := range p.GetPath() {
		key = &w.Key{
			Kind:      el.GetKind(),
			ID:        el.GetId(),
			Name:      el.GetName(),
			Parent:    key,
			Namespace: namespace,
		}
	}
	return key, nil
}

func protoToKeys(ps []*pb.Key) ([]*w.Key, error) {
	keys := make([]*w.Key, 0, len(ps))
	for _, p := range ps {
		key, err := protoToKey(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// wireKeyID is an identity for a wire key within one project, used to match
// lookup results to the requested keys.
func wireKeyID(k *pb.Key) string {
	var b strings.Builder
	b.WriteString(strconv.Quote(k.GetPartitionId().GetNamespaceId()))
	for _, el := range k.GetPath() {
		b.WriteByte('/')
		b.WriteString(strconv.Quote(el.GetKind()))
		b.WriteByte(',')
		switch id := el.GetIdType().(type) {
		case *pb.Key_PathElement_Id:
			b.WriteString(strconv.FormatInt(id.Id, 10))
		case *pb.Key_PathElement_Name:
			b.WriteString(strconv.Quote(id.Name))
		}
	}
	return b.String()
}

func entityToProto(projectID string, e *w.Entity) (*pb.Entity, error) {
	props, err := propertiesToProto(projectID, e.Properties)
	if err != nil {
		return nil, err
	}
	return &pb.Entity{
		Key:        keyToProto(projectID, e.Key),
		Properties: props,
	}, nil
}

func propertiesToProto(projectID string, ps []w.Property) (map[string]*pb.Value, error) {
	props := make(map[string]*pb.Value, len(ps))
	for _, p := range ps {
		if _, dup := props[p.Name]; dup {
			return nil, fmt.Errorf("%w: %q", w.ErrDuplicateProperty, p.Name)
		}
		v, err := valueToProto(projectID, p.Name, p.Value, p.NoIndex)
		if err != nil {
			return nil, err
		}
		props[p.Name] = v
	}
	return props, nil
}

// valueToProto converts a property value. noIndex becomes exclude_from_indexes
// on the produced value; for arrays it is set on every element instead, as the
// service rejects it on the array value itself.
func valueToProto(projectID, name string, v interface{}, noIndex bool) (*pb.Value, error) {
	val := &pb.Value{ExcludeFromIndexes: noIndex}
	switch v := v.(type) {
	case nil:
		val.ValueType = &pb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}
	case bool:
		val.ValueType = &pb.Value_BooleanValue{BooleanValue: v}
	case int64:
		val.ValueType = &pb.Value_IntegerValue{IntegerValue: v}
	case int:
		val.ValueType = &pb.Value_IntegerValue{IntegerValue: int64(v)}
	case int32:
		val.ValueType = &pb.Value_IntegerValue{IntegerValue: int64(v)}
	case float64:
		val.ValueType = &pb.Value_DoubleValue{DoubleValue: v}
	case float32:
		val.ValueType = &pb.Value_DoubleValue{DoubleValue: float64(v)}
	case time.Time:
		val.ValueType = &pb.Value_TimestampValue{TimestampValue: &timestamppb.Timestamp{
			Seconds: v.Unix(),
			Nanos:   int32(v.Nanosecond()),
		}}
	case *w.Key:
		if v == nil {
			val.ValueType = &pb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}
		} else {
			val.ValueType = &pb.Value_KeyValue{KeyValue: keyToProto(projectID, v)}
		}
	case string:
		val.ValueType = &pb.Value_StringValue{StringValue: v}
	case []byte:
		val.ValueType = &pb.Value_BlobValue{BlobValue: v}
	case w.GeoPoint:
		val.ValueType = &pb.Value_GeoPointValue{GeoPointValue: &latlng.LatLng{Latitude: v.Lat, Longitude: v.Lng}}
	case *w.Entity:
		if v == nil {
			val.ValueType = &pb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}
			break
		}
		e, err := entityToProto(projectID, v)
		if err != nil {
			return nil, err
		}
		val.ValueType = &pb.Value_EntityValue{EntityValue: e}
	case []interface{}:
		values := make([]*pb.Value, 0, len(v))
		for _, elem := range v {
			ev, err := valueToProto(projectID, name, elem, noIndex)
			if err != nil {
				return nil, err
			}
			values = append(values, ev)
		}
		val.ValueType = &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: values}}
		val.ExcludeFromIndexes = false
	default:
		return nil, &w.ErrInvalidValue{Name: name, Value: v}
	}
	return val, nil
}

func protoToEntity(e *pb.Entity) (*w.Entity, error) {
	if e == nil {
		return nil, nil
	}
	key, err := protoToKey(e.GetKey())
	if err != nil {
		return nil, err
	}
	props, err := protoToProperties(e.GetProperties())
	if err != nil {
		return nil, err
	}
	return &w.Entity{Key: key, Properties: props}, nil
}

// protoToProperties returns the properties sorted by name.
func protoToProperties(m map[string]*pb.Value) ([]w.Property, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	ps := make([]w.Property, 0, len(m))
	for _, name := range names {
		v := m[name]
		value, err := protoToValue(v)
		if err != nil {
			return nil, err
		}
		noIndex := v.GetExcludeFromIndexes()
		if vs := v.GetArrayValue().GetValues(); len(vs) != 0 {
			noIndex = vs[0].GetExcludeFromIndexes()
		}
		ps = append(ps, w.Property{Name: name, Value: value, NoIndex: noIndex})
	}
	return ps, nil
}

func protoToValue(v *pb.Value) (interface{}, error) {
	switch x := v.GetValueType().(type) {
	case nil, *pb.Value_NullValue:
		return nil, nil
	case *pb.Value_BooleanValue:
		return x.BooleanValue, nil
	case *pb.Value_IntegerValue:
		return x.IntegerValue, nil
	case *pb.Value_DoubleValue:
		return x.DoubleValue, nil
	case *pb.Value_TimestampValue:
		return time.Unix(x.TimestampValue.GetSeconds(), int64(x.TimestampValue.GetNanos())), nil
	case *pb.Value_KeyValue:
		return protoToKey(x.KeyValue)
	case *pb.Value_StringValue:
		return x.StringValue, nil
	case *pb.Value_BlobValue:
		return x.BlobValue, nil
	case *pb.Value_GeoPointValue:
		return w.GeoPoint{Lat: x.GeoPointValue.GetLatitude(), Lng: x.GeoPointValue.GetLongitude()}, nil
	case *pb.Value_EntityValue:
		return protoToEntity(x.EntityValue)
	case *pb.Value_ArrayValue:
		values := make([]interface{}, 0, len(x.ArrayValue.GetValues()))
		for _, elem := range x.ArrayValue.GetValues() {
			ev, err := protoToValue(elem)
			if err != nil {
				return nil, err
			}
			values = append(values, ev)
		}
		return values, nil
	}
	return nil, fmt.Errorf("datastore: unknown wire value type %T", v.GetValueType())
}

var operatorToProto = map[w.Operator]pb.PropertyFilter_Operator{
	w.Equal:              pb.PropertyFilter_EQUAL,
	w.NotEqual:           pb.PropertyFilter_NOT_EQUAL,
	w.GreaterThan:        pb.PropertyFilter_GREATER_THAN,
	w.GreaterThanOrEqual: pb.PropertyFilter_GREATER_THAN_OR_EQUAL,
	w.LessThan:           pb.PropertyFilter_LESS_THAN,
	w.LessThanOrEqual:    pb.PropertyFilter_LESS_THAN_OR_EQUAL,
	w.In:                 pb.PropertyFilter_IN,
	w.NotIn:              pb.PropertyFilter_NOT_IN,
}

// filtersToProto converts the conjunctive filter list. No filters and no
// ancestor means no filter at all; otherwise the result is always an AND
// composite, even around a single property filter.
func filtersToProto(projectID string, filters []w.Filter, ancestor *w.Key) (*pb.Filter, error) {
	if len(filters) == 0 && ancestor == nil {
		return nil, nil
	}

	pbFilters := make([]*pb.Filter, 0, len(filters)+1)
	for _, f := range filters {
		op, ok := operatorToProto[f.Op]
		if !ok {
			return nil, fmt.Errorf("datastore: invalid operator %v for property %q", f.Op, f.Property)
		}
		v, err := valueToProto(projectID, f.Property, f.Value, false)
		if err != nil {
			return nil, err
		}
		pbFilters = append(pbFilters, &pb.Filter{
			FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
				Property: &pb.PropertyReference{Name: f.Property},
				Op:       op,
				Value:    v,
			}},
		})
	}
	if ancestor != nil {
		pbFilters = append(pbFilters, &pb.Filter{
			FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
				Property: &pb.PropertyReference{Name: "__key__"},
				Op:       pb.PropertyFilter_HAS_ANCESTOR,
				Value:    &pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: keyToProto(projectID, ancestor)}},
			}},
		})
	}

	return &pb.Filter{
		FilterType: &pb.Filter_CompositeFilter{CompositeFilter: &pb.CompositeFilter{
			Op:      pb.CompositeFilter_AND,
			Filters: pbFilters,
		}},
	}, nil
}

func queryToProto(projectID string, q *w.QueryDump) (*pb.Query, error) {
	filter, err := filtersToProto(projectID, q.Filters, q.Ancestor)
	if err != nil {
		return nil, err
	}

	pq := &pb.Query{
		Filter:      filter,
		StartCursor: q.Start,
		EndCursor:   q.End,
		Offset:      q.Offset,
	}
	if q.Kind != "" {
		pq.Kind = []*pb.KindExpression{{Name: q.Kind}}
	}
	if q.KeysOnly {
		pq.Projection = []*pb.Projection{{Property: &pb.PropertyReference{Name: "__key__"}}}
	}
	for _, name := range q.Projection {
		pq.Projection = append(pq.Projection, &pb.Projection{Property: &pb.PropertyReference{Name: name}})
	}
	for _, o := range q.Orders {
		direction := pb.PropertyOrder_ASCENDING
		if o.Direction == w.Descending {
			direction = pb.PropertyOrder_DESCENDING
		}
		pq.Order = append(pq.Order, &pb.PropertyOrder{
			Property:  &pb.PropertyReference{Name: o.Property},
			Direction: direction,
		})
	}
	for _, name := range q.DistinctOn {
		pq.DistinctOn = append(pq.DistinctOn, &pb.PropertyReference{Name: name})
	}
	if q.Limit >= 0 {
		pq.Limit = wrapperspb.Int32(q.Limit)
	}

	return pq, nil
}
