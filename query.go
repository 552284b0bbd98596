package datastore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Operator is a property filter comparison.
type Operator int

const (
	Equal Operator = iota + 1
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	In
	NotIn
)

var operatorToString = map[Operator]string{
	Equal:              "=",
	NotEqual:           "!=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	In:                 "in",
	NotIn:              "not-in",
}

var stringToOperator = map[string]Operator{
	"=":      Equal,
	"==":     Equal,
	"!=":     NotEqual,
	">":      GreaterThan,
	">=":     GreaterThanOrEqual,
	"<":      LessThan,
	"<=":     LessThanOrEqual,
	"in":     In,
	"not-in": NotIn,
}

func (op Operator) String() string {
	if s, ok := operatorToString[op]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// Filter is a single property comparison. The filters of a Query are combined
// with AND.
type Filter struct {
	Property string
	Op       Operator
	Value    interface{}
}

// Direction is the sort order of a query ordering.
type Direction int

const (
	Ascending Direction = iota + 1
	Descending
)

// Order is a (property, direction) pair.
type Order struct {
	Property  string
	Direction Direction
}

// Cursor is an opaque position within a query result stream.
type Cursor []byte

// String returns a base-64 string representation of a cursor.
func (c Cursor) String() string {
	if c == nil {
		return ""
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(c), "=")
}

// DecodeCursor decodes a cursor from its base-64 string representation.
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Cursor(b), nil
}

// Query represents a datastore query.
// Builder methods return a modified copy; the receiver is left untouched.
type Query struct {
	kind       string
	ancestor   *Key
	filters    []Filter
	orders     []Order
	projection []string
	distinctOn []string
	keysOnly   bool
	eventual   bool
	namespace  string
	limit      int32
	offset     int32
	start      Cursor
	end        Cursor
	tx         Transaction

	err error
}

// NewQuery creates a new Query for a specific entity kind.
//
// An empty kind means to return all entities, including entities created and
// managed by other App Engine features, and is called a kindless query.
func NewQuery(kind string) *Query {
	return &Query{
		kind:  kind,
		limit: -1,
	}
}

func (q *Query) clone() *Query {
	x := *q
	// Copy the contents of the slice-typed fields to a new backing store.
	if len(q.filters) > 0 {
		x.filters = append([]Filter(nil), q.filters...)
	}
	if len(q.orders) > 0 {
		x.orders = append([]Order(nil), q.orders...)
	}
	if len(q.projection) > 0 {
		x.projection = append([]string(nil), q.projection...)
	}
	if len(q.distinctOn) > 0 {
		x.distinctOn = append([]string(nil), q.distinctOn...)
	}
	return &x
}

// Ancestor returns a derivative query with an ancestor filter.
// The ancestor should not be nil.
func (q *Query) Ancestor(ancestor *Key) *Query {
	q = q.clone()
	if ancestor == nil {
		q.err = errors.New("datastore: nil query ancestor")
		return q
	}
	q.ancestor = ancestor
	return q
}

// EventualConsistency returns a derivative query that returns eventually
// consistent results.
// It only has an effect on ancestor queries.
func (q *Query) EventualConsistency() *Query {
	q = q.clone()
	q.eventual = true
	return q
}

// Namespace returns a derivative query that is associated with the given
// namespace.
func (q *Query) Namespace(ns string) *Query {
	q = q.clone()
	q.namespace = ns
	return q
}

// Transaction returns a derivative query that is associated with the given
// transaction.
func (q *Query) Transaction(t Transaction) *Query {
	q = q.clone()
	q.tx = t
	return q
}

// Filter returns a derivative query with a field-based filter.
// The filterStr argument must be a field name followed by optional space,
// followed by an operator, one of ">", "<", ">=", "<=", "=", "!=", "in" and
// "not-in".
func (q *Query) Filter(filterStr string, value interface{}) *Query {
	q = q.clone()
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		q.err = fmt.Errorf("datastore: invalid filter %q", filterStr)
		return q
	}
	f := strings.TrimRight(filterStr, " ><=!")
	opStr := strings.TrimSpace(filterStr[len(f):])
	f = strings.TrimSpace(f)
	if opStr == "" {
		// word operators: "Name in", "Name not-in"
		if i := strings.LastIndexByte(f, ' '); i > 0 {
			opStr = f[i+1:]
			f = strings.TrimSpace(f[:i])
		}
	}
	op, ok := stringToOperator[opStr]
	if !ok {
		q.err = fmt.Errorf("datastore: invalid operator %q in filter %q", opStr, filterStr)
		return q
	}
	if f == "" {
		q.err = fmt.Errorf("datastore: invalid filter %q", filterStr)
		return q
	}
	q.filters = append(q.filters, Filter{Property: f, Op: op, Value: value})
	return q
}

// FilterField returns a derivative query with the given filters appended.
func (q *Query) FilterField(filters ...Filter) *Query {
	q = q.clone()
	q.filters = append(q.filters, filters...)
	return q
}

// Order returns a derivative query with a field-based sort order. Orders are
// applied in the order they are added. The default order is ascending; to sort
// in descending order prefix the fieldName with a minus sign (-).
func (q *Query) Order(fieldName string) *Query {
	q = q.clone()
	fieldName = strings.TrimSpace(fieldName)
	o := Order{Property: fieldName, Direction: Ascending}
	if strings.HasPrefix(fieldName, "-") {
		o.Property = strings.TrimSpace(fieldName[1:])
		o.Direction = Descending
	}
	if o.Property == "" {
		q.err = errors.New("datastore: empty order")
		return q
	}
	q.orders = append(q.orders, o)
	return q
}

// Project returns a derivative query that yields only the given fields. It
// cannot be used with KeysOnly.
func (q *Query) Project(fieldNames ...string) *Query {
	q = q.clone()
	q.projection = append([]string(nil), fieldNames...)
	return q
}

// DistinctOn returns a derivative query that yields de-duplicated entities with
// respect to the set of the specified fields. It is only used for projection
// queries.
func (q *Query) DistinctOn(fieldNames ...string) *Query {
	q = q.clone()
	q.distinctOn = append([]string(nil), fieldNames...)
	return q
}

// KeysOnly returns a derivative query that yields only keys, not keys and
// entities. It cannot be used with projection queries.
func (q *Query) KeysOnly() *Query {
	q = q.clone()
	q.keysOnly = true
	return q
}

// Limit returns a derivative query that has a limit on the number of results
// returned. A negative value means unlimited.
func (q *Query) Limit(limit int) *Query {
	q = q.clone()
	if limit < -1<<31 || limit > 1<<31-1 {
		q.err = errors.New("datastore: query limit overflow")
		return q
	}
	q.limit = int32(limit)
	return q
}

// Offset returns a derivative query that has an offset of how many keys to
// skip over before returning results. A negative value is invalid.
func (q *Query) Offset(offset int) *Query {
	q = q.clone()
	if offset < 0 {
		q.err = errors.New("datastore: negative query offset")
		return q
	}
	if offset > 1<<31-1 {
		q.err = errors.New("datastore: query offset overflow")
		return q
	}
	q.offset = int32(offset)
	return q
}

// Start returns a derivative query with the given start point.
func (q *Query) Start(c Cursor) *Query {
	q = q.clone()
	q.start = c
	return q
}

// End returns a derivative query with the given end point.
func (q *Query) End(c Cursor) *Query {
	q = q.clone()
	q.end = c
	return q
}

// QueryDump is a read-only snapshot of a Query, used by the wire marshaller
// and by middlewares that need to inspect a query.
type QueryDump struct {
	Kind                string
	Ancestor            *Key
	Filters             []Filter
	Orders              []Order
	Projection          []string
	DistinctOn          []string
	KeysOnly            bool
	EventualConsistency bool
	Namespace           string
	Limit               int32
	Offset              int32
	Start               Cursor
	End                 Cursor
	Transaction         Transaction
}

// Dump returns the query contents, or the first error recorded by a builder method.
func (q *Query) Dump() (*QueryDump, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.keysOnly && len(q.projection) != 0 {
		return nil, errors.New("datastore: query cannot both project and be keys-only")
	}
	if len(q.distinctOn) != 0 && len(q.projection) == 0 {
		return nil, errors.New("datastore: query distinct-on requires a projection")
	}
	q = q.clone()
	return &QueryDump{
		Kind:                q.kind,
		Ancestor:            q.ancestor,
		Filters:             q.filters,
		Orders:              q.orders,
		Projection:          q.projection,
		DistinctOn:          q.distinctOn,
		KeysOnly:            q.keysOnly,
		EventualConsistency: q.eventual,
		Namespace:           q.namespace,
		Limit:               q.limit,
		Offset:              q.offset,
		Start:               q.start,
		End:                 q.end,
		Transaction:         q.tx,
	}, nil
}
