package datastore

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrInvalidEntityType is returned when functions like Get or Next are
	// passed a dst or src argument of invalid type.
	ErrInvalidEntityType = errors.New("datastore: invalid entity type")
	// ErrInvalidKey is returned when an invalid key is presented.
	ErrInvalidKey = errors.New("datastore: invalid key")
	// ErrNoSuchEntity is returned when no entity was found for a given key.
	ErrNoSuchEntity = errors.New("datastore: no such entity")
	// ErrConcurrentTransaction is returned when a transaction is rolled back due
	// to a conflict with a concurrent transaction.
	ErrConcurrentTransaction = errors.New("datastore: concurrent transaction")
	// ErrDuplicateProperty is returned when an entity carries the same property name twice.
	ErrDuplicateProperty = errors.New("datastore: duplicate property name")
	// ErrDeferredLookupExhausted is returned when the service keeps deferring
	// keys after the configured number of lookup re-issues.
	ErrDeferredLookupExhausted = errors.New("datastore: lookup still deferred after retry limit")
	// ErrTransactionFinished is returned when a committed or rolled back
	// transaction is used again.
	ErrTransactionFinished = errors.New("datastore: transaction already finished")
)

// MultiError is returned by batch operations when there are errors with
// particular elements. Errors will be in a one-to-one correspondence with
// the input elements; successful elements will have a nil entry.
type MultiError []error

func (m MultiError) Error() string {
	s, n := "", 0
	for _, e := range m {
		if e != nil {
			if n == 0 {
				s = e.Error()
			}
			n++
		}
	}
	switch n {
	case 0:
		return "(0 errors)"
	case 1:
		return s
	case 2:
		return s + " (and 1 other error)"
	}
	return fmt.Sprintf("%s (and %d other errors)", s, n-1)
}

// ErrFieldMismatch is returned when a field is to be loaded into a different
// type than the one it was stored from, or when a field is missing or
// unexported in the destination struct.
type ErrFieldMismatch struct {
	StructType reflect.Type
	FieldName  string
	Reason     string
}

func (e *ErrFieldMismatch) Error() string {
	return fmt.Sprintf("datastore: cannot load field %q into a %q: %s",
		e.FieldName, e.StructType, e.Reason)
}

// ErrInvalidValue is returned when a property value has a Go type that has no
// Datastore representation.
type ErrInvalidValue struct {
	Name  string
	Value interface{}
}

func (e *ErrInvalidValue) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("datastore: unsupported value type %T", e.Value)
	}
	return fmt.Sprintf("datastore: unsupported value type %T for property %q", e.Value, e.Name)
}
