package datastore

import (
	"context"
)

// Client is a Datastore client bound to a single project.
//
// dst and src arguments of the Get/Put family accept a struct pointer, a
// PropertyLoadSaver or *Entity for single operations, and a slice of structs,
// struct pointers, PropertyList or *Entity for multi operations.
type Client interface {
	Get(ctx context.Context, key *Key, dst interface{}) error
	GetMulti(ctx context.Context, keys []*Key, dst interface{}) error
	Put(ctx context.Context, key *Key, src interface{}) (*Key, error)
	PutMulti(ctx context.Context, keys []*Key, src interface{}) ([]*Key, error)
	Delete(ctx context.Context, key *Key) error
	DeleteMulti(ctx context.Context, keys []*Key) error

	NewTransaction(ctx context.Context, opts ...TransactionOption) (Transaction, error)
	RunInTransaction(ctx context.Context, f func(tx Transaction) error, opts ...TransactionOption) (Commit, error)
	Run(ctx context.Context, q *Query) Iterator
	GetAll(ctx context.Context, q *Query, dst interface{}) ([]*Key, error)
	Count(ctx context.Context, q *Query) (int, error)
	AllocateIDs(ctx context.Context, keys []*Key) ([]*Key, error)
	ReserveIDs(ctx context.Context, keys []*Key) error

	Batch() *Batch
	AppendMiddleware(middleware Middleware) // NOTE First-In First-Apply
	RemoveMiddleware(middleware Middleware) bool

	ProjectID() string
	Close() error
}

// PendingKey represents the key for a newly-inserted entity. It can be
// resolved into a Key by calling the Key method of Commit.
type PendingKey interface {
	Pending() *Key
}

// Transaction represents a set of datastore operations to be committed atomically.
//
// Operations are enqueued by calling the Put and Delete methods on Transaction
// and are only applied when Commit is called. Get reads through the transaction
// snapshot.
type Transaction interface {
	Get(key *Key, dst interface{}) error
	GetMulti(keys []*Key, dst interface{}) error
	Put(key *Key, src interface{}) (PendingKey, error)
	PutMulti(keys []*Key, src interface{}) ([]PendingKey, error)
	Delete(key *Key) error
	DeleteMulti(keys []*Key) error

	Commit() (Commit, error)
	Rollback() error

	ID() []byte
}

// Commit represents the result of a committed transaction.
type Commit interface {
	Key(p PendingKey) *Key
}

// Iterator is the result of running a query.
type Iterator interface {
	// Next returns the key of the next result. When there are no more results,
	// iterator.Done is returned as the error.
	//
	// If the query is not keys only and dst is non-nil, it also loads the entity
	// stored for that key into the struct pointer or PropertyLoadSaver dst.
	Next(dst interface{}) (*Key, error)
	// Cursor returns a cursor for the iterator's current location.
	Cursor() (Cursor, error)
}

// TransactionOption configures NewTransaction and RunInTransaction.
type TransactionOption interface {
	ApplyTx(*TransactionSettings)
}

// TransactionSettings is the resolved set of TransactionOption values.
type TransactionSettings struct {
	ReadOnly            bool
	Attempts            int
	PreviousTransaction []byte
}

// ReadOnly is a TransactionOption that marks the transaction as read-only.
var ReadOnly TransactionOption = readOnly{}

type readOnly struct{}

func (readOnly) ApplyTx(s *TransactionSettings) { s.ReadOnly = true }

// MaxAttempts makes RunInTransaction retry the function up to n times when the
// commit fails with ErrConcurrentTransaction. The default is a single attempt.
func MaxAttempts(n int) TransactionOption {
	return maxAttempts(n)
}

type maxAttempts int

func (w maxAttempts) ApplyTx(s *TransactionSettings) {
	if w > 0 {
		s.Attempts = int(w)
	}
}
