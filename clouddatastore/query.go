package clouddatastore

import (
	"context"
	"errors"
	"reflect"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	w "go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/internal/shared"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var _ w.Iterator = (*iteratorImpl)(nil)

// ErrNoEndCursor is returned when a batch reports more results but gives no
// cursor to continue from.
var ErrNoEndCursor = errors.New("datastore: query batch not finished without end cursor")

// iteratorImpl pages through query results. Every page is requested with a
// fresh clone of the query captured when Run was called; only the cursor, and
// the offset and limit still left, move between pages. A result with no
// entity uses up the limit but is not returned.
type iteratorImpl struct {
	d     *datastoreImpl
	ctx   context.Context
	req   *pb.RunQueryRequest
	query *pb.Query

	keysOnly bool
	results  []*pb.EntityResult
	cursor   []byte // position after the last result returned by Next
	next     []byte // start cursor of the page to fetch
	skipped  int32
	returned int32
	done     bool
	err      error
}

func (d *datastoreImpl) Run(ctx context.Context, q *w.Query) w.Iterator {
	it := &iteratorImpl{d: d, ctx: ctx}

	dump, err := q.Dump()
	if err != nil {
		it.err = err
		return it
	}
	it.req, it.query, err = d.runQueryRequest(dump)
	if err != nil {
		it.err = err
		return it
	}
	it.keysOnly = dump.KeysOnly
	it.next = it.query.StartCursor
	it.cursor = it.query.StartCursor

	return it
}

func (d *datastoreImpl) runQueryRequest(dump *w.QueryDump) (*pb.RunQueryRequest, *pb.Query, error) {
	pq, err := queryToProto(d.projectID, dump)
	if err != nil {
		return nil, nil, err
	}

	namespace := dump.Namespace
	if namespace == "" {
		namespace = d.namespace
	}

	req := &pb.RunQueryRequest{
		ProjectId: d.projectID,
		PartitionId: &pb.PartitionId{
			ProjectId:   d.projectID,
			NamespaceId: namespace,
		},
	}
	if dump.Transaction != nil {
		req.ReadOptions = &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_Transaction{Transaction: dump.Transaction.ID()},
		}
	} else if dump.EventualConsistency {
		req.ReadOptions = &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_ReadConsistency_{ReadConsistency: pb.ReadOptions_EVENTUAL},
		}
	}

	return req, pq, nil
}

func (it *iteratorImpl) fetch() error {
	q := proto.Clone(it.query).(*pb.Query)
	q.StartCursor = it.next
	if q.Offset > 0 {
		q.Offset -= it.skipped
		if q.Offset < 0 {
			q.Offset = 0
		}
	}
	if q.Limit != nil {
		left := q.Limit.GetValue() - it.returned
		if left <= 0 && it.returned != 0 {
			it.done = true
			return nil
		}
		q.Limit = wrapperspb.Int32(left)
	}

	req := proto.Clone(it.req).(*pb.RunQueryRequest)
	req.QueryType = &pb.RunQueryRequest_Query{Query: q}

	next, info := it.d.chain(it.ctx)
	resp, err := next.RunQuery(info, req)
	if err != nil {
		return err
	}

	batch := resp.GetBatch()
	if batch.GetMoreResults() == pb.QueryResultBatch_NOT_FINISHED && len(batch.GetEndCursor()) == 0 {
		return ErrNoEndCursor
	}
	it.results = batch.GetEntityResults()
	it.skipped += batch.GetSkippedResults()
	it.returned += int32(len(it.results))
	if len(batch.GetEndCursor()) != 0 {
		it.next = batch.GetEndCursor()
	}
	if batch.GetMoreResults() != pb.QueryResultBatch_NOT_FINISHED {
		it.done = true
	}
	if len(it.results) == 0 {
		it.cursor = it.next
	}

	return nil
}

func (it *iteratorImpl) Next(dst interface{}) (*w.Key, error) {
	result, err := it.nextResult()
	if err != nil {
		return nil, err
	}

	e, err := protoToEntity(result.GetEntity())
	if err != nil {
		return nil, err
	}

	if dst != nil && !it.keysOnly {
		if err := w.LoadEntity(it.ctx, dst, e); err != nil {
			return e.Key, err
		}
	}

	return e.Key, nil
}

// nextResult pops the next result carrying an entity, fetching pages as needed.
func (it *iteratorImpl) nextResult() (*pb.EntityResult, error) {
	for {
		for len(it.results) == 0 {
			if it.err != nil {
				return nil, it.err
			}
			if it.done {
				return nil, iterator.Done
			}
			if err := it.ctx.Err(); err != nil {
				it.err = err
				return nil, err
			}
			if err := it.fetch(); err != nil {
				it.err = err
				return nil, err
			}
		}

		result := it.results[0]
		it.results = it.results[1:]
		if len(result.GetCursor()) != 0 {
			it.cursor = result.GetCursor()
		} else if len(it.results) == 0 {
			it.cursor = it.next
		}
		if result.GetEntity() != nil {
			return result, nil
		}
	}
}

func (it *iteratorImpl) Cursor() (w.Cursor, error) {
	if it.err != nil && it.err != iterator.Done {
		return nil, it.err
	}
	return w.Cursor(it.cursor), nil
}

// GetAll runs the query and returns all matching keys, loading the entities
// into dst unless the query is keys only. dst must be a pointer to a slice of
// structs, struct pointers, PropertyList or *Entity.
func (d *datastoreImpl) GetAll(ctx context.Context, q *w.Query, dst interface{}) ([]*w.Key, error) {
	dump, err := q.Dump()
	if err != nil {
		return nil, err
	}

	var newElem func() reflect.Value
	var appendElem func(reflect.Value)
	if !dump.KeysOnly || dst != nil {
		newElem, appendElem, err = shared.SliceAppender(dst)
		if err != nil {
			return nil, err
		}
	}

	var keys []*w.Key
	it := d.Run(ctx, q)
	for {
		var elem reflect.Value
		var target interface{}
		if newElem != nil && !dump.KeysOnly {
			elem = newElem()
			target = elem.Interface()
		}

		key, err := it.Next(target)
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, err
		}

		keys = append(keys, key)
		if target != nil {
			appendElem(elem)
		}
	}

	return keys, nil
}

// Count returns the number of results for the query. A plain query is
// drained keys-only. A projection query is drained as it is, because
// distinct-on works over the projected values.
func (d *datastoreImpl) Count(ctx context.Context, q *w.Query) (int, error) {
	dump, err := q.Dump()
	if err != nil {
		return 0, err
	}
	if len(dump.Projection) == 0 {
		q = q.KeysOnly()
	}

	it := d.Run(ctx, q)
	n := 0
	for {
		_, err := it.Next(nil)
		if err == iterator.Done {
			return n, nil
		} else if err != nil {
			return 0, err
		}
		n++
	}
}
