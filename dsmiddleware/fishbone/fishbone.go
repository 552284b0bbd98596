package fishbone

import (
	"errors"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/dsmiddleware/noop"
	"google.golang.org/protobuf/proto"
)

var _ datastore.Middleware = &modifier{}

// errStillDeferred is returned when the entity lookup keeps deferring keys.
var errStillDeferred = errors.New("dsmiddleware/fishbone: lookup still deferred")

const maxLookups = 16

// New fishbone middleware creates and returns.
func New() datastore.Middleware {
	return &modifier{Middleware: noop.New()}
}

type modifier struct {
	datastore.Middleware
}

func (m *modifier) RunQuery(info *datastore.MiddlewareInfo, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	q := req.GetQuery()
	if q == nil || len(q.GetProjection()) != 0 {
		// GQL, keys only and projection queries go through as they are.
		return info.Next.RunQuery(info, req)
	}

	next := info.Next

	keysReq := proto.Clone(req).(*pb.RunQueryRequest)
	keysReq.GetQuery().Projection = []*pb.Projection{{Property: &pb.PropertyReference{Name: "__key__"}}}

	resp, err := next.RunQuery(info, keysReq)
	if err != nil {
		return nil, err
	}

	results := resp.GetBatch().GetEntityResults()
	if len(results) == 0 {
		if resp.GetBatch() != nil {
			resp.Batch.EntityResultType = pb.EntityResult_FULL
		}
		return resp, nil
	}

	keys := make([]*pb.Key, 0, len(results))
	for _, result := range results {
		keys = append(keys, result.GetEntity().GetKey())
	}

	found, err := m.lookup(info, next, req.GetProjectId(), req.GetReadOptions(), keys)
	if err != nil {
		return nil, err
	}

	filled := make([]*pb.EntityResult, 0, len(results))
	for idx, result := range results {
		// An entity deleted after the query ran stays as a result with no
		// entity, so the result still counts against the query limit.
		filled = append(filled, &pb.EntityResult{
			Entity:  found[idx],
			Version: result.GetVersion(),
			Cursor:  result.GetCursor(),
		})
	}
	resp.Batch.EntityResults = filled
	resp.Batch.EntityResultType = pb.EntityResult_FULL

	return resp, nil
}

// lookup fetches the entities of keys through the rest of the chain and
// returns them by position in keys.
func (m *modifier) lookup(info *datastore.MiddlewareInfo, next datastore.Middleware, projectID string, readOptions *pb.ReadOptions, keys []*pb.Key) (map[int]*pb.Entity, error) {
	positions := make(map[string][]int, len(keys))
	for idx, key := range keys {
		id := keyID(key)
		positions[id] = append(positions[id], idx)
	}

	found := make(map[int]*pb.Entity, len(keys))
	pending := keys
	for try := 0; len(pending) != 0; try++ {
		if try >= maxLookups {
			return nil, errStillDeferred
		}
		resp, err := next.Lookup(info, &pb.LookupRequest{
			ProjectId:   projectID,
			ReadOptions: readOptions,
			Keys:        pending,
		})
		if err != nil {
			return nil, err
		}
		for _, result := range resp.GetFound() {
			for _, idx := range positions[keyID(result.GetEntity().GetKey())] {
				found[idx] = result.GetEntity()
			}
		}
		pending = resp.GetDeferred()
	}

	return found, nil
}

func keyID(key *pb.Key) string {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(key)
	if err != nil {
		return ""
	}
	return string(b)
}
