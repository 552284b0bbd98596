package storagecache

import (
	"context"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
)

func kindOf(key *pb.Key) string {
	path := key.GetPath()
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1].GetKind()
}

// WithIncludeKinds caches only entities of the given kinds.
func WithIncludeKinds(kinds ...string) KeyFilter {
	return func(ctx context.Context, key *pb.Key) bool {
		for _, incKind := range kinds {
			if kindOf(key) == incKind {
				return true
			}
		}

		return false
	}
}

// WithExcludeKinds never caches entities of the given kinds.
func WithExcludeKinds(kinds ...string) KeyFilter {
	return func(ctx context.Context, key *pb.Key) bool {
		for _, excKind := range kinds {
			if kindOf(key) == excKind {
				return false
			}
		}

		return true
	}
}
