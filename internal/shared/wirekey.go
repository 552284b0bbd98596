package shared

import (
	"encoding/base64"
	"strconv"
	"strings"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"google.golang.org/protobuf/proto"
)

// WireKeyString renders a wire key the way datastore.Key.String does,
// e.g. "/Parent,p1/Child,42".
func WireKeyString(k *pb.Key) string {
	var b strings.Builder
	for _, el := range k.GetPath() {
		b.WriteByte('/')
		b.WriteString(el.GetKind())
		b.WriteByte(',')
		if name := el.GetName(); name != "" {
			b.WriteString(name)
		} else {
			b.WriteString(strconv.FormatInt(el.GetId(), 10))
		}
	}
	return b.String()
}

func WireKeysString(keys []*pb.Key) string {
	keyStrings := make([]string, 0, len(keys))
	for _, key := range keys {
		keyStrings = append(keyStrings, WireKeyString(key))
	}
	return strings.Join(keyStrings, ", ")
}

// WireKeyCacheKey returns a stable, printable identity for k, suitable as a
// cache key. Keys in different projects or namespaces never collide.
func WireKeyCacheKey(k *pb.Key) (string, error) {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(k)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MutationKey returns the key a mutation writes or deletes.
func MutationKey(m *pb.Mutation) *pb.Key {
	switch op := m.GetOperation().(type) {
	case *pb.Mutation_Insert:
		return op.Insert.GetKey()
	case *pb.Mutation_Update:
		return op.Update.GetKey()
	case *pb.Mutation_Upsert:
		return op.Upsert.GetKey()
	case *pb.Mutation_Delete:
		return op.Delete
	}
	return nil
}

// MutationKind names the mutation operation.
func MutationKind(m *pb.Mutation) string {
	switch m.GetOperation().(type) {
	case *pb.Mutation_Insert:
		return "insert"
	case *pb.Mutation_Update:
		return "update"
	case *pb.Mutation_Upsert:
		return "upsert"
	case *pb.Mutation_Delete:
		return "delete"
	}
	return "unknown"
}
