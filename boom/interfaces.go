package boom

import (
	"context"

	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/clouddatastore"
)

// FromContext make new Boom object with a client built by clouddatastore.FromContext.
func FromContext(ctx context.Context, opts ...datastore.ClientOption) (*Boom, error) {
	client, err := clouddatastore.FromContext(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Boom{Context: ctx, Client: client}, nil
}

// FromClient make new Boom object from specified datastore.Client.
func FromClient(ctx context.Context, client datastore.Client) *Boom {
	return &Boom{Context: ctx, Client: client}
}
