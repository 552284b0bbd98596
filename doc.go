/*
Package datastore is a Google Cloud Datastore client that speaks the v1 RPC
API directly.

repository https://github.com/mercari/datastore

Let's read https://cloud.google.com/datastore/docs/ .
The wire types are the ones of https://godoc.org/cloud.google.com/go/datastore/apiv1/datastorepb .

# Basic usage

Create a Client using the FromContext function of https://godoc.org/go.mercari.io/dsrpc/clouddatastore .
The project is taken from WithProjectID, DATASTORE_PROJECT_ID, PROJECT_ID or the GCE metadata server, in this order.
When DATASTORE_EMULATOR_HOST is set the client connects to the emulator without credentials.

Entities are read from and written to struct pointers, PropertyList or *Entity.
Struct fields are mapped with the `datastore` tag.

	type Post struct {
		Key     *datastore.Key `datastore:"__key__"`
		Title   string
		Body    string   `datastore:",noindex"`
		Tags    []string `datastore:",omitempty"`
		Skipped string   `datastore:"-"`
	}

A nested struct is stored as an embedded entity. An anonymous struct field is flattened into its parent.

# Lookups and queries

Get and GetMulti issue a Lookup RPC. Keys the service defers are looked up again
until every key is resolved or WithMaxDeferredRetries re-issues were spent.

Run returns an Iterator that fetches the next page with the end cursor of the
previous one while the service reports NOT_FINISHED. Limit and Offset are kept
across pages. Iterator.Next returns iterator.Done after the last result.

# Writes

Put, PutMulti, Delete and DeleteMulti are sent as one NON_TRANSACTIONAL Commit.
An incomplete key is inserted and the allocated key is returned; a complete key is upserted.
Transactions buffer mutations and send them as one TRANSACTIONAL Commit.

# Middleware layer

Every RPC goes through the middlewares added by AppendMiddleware, first-in first-applied.
A middleware sees the raw request and response and calls info.Next to continue.

Put Entity to Datastore and set it to Memcache or Redis.
Next, when getting from Datastore, Get from Memcache first, Get it again from Datastore if it fails.
It is very troublesome to provide these operations for all Kind and all Entity operations.
However, if the middleware intervenes with all Datastore RPCs, you can transparently process without affecting the application code.

Please refer to https://godoc.org/go.mercari.io/dsrpc/dsmiddleware if you want to know the middleware already provided.

# Batch processing

The operation of Datastore has very little latency with respect to RPC's network.
When acquiring 10 entities it means that GetMulti one time is better than getting 10 times using loops.
Batch() queues Put, Get and Delete and executes each group as one multi call.
Handlers passed to the queued operations may enqueue more work; Exec runs until the queues are empty.
*/
package datastore // import "go.mercari.io/dsrpc"
