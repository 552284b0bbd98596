/*
Package splitop provides a avoid Datastore's limitation.

https://cloud.google.com/datastore/docs/concepts/limits

# DO

  - split Lookup RPC to under 1000 keys per one call.
    Maximum number of keys allowed for a Lookup operation in the Cloud Datastore API : 1,000
  - split non-transactional Commit RPC to under 500 mutations per one call.
    Maximum number of entities that can be passed to a Commit operation in the Cloud Datastore API : 500

A transactional Commit is never split.
When a split Commit fails, the chunks sent before the failure stay applied.
*/
package splitop // import "go.mercari.io/dsrpc/dsmiddleware/splitop"
