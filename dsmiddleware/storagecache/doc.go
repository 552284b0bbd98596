/*
Package storagecache serves Lookup RPCs from a Storage and keeps it in sync with Commit RPCs.

Found entities are written to the Storage after a Lookup. A non-transactional Commit
writes the stored entities through, and any other Commit drops the mutated keys.
Transactional lookups and lookups with a read time always go to Datastore.
Backends are localcache, rediscache and dsmemcache.
*/
package storagecache // import "go.mercari.io/dsrpc/dsmiddleware/storagecache"
