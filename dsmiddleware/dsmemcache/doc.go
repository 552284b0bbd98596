/*
Package dsmemcache caches Lookup results in memcached.
How the cache is filled and invalidated is explained in the storagecache package's document.

Entities are stored as serialized wire entities.
A cache key longer than memcached allows is replaced by its xxh3 digest,
and the key of a cached entity is checked before it is served.

Related document.

https://godoc.org/github.com/bradfitz/gomemcache/memcache
*/
package dsmemcache // import "go.mercari.io/dsrpc/dsmiddleware/dsmemcache"
