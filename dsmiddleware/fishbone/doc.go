/*
Package fishbone rewrites entity queries into a keys-only query followed by a
Lookup of the returned keys.

Keys-only queries are billed as small operations. The entities are then read
by key, so a cache middleware placed after fishbone can serve them.

	client.AppendMiddleware(fishbone.New())
	client.AppendMiddleware(localcache.New())

Projection, keys-only and GQL queries are not rewritten.
An entity deleted between the query and the lookup is left in the batch as a
result with no entity. It counts against the query limit, and the client's
iterator skips it.

Why fishbone?

https://www.google.co.jp/search?q=%E9%AD%9A%E3%81%AE%E9%A3%9F%E3%81%B9%E6%96%B9+%E8%83%8C%E9%AA%A8&tbm=isch

Recommend: measure before using this middleware in production.
Every result page costs one extra Lookup RPC.
*/
package fishbone // import "go.mercari.io/dsrpc/dsmiddleware/fishbone"
