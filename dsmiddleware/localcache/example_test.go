package localcache_test

import (
	"context"
	"time"

	"go.mercari.io/dsrpc/clouddatastore"
	"go.mercari.io/dsrpc/dsmiddleware/localcache"
)

func Example_howToUse() {
	ctx := context.Background()
	client, err := clouddatastore.FromContext(ctx)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// cache only master data, and not for long
	mw := localcache.New(
		localcache.WithIncludeKinds("Country", "Currency"),
		localcache.WithExpireDuration(30*time.Second),
	)
	client.AppendMiddleware(mw)
}
