// Package auth holds the client's shared OAuth2 token cache.
package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/grpc/metadata"
)

var ErrNoToken = errors.New("auth: token source returned no access token")

// TokenCache serializes token refreshes for every call sharing a client.
// The token is fetched lazily and reused until it stops being valid.
type TokenCache struct {
	m   sync.Mutex
	src oauth2.TokenSource
	tok *oauth2.Token
}

func NewTokenCache(src oauth2.TokenSource) *TokenCache {
	return &TokenCache{src: src}
}

// Token returns the bearer credential, e.g. "Bearer ya29...".
func (c *TokenCache) Token() (string, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if !c.tok.Valid() {
		tok, err := c.src.Token()
		if err != nil {
			return "", err
		}
		if tok.AccessToken == "" {
			return "", ErrNoToken
		}
		c.tok = tok
	}

	return c.tok.Type() + " " + c.tok.AccessToken, nil
}

// Authorize attaches the bearer credential to the outgoing gRPC metadata.
// A nil cache leaves ctx as is.
func (c *TokenCache) Authorize(ctx context.Context) (context.Context, error) {
	if c == nil {
		return ctx, nil
	}
	tok, err := c.Token()
	if err != nil {
		return nil, err
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", tok), nil
}
