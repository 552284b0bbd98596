package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/grpc/metadata"
)

type countingSource struct {
	m      sync.Mutex
	calls  int
	expiry time.Time
	err    error
}

func (s *countingSource) Token() (*oauth2.Token, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: "token", TokenType: "Bearer", Expiry: s.expiry}, nil
}

func TestTokenCache_ReusesValidToken(t *testing.T) {
	src := &countingSource{expiry: time.Now().Add(time.Hour)}
	c := NewTokenCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token()
			if err != nil {
				t.Error(err)
			} else if tok != "Bearer token" {
				t.Errorf("unexpected: %v", tok)
			}
		}()
	}
	wg.Wait()

	if v := src.calls; v != 1 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestTokenCache_RefreshesExpiredToken(t *testing.T) {
	src := &countingSource{expiry: time.Now().Add(-time.Hour)}
	c := NewTokenCache(src)

	for i := 0; i < 3; i++ {
		if _, err := c.Token(); err != nil {
			t.Fatal(err)
		}
	}

	if v := src.calls; v != 3 {
		t.Fatalf("unexpected: %v", v)
	}
}

func TestTokenCache_Error(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	c := NewTokenCache(src)

	if _, err := c.Authorize(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestTokenCache_Authorize(t *testing.T) {
	c := NewTokenCache(&countingSource{expiry: time.Now().Add(time.Hour)})

	ctx, err := c.Authorize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("metadata not attached")
	}
	if v := md.Get("authorization"); len(v) != 1 || v[0] != "Bearer token" {
		t.Fatalf("unexpected: %v", v)
	}

	var nilCache *TokenCache
	ctx2 := context.Background()
	if got, err := nilCache.Authorize(ctx2); err != nil || got != ctx2 {
		t.Fatalf("unexpected: %v, %v", got, err)
	}
}
