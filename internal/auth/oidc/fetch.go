package oidc

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 10 * time.Second

// clientFor returns the HTTP client a provider put in ctx under
// oauth2.HTTPClient, or fallback
func clientFor(ctx context.Context, fallback *http.Client) *http.Client {
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return fallback
}

// sharedFetch runs fn once per key for all concurrent callers. The fetch
// is detached from the caller that started it and bounded by the client
// timeout, so one caller giving up does not fail the others.
func sharedFetch(ctx context.Context, group *singleflight.Group, key string, client *http.Client, fn func(context.Context, *http.Client) (any, error)) (any, error) {
	ch := group.DoChan(key, func() (any, error) {
		timeout := client.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fetchCtx, client)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
