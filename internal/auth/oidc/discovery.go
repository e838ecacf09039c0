package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
)

// DiscoveryDocument represents the OIDC discovery document
type DiscoveryDocument struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	UserinfoEndpoint       string   `json:"userinfo_endpoint"`
	JWKSURI                string   `json:"jwks_uri"`
	ResponseTypesSupported []string `json:"response_types_supported"`
}

// DiscoveryCache caches OIDC discovery documents per normalized issuer.
// Concurrent misses for the same issuer share one fetch, made with the
// client found in the context under oauth2.HTTPClient when there is one.
type DiscoveryCache struct {
	cache      *cache.Cache
	group      singleflight.Group
	httpClient *http.Client
}

// NewDiscoveryCache creates a new discovery cache with the specified TTL
func NewDiscoveryCache(ttl time.Duration, httpClient *http.Client) *DiscoveryCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscoveryCache{
		cache:      cache.New(ttl, 2*ttl),
		httpClient: httpClient,
	}
}

// Get fetches or retrieves from cache the OIDC discovery document
func (c *DiscoveryCache) Get(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	key, err := urlutil.NormalizeIssuer(issuer)
	if err != nil {
		return nil, err
	}
	if doc, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("oidc_discovery").Inc()
		return doc.(*DiscoveryDocument), nil
	}
	metrics.CacheMisses.WithLabelValues("oidc_discovery").Inc()

	v, err := sharedFetch(ctx, &c.group, key, clientFor(ctx, c.httpClient), func(ctx context.Context, client *http.Client) (any, error) {
		doc, err := c.fetch(ctx, client, key)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DiscoveryDocument), nil
}

func (c *DiscoveryCache) fetch(ctx context.Context, client *http.Client, issuer string) (*DiscoveryDocument, error) {
	discoveryURL, err := urlutil.OIDCDiscoveryURL(issuer)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("incomplete discovery document from %s", issuer)
	}

	return &doc, nil
}
