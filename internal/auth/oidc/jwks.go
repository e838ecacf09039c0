package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// KeySetCache caches RSA public keys per JWKS URL. Like DiscoveryCache it
// fetches with the context's oauth2.HTTPClient when one is set.
type KeySetCache struct {
	cache      *cache.Cache
	group      singleflight.Group
	httpClient *http.Client
}

// NewKeySetCache creates a new JWKS cache
func NewKeySetCache(ttl time.Duration, httpClient *http.Client) *KeySetCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySetCache{
		cache:      cache.New(ttl, 2*ttl),
		httpClient: httpClient,
	}
}

// GetKey retrieves a public key by key ID, refreshing once on a miss in case
// the provider rotated its keys
func (j *KeySetCache) GetKey(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	if v, ok := j.cache.Get(jwksURL); ok {
		if key, ok := v.(map[string]*rsa.PublicKey)[kid]; ok {
			metrics.CacheHits.WithLabelValues("jwks").Inc()
			return key, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("jwks").Inc()

	v, err := sharedFetch(ctx, &j.group, jwksURL, clientFor(ctx, j.httpClient), func(ctx context.Context, client *http.Client) (any, error) {
		keys, err := j.fetch(ctx, client, jwksURL)
		if err != nil {
			return nil, err
		}
		j.cache.SetDefault(jwksURL, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}

	key, ok := v.(map[string]*rsa.PublicKey)[kid]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return key, nil
}

// fetch downloads and parses the RSA keys of a JWKS document
func (j *KeySetCache) fetch(ctx context.Context, client *http.Client, jwksURL string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, keyData := range jwks.Keys {
		var keyInfo struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		}
		if err := json.Unmarshal(keyData, &keyInfo); err != nil || keyInfo.Kty != "RSA" {
			continue
		}

		pub, err := parseRSAKey(keyInfo.N, keyInfo.E)
		if err != nil {
			continue
		}
		keys[keyInfo.Kid] = pub
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid keys found in JWKS")
	}
	return keys, nil
}

// parseRSAKey builds a public key from base64url modulus and exponent
func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}

	var eInt int
	for _, b := range eBytes {
		eInt = eInt<<8 + int(b)
	}
	if eInt == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}, nil
}
