package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
)

// Verifier validates ID tokens issued by one OIDC issuer for one client
type Verifier struct {
	issuer    string
	clientID  string
	discovery *DiscoveryCache
	keys      *KeySetCache
}

// NewVerifier creates an ID token verifier
func NewVerifier(issuer, clientID string, discovery *DiscoveryCache, keys *KeySetCache) *Verifier {
	if normalized, err := urlutil.NormalizeIssuer(issuer); err == nil {
		issuer = normalized
	}
	return &Verifier{
		issuer:    issuer,
		clientID:  clientID,
		discovery: discovery,
		keys:      keys,
	}
}

// Verify checks signature, issuer, audience and expiry of an ID token
func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	doc, err := v.discovery.Get(ctx, v.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to get discovery document: %w", err)
	}

	token, err := jwt.Parse(rawIDToken, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return v.keys.GetKey(ctx, doc.JWKSURI, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims format")
	}

	claims := claimsFromMap(mapClaims)
	if claims.Issuer != v.issuer && claims.Issuer != doc.Issuer {
		return nil, fmt.Errorf("invalid issuer: %s (expected %s)", claims.Issuer, v.issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return claims, nil
}
