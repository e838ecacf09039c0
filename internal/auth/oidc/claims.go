package oidc

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the standardized claims extracted from an OIDC ID token
type Claims struct {
	// Subject - unique identifier for the user at the provider
	Subject string

	Email         string
	EmailVerified bool
	Name          string
	Picture       string

	// Issuer is the OIDC provider that issued the token
	Issuer string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// Raw holds every claim of the token
	Raw map[string]any
}

// claimsFromMap extracts the standard claims of a verified token
func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{Raw: map[string]any(m)}
	c.Subject, _ = m["sub"].(string)
	c.Email, _ = m["email"].(string)
	c.EmailVerified, _ = m["email_verified"].(bool)
	c.Name, _ = m["name"].(string)
	c.Picture, _ = m["picture"].(string)
	c.Issuer, _ = m["iss"].(string)
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c
}

// IsExpired checks if the token has expired
func (c *Claims) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
