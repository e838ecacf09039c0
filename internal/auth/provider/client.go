package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/devilmonastery/oauthlink/internal/auth/oidc"
)

// ResourceOwner is the remote identity returned by a provider
type ResourceOwner struct {
	ID      string
	Profile map[string]any
}

// Client performs the wire-level steps of the authorization-code flow for one provider
type Client interface {
	// AuthCodeURL returns the provider authorization URL carrying state
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token. It is never retried.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// ResourceOwner fetches the identity the token belongs to
	ResourceOwner(ctx context.Context, token *oauth2.Token) (*ResourceOwner, error)
}

// oauth2Client is a Client over golang.org/x/oauth2 and a JSON userinfo endpoint
type oauth2Client struct {
	conf        *oauth2.Config
	userinfoURL string
	idField     string
	httpClient  *http.Client

	allowedDomains []string
}

func newOAuth2Client(cfg Configuration, endpoint oauth2.Endpoint, userinfoURL, idField, redirectURL string) *oauth2Client {
	if v := cfg.Option("id_field"); v != "" {
		idField = v
	}
	switch cfg.Option("auth_style") {
	case "params":
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	case "header":
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	default:
		// auto-detection would send the single-use code a second time
		if endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
			endpoint.AuthStyle = oauth2.AuthStyleInHeader
		}
	}
	return &oauth2Client{
		conf: &oauth2.Config{
			ClientID:     cfg.Option("client_id"),
			ClientSecret: cfg.Option("client_secret"),
			Endpoint:     endpoint,
			RedirectURL:  redirectURL,
			Scopes:       cfg.Scopes(),
		},
		userinfoURL:    userinfoURL,
		idField:        idField,
		httpClient:     cfg.HTTPClient(),
		allowedDomains: oidc.ParseDomains(cfg.Option("allowed_domains")),
	}
}

// withHTTPClient makes the oauth2 package use the provider's HTTP client
func (c *oauth2Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *oauth2Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

func (c *oauth2Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is empty")
	}
	tok, err := c.conf.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, err
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("token endpoint returned an unusable token")
	}
	return tok, nil
}

func (c *oauth2Client) ResourceOwner(ctx context.Context, token *oauth2.Token) (*ResourceOwner, error) {
	profile, err := c.fetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	id := stringClaim(profile, c.idField)
	if id == "" {
		return nil, fmt.Errorf("userinfo response has no %q field", c.idField)
	}
	if err := c.checkDomain(verifiedEmail(profile), stringClaim(profile, "hd")); err != nil {
		return nil, err
	}
	return &ResourceOwner{ID: id, Profile: profile}, nil
}

// checkDomain enforces the allowed_domains option
func (c *oauth2Client) checkDomain(email, hostedDomain string) error {
	if !oidc.DomainAllowed(email, hostedDomain, c.allowedDomains) {
		return fmt.Errorf("identity %q is outside the allowed domains", email)
	}
	return nil
}

// verifiedEmail returns the email of a profile unless the provider says it is unverified
func verifiedEmail(profile map[string]any) string {
	if verified, ok := profile["email_verified"].(bool); ok && !verified {
		return ""
	}
	return stringClaim(profile, "email")
}

func (c *oauth2Client) fetchProfile(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	if c.userinfoURL == "" {
		return nil, fmt.Errorf("userinfo endpoint not available")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.conf.Client(c.withHTTPClient(ctx), token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var profile map[string]any
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return profile, nil
}

// stringClaim renders string and numeric identifiers alike, so a numeric
// GitHub id 42 becomes "42"
func stringClaim(profile map[string]any, field string) string {
	switch v := profile[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// oidcClient verifies the id_token returned with the access token and uses
// its subject as the remote identifier
type oidcClient struct {
	*oauth2Client
	verifier *oidc.Verifier
}

func (c *oidcClient) ResourceOwner(ctx context.Context, token *oauth2.Token) (*ResourceOwner, error) {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return c.oauth2Client.ResourceOwner(ctx, token)
	}

	claims, err := c.verifier.Verify(c.withHTTPClient(ctx), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}
	email := claims.Email
	if !claims.EmailVerified {
		email = ""
	}
	hd, _ := claims.Raw["hd"].(string)
	if err := c.checkDomain(email, hd); err != nil {
		return nil, err
	}
	return &ResourceOwner{ID: claims.Subject, Profile: claims.Raw}, nil
}
