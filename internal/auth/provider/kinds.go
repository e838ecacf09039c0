package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/devilmonastery/oauthlink/internal/auth/oidc"
)

// Kind builds clients for one family of providers. Validate runs at
// registration time so a misconfigured provider never reaches a flow.
type Kind struct {
	Validate func(cfg Configuration) error
	New      func(ctx context.Context, cfg Configuration, redirectURL string) (Client, error)
}

const (
	KindOAuth2 = "oauth2"
	KindGitHub = "github"
	KindGoogle = "google"
	KindOIDC   = "oidc"
)

func builtinKinds(discovery *oidc.DiscoveryCache, keys *oidc.KeySetCache) map[string]Kind {
	return map[string]Kind{
		KindOAuth2: {
			Validate: requireOptions("client_id", "authorize_url", "token_url", "userinfo_url"),
			New: func(_ context.Context, cfg Configuration, redirectURL string) (Client, error) {
				endpoint := oauth2.Endpoint{
					AuthURL:  cfg.Option("authorize_url"),
					TokenURL: cfg.Option("token_url"),
				}
				return newOAuth2Client(cfg, endpoint, cfg.Option("userinfo_url"), "id", redirectURL), nil
			},
		},
		KindGitHub: {
			Validate: requireOptions("client_id"),
			New: func(_ context.Context, cfg Configuration, redirectURL string) (Client, error) {
				endpoint := endpoints.GitHub
				if v := cfg.Option("authorize_url"); v != "" {
					endpoint.AuthURL = v
				}
				if v := cfg.Option("token_url"); v != "" {
					endpoint.TokenURL = v
				}
				userinfo := "https://api.github.com/user"
				if v := cfg.Option("userinfo_url"); v != "" {
					userinfo = v
				}
				return newOAuth2Client(cfg.withDefaultScopes("read:user"), endpoint, userinfo, "id", redirectURL), nil
			},
		},
		KindGoogle: {
			Validate: requireOptions("client_id"),
			New: func(_ context.Context, cfg Configuration, redirectURL string) (Client, error) {
				cfg = cfg.withDefaultScopes("openid", "email", "profile")
				return newOAuth2Client(cfg, endpoints.Google, "https://openidconnect.googleapis.com/v1/userinfo", "sub", redirectURL), nil
			},
		},
		KindOIDC: {
			Validate: requireOptions("client_id", "issuer"),
			New: func(ctx context.Context, cfg Configuration, redirectURL string) (Client, error) {
				doc, err := discovery.Get(context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient()), cfg.Option("issuer"))
				if err != nil {
					return nil, fmt.Errorf("failed to discover %s: %w", cfg.Option("issuer"), err)
				}
				endpoint := oauth2.Endpoint{AuthURL: doc.AuthorizationEndpoint, TokenURL: doc.TokenEndpoint}
				base := newOAuth2Client(cfg.withDefaultScopes("openid"), endpoint, doc.UserinfoEndpoint, "sub", redirectURL)
				return &oidcClient{
					oauth2Client: base,
					verifier:     oidc.NewVerifier(cfg.Option("issuer"), cfg.Option("client_id"), discovery, keys),
				}, nil
			},
		},
	}
}

// requireOptions checks that options are present, that *_url and issuer
// options are absolute URLs and that auth_style is known
func requireOptions(keys ...string) func(Configuration) error {
	return func(cfg Configuration) error {
		switch cfg.Option("auth_style") {
		case "", "header", "params":
		default:
			return fmt.Errorf("option \"auth_style\" must be header or params")
		}
		for _, k := range keys {
			v := cfg.Option(k)
			if v == "" {
				return fmt.Errorf("option %q is required", k)
			}
			if k == "issuer" || strings.HasSuffix(k, "_url") {
				u, err := url.Parse(v)
				if err != nil || !u.IsAbs() || u.Host == "" {
					return fmt.Errorf("option %q must be an absolute URL", k)
				}
			}
		}
		return nil
	}
}
