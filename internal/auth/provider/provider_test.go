package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

func boolPtr(b bool) *bool { return &b }

// fakeProvider serves token and userinfo endpoints
func fakeProvider(t *testing.T, userinfo map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "goodcode" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(userinfo)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func oauth2Config(id, base string) config.ProviderConfig {
	return config.ProviderConfig{
		Identifier: id,
		Label:      "Test",
		Kind:       KindOAuth2,
		Scopes:     []string{"read", "read", " "},
		Options: map[string]string{
			"client_id":     "cid",
			"client_secret": "secret",
			"authorize_url": base + "/authorize",
			"token_url":     base + "/token",
			"userinfo_url":  base + "/user",
		},
	}
}

func TestNewConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr bool
	}{
		{"valid", config.ProviderConfig{Identifier: "github", Kind: "github"}, false},
		{"empty identifier", config.ProviderConfig{Kind: "github"}, true},
		{"not a slug", config.ProviderConfig{Identifier: "Git Hub", Kind: "github"}, true},
		{"missing kind", config.ProviderConfig{Identifier: "github"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfiguration(tt.cfg, Collaborators{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewConfiguration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v is not a configuration error", err)
			}
		})
	}
}

func TestConfigurationIsSanitisedAndImmutable(t *testing.T) {
	pc := config.ProviderConfig{
		Identifier:  "github",
		Label:       `<b onclick="x()">GitHub</b>`,
		Description: `Sign in <script>alert(1)</script>`,
		Kind:        "GitHub",
		Scopes:      []string{"read:user", "read:user"},
	}
	cfg, err := NewConfiguration(pc, Collaborators{})
	if err != nil {
		t.Fatalf("NewConfiguration() error = %v", err)
	}

	if cfg.Label() != "GitHub" {
		t.Errorf("Label() = %q, want GitHub", cfg.Label())
	}
	if strings.Contains(cfg.Description(), "<") {
		t.Errorf("Description() not sanitised: %q", cfg.Description())
	}
	if cfg.Kind() != KindGitHub {
		t.Errorf("Kind() = %q, want lowercased github", cfg.Kind())
	}
	if !cfg.HasScope("read:user") || len(cfg.Scopes()) != 1 {
		t.Errorf("Scopes() = %v, want deduplicated [read:user]", cfg.Scopes())
	}
	if !cfg.Enabled() {
		t.Error("Enabled() should default to true")
	}
	if cfg.HTTPClient() == nil || cfg.HTTPClient().Timeout != DefaultHTTPTimeout {
		t.Error("HTTPClient() should default to a client with a bounded timeout")
	}

	cfg.Scopes()[0] = "admin"
	pc.Scopes[0] = "admin"
	if !cfg.HasScope("read:user") {
		t.Error("configuration scopes were mutated from outside")
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	good, _ := NewConfiguration(oauth2Config("corp", "https://idp.example"), Collaborators{})
	if err := r.Register(good, entities.AudienceAdmin); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	unknownKind, _ := NewConfiguration(config.ProviderConfig{Identifier: "x", Kind: "saml"}, Collaborators{})
	missingOption, _ := NewConfiguration(config.ProviderConfig{Identifier: "gh", Kind: "github"}, Collaborators{})
	badURL := oauth2Config("bad", "https://idp.example")
	badURL.Options["token_url"] = "/relative"
	badURLCfg, _ := NewConfiguration(badURL, Collaborators{})

	tests := []struct {
		name     string
		cfg      Configuration
		audience entities.Audience
	}{
		{"duplicate identifier", good, entities.AudienceAdmin},
		{"unknown kind", unknownKind, entities.AudienceAdmin},
		{"missing option", missingOption, entities.AudienceAdmin},
		{"relative url", badURLCfg, entities.AudienceAdmin},
		{"unknown audience", good, entities.Audience("robots")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.cfg, tt.audience)
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Register() error = %v, want ConfigurationError", err)
			}
		})
	}

	if err := r.Register(good, entities.AudienceVisitor); err != nil {
		t.Errorf("same identifier in another audience should register: %v", err)
	}
}

func TestRegistryListing(t *testing.T) {
	var nilRegistry *Registry
	if _, ok := nilRegistry.ListConfigured(entities.AudienceAdmin); ok {
		t.Error("nil registry should report the audience unavailable")
	}

	auth := config.AuthConfig{
		Admin: &config.AudienceConfig{},
		Visitor: &config.AudienceConfig{Providers: []config.ProviderConfig{
			oauth2Config("first", "https://idp.example"),
			func() config.ProviderConfig {
				c := oauth2Config("second", "https://idp.example")
				c.Enabled = boolPtr(false)
				return c
			}(),
			oauth2Config("third", "https://idp.example"),
		}},
	}
	r, err := FromConfig(auth, Collaborators{})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	admin, ok := r.ListConfigured(entities.AudienceAdmin)
	if !ok || len(admin) != 0 {
		t.Errorf("admin ListConfigured() = %v, %v; want empty, true", admin, ok)
	}

	configured, ok := r.ListConfigured(entities.AudienceVisitor)
	if !ok || len(configured) != 3 || configured[0].Identifier() != "first" {
		t.Errorf("visitor ListConfigured() = %v, %v", configured, ok)
	}

	enabled, _ := r.ListEnabled(entities.AudienceVisitor)
	if len(enabled) != 2 {
		t.Errorf("ListEnabled() returned %d providers, want 2", len(enabled))
	}

	allowed, _ := r.ListEnabled(entities.AudienceVisitor, "third", "second")
	if len(allowed) != 1 || allowed[0].Identifier() != "third" {
		t.Errorf("ListEnabled(allowlist) = %v, want [third]", allowed)
	}

	if _, err := r.NewClient(context.Background(), "second", entities.AudienceVisitor, "https://cb"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("NewClient(disabled) error = %v, want ErrUnknownProvider", err)
	}
	if _, err := r.NewClient(context.Background(), "first", entities.AudienceAdmin, "https://cb"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("NewClient(other audience) error = %v, want ErrUnknownProvider", err)
	}

	noAdmin, err := FromConfig(config.AuthConfig{}, Collaborators{})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if _, ok := noAdmin.ListConfigured(entities.AudienceAdmin); ok {
		t.Error("audience without a config section should be unavailable")
	}
}

func TestOAuth2ClientFlow(t *testing.T) {
	server := fakeProvider(t, map[string]any{"id": 42, "login": "octocat"})
	cfg, err := NewConfiguration(oauth2Config("corp", server.URL), Collaborators{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewConfiguration() error = %v", err)
	}
	r := NewRegistry()
	if err := r.Register(cfg, entities.AudienceAdmin); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	client, err := r.NewClient(ctx, "corp", entities.AudienceAdmin, "https://app.example/cb")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	authURL, err := url.Parse(client.AuthCodeURL("st-1"))
	if err != nil {
		t.Fatalf("AuthCodeURL() not a URL: %v", err)
	}
	q := authURL.Query()
	if q.Get("state") != "st-1" || q.Get("client_id") != "cid" || q.Get("redirect_uri") != "https://app.example/cb" {
		t.Errorf("AuthCodeURL() query = %v", q)
	}
	if q.Get("scope") != "read" {
		t.Errorf("scope = %q, want read", q.Get("scope"))
	}

	if _, err := client.Exchange(ctx, "badcode"); err == nil {
		t.Error("Exchange(badcode) succeeded")
	}

	tok, err := client.Exchange(ctx, "goodcode")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	owner, err := client.ResourceOwner(ctx, tok)
	if err != nil {
		t.Fatalf("ResourceOwner() error = %v", err)
	}
	if owner.ID != "42" {
		t.Errorf("owner.ID = %q, want 42", owner.ID)
	}
	if owner.Profile["login"] != "octocat" {
		t.Errorf("owner.Profile = %v", owner.Profile)
	}
}

func TestResourceOwnerWithoutID(t *testing.T) {
	server := fakeProvider(t, map[string]any{"login": "anonymous"})
	cfg, _ := NewConfiguration(oauth2Config("corp", server.URL), Collaborators{HTTPClient: server.Client()})
	r := NewRegistry()
	if err := r.Register(cfg, entities.AudienceAdmin); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	client, _ := r.NewClient(ctx, "corp", entities.AudienceAdmin, "https://app.example/cb")
	tok, err := client.Exchange(ctx, "goodcode")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if _, err := client.ResourceOwner(ctx, tok); err == nil {
		t.Error("ResourceOwner() accepted a profile without an id")
	}
}

func TestWithKindOverridesBuiltin(t *testing.T) {
	called := false
	r := NewRegistry(WithKind(KindGitHub, Kind{
		New: func(ctx context.Context, cfg Configuration, redirectURL string) (Client, error) {
			called = true
			return nil, errors.New("stub")
		},
	}))
	cfg, _ := NewConfiguration(config.ProviderConfig{Identifier: "github", Kind: "github"}, Collaborators{})
	if err := r.Register(cfg, entities.AudienceAdmin); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.NewClient(context.Background(), "github", entities.AudienceAdmin, "https://cb"); err == nil || !called {
		t.Error("overridden kind was not used")
	}
}

func TestAllowedDomains(t *testing.T) {
	tests := []struct {
		name    string
		profile map[string]any
		wantErr bool
	}{
		{"allowed", map[string]any{"id": "1", "email": "alice@example.org", "email_verified": true}, false},
		{"no verification flag", map[string]any{"id": "2", "email": "bob@example.org"}, false},
		{"unverified email", map[string]any{"id": "3", "email": "carol@example.org", "email_verified": false}, true},
		{"other domain", map[string]any{"id": "4", "email": "mallory@example.net"}, true},
		{"no email", map[string]any{"id": "5"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeProvider(t, tt.profile)
			pc := oauth2Config("corp", server.URL)
			pc.Options["allowed_domains"] = "example.org"
			cfg, err := NewConfiguration(pc, Collaborators{HTTPClient: server.Client()})
			if err != nil {
				t.Fatalf("NewConfiguration() error = %v", err)
			}
			r := NewRegistry()
			if err := r.Register(cfg, entities.AudienceAdmin); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			ctx := context.Background()
			client, err := r.NewClient(ctx, "corp", entities.AudienceAdmin, "https://app.example/cb")
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			tok, err := client.Exchange(ctx, "goodcode")
			if err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}
			_, err = client.ResourceOwner(ctx, tok)
			if (err != nil) != tt.wantErr {
				t.Errorf("ResourceOwner() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
