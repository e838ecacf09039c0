package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/devilmonastery/oauthlink/internal/auth/oidc"
	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// Registry holds the provider configurations of each audience. An audience
// that was never enabled is unavailable, which is different from an
// audience with zero providers.
type Registry struct {
	mu        sync.RWMutex
	audiences map[entities.Audience]*audienceProviders
	kinds     map[string]Kind
	discovery *oidc.DiscoveryCache
	keys      *oidc.KeySetCache
}

type audienceProviders struct {
	byID  map[string]Configuration
	order []string
}

// Option configures a Registry
type Option func(*Registry)

// WithKind adds or replaces a provider kind
func WithKind(name string, kind Kind) Option {
	return func(r *Registry) {
		r.kinds[name] = kind
	}
}

// WithOIDCCaches shares discovery and key caches across registries
func WithOIDCCaches(discovery *oidc.DiscoveryCache, keys *oidc.KeySetCache) Option {
	return func(r *Registry) {
		r.discovery = discovery
		r.keys = keys
	}
}

// NewRegistry creates an empty registry with the built-in kinds
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		audiences: make(map[entities.Audience]*audienceProviders),
		kinds:     make(map[string]Kind),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.discovery == nil {
		r.discovery = oidc.NewDiscoveryCache(24*time.Hour, nil)
	}
	if r.keys == nil {
		r.keys = oidc.NewKeySetCache(time.Hour, nil)
	}
	for name, kind := range builtinKinds(r.discovery, r.keys) {
		if _, overridden := r.kinds[name]; !overridden {
			r.kinds[name] = kind
		}
	}
	return r
}

// FromConfig builds a registry from the auth section of the configuration.
// Audiences without a section stay unavailable.
func FromConfig(auth config.AuthConfig, collab Collaborators, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	sections := map[entities.Audience]*config.AudienceConfig{
		entities.AudienceAdmin:   auth.Admin,
		entities.AudienceVisitor: auth.Visitor,
	}
	for _, audience := range entities.Audiences {
		section := sections[audience]
		if section == nil {
			continue
		}
		if err := r.EnableAudience(audience); err != nil {
			return nil, err
		}
		for _, pc := range section.Providers {
			cfg, err := NewConfiguration(pc, collab)
			if err != nil {
				return nil, err
			}
			if err := r.Register(cfg, audience); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// EnableAudience makes an audience available, even without providers
func (r *Registry) EnableAudience(audience entities.Audience) error {
	if !audience.Valid() {
		return configError("", audience, "unknown audience")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.audiences[audience]; !ok {
		r.audiences[audience] = &audienceProviders{byID: make(map[string]Configuration)}
	}
	return nil
}

// Register adds a provider to an audience, enabling the audience if needed.
// Fails with a ConfigurationError on duplicate identifiers, unknown kinds
// and options the kind rejects.
func (r *Registry) Register(cfg Configuration, audience entities.Audience) error {
	if cfg.identifier == "" {
		return configError("", audience, "identifier is required")
	}
	if err := r.EnableAudience(audience); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind, ok := r.kinds[cfg.kind]
	if !ok {
		return configError(cfg.identifier, audience, "unknown kind %q", cfg.kind)
	}
	if kind.Validate != nil {
		if err := kind.Validate(cfg); err != nil {
			return configError(cfg.identifier, audience, "%v", err)
		}
	}

	ap := r.audiences[audience]
	if _, exists := ap.byID[cfg.identifier]; exists {
		return configError(cfg.identifier, audience, "already registered")
	}
	ap.byID[cfg.identifier] = cfg
	ap.order = append(ap.order, cfg.identifier)

	slog.Debug("provider registered",
		slog.String("audience", string(audience)),
		slog.String("provider", cfg.identifier),
		slog.String("kind", cfg.kind),
		slog.Bool("enabled", cfg.enabled))
	return nil
}

// Available reports whether the audience has been enabled
func (r *Registry) Available(audience entities.Audience) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.audiences[audience]
	return ok
}

// Get returns a registered provider, enabled or not
func (r *Registry) Get(identifier string, audience entities.Audience) (Configuration, bool) {
	if r == nil {
		return Configuration{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ap, ok := r.audiences[audience]
	if !ok {
		return Configuration{}, false
	}
	cfg, ok := ap.byID[identifier]
	return cfg, ok
}

// ListConfigured returns every provider of an audience in registration
// order. The boolean is false when the audience is unavailable.
func (r *Registry) ListConfigured(audience entities.Audience) ([]Configuration, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ap, ok := r.audiences[audience]
	if !ok {
		return nil, false
	}
	out := make([]Configuration, 0, len(ap.order))
	for _, id := range ap.order {
		out = append(out, ap.byID[id])
	}
	return out, true
}

// ListEnabled returns the providers exposed to end users. A non-empty
// allowlist (a site's provider policy) further restricts the result.
func (r *Registry) ListEnabled(audience entities.Audience, allowlist ...string) ([]Configuration, bool) {
	all, ok := r.ListConfigured(audience)
	if !ok {
		return nil, false
	}
	out := make([]Configuration, 0, len(all))
	for _, cfg := range all {
		if !cfg.enabled {
			continue
		}
		if len(allowlist) > 0 && !slices.Contains(allowlist, cfg.identifier) {
			continue
		}
		out = append(out, cfg)
	}
	return out, true
}

// NewClient builds the client of an enabled provider
func (r *Registry) NewClient(ctx context.Context, identifier string, audience entities.Audience, redirectURL string) (Client, error) {
	cfg, ok := r.Get(identifier, audience)
	if !ok || !cfg.enabled {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownProvider, identifier, audience)
	}

	r.mu.RLock()
	kind := r.kinds[cfg.kind]
	r.mu.RUnlock()

	client, err := kind.New(ctx, cfg, redirectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for %s: %w", identifier, err)
	}
	return client, nil
}
