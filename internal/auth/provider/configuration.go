package provider

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"

	"github.com/devilmonastery/oauthlink/internal/config"
)

// DefaultHTTPTimeout bounds every outbound call to a provider when the
// configuration does not set its own timeout
const DefaultHTTPTimeout = 10 * time.Second

var textPolicy = bluemonday.StrictPolicy()

// Collaborators are injectable dependencies of a provider client
type Collaborators struct {
	HTTPClient *http.Client
}

// Configuration is an immutable provider definition
type Configuration struct {
	identifier  string
	label       string
	description string
	icon        string
	kind        string
	scopes      []string
	options     map[string]string
	enabled     bool
	collab      Collaborators
}

// NewConfiguration validates a provider definition. The kind is checked
// later, when the configuration is registered.
func NewConfiguration(cfg config.ProviderConfig, collab Collaborators) (Configuration, error) {
	id := strings.TrimSpace(cfg.Identifier)
	if id == "" {
		return Configuration{}, configError(cfg.Identifier, "", "identifier is required")
	}
	if !slug.IsSlug(id) {
		return Configuration{}, configError(id, "", "identifier must be a lowercase slug")
	}
	if cfg.Kind == "" {
		return Configuration{}, configError(id, "", "kind is required")
	}

	if collab.HTTPClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		collab.HTTPClient = &http.Client{Timeout: timeout}
	}

	label := strings.TrimSpace(textPolicy.Sanitize(cfg.Label))
	if label == "" {
		label = id
	}

	options := make(map[string]string, len(cfg.Options))
	for k, v := range cfg.Options {
		options[k] = v
	}

	scopes := make([]string, 0, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}

	return Configuration{
		identifier:  id,
		label:       label,
		description: strings.TrimSpace(textPolicy.Sanitize(cfg.Description)),
		icon:        cfg.Icon,
		kind:        strings.ToLower(cfg.Kind),
		scopes:      scopes,
		options:     options,
		enabled:     cfg.IsEnabled(),
		collab:      collab,
	}, nil
}

func (c Configuration) Identifier() string  { return c.identifier }
func (c Configuration) Label() string       { return c.label }
func (c Configuration) Description() string { return c.description }
func (c Configuration) Icon() string        { return c.icon }
func (c Configuration) Kind() string        { return c.kind }
func (c Configuration) Enabled() bool       { return c.enabled }

// Scopes returns a copy of the requested scopes
func (c Configuration) Scopes() []string {
	return slices.Clone(c.scopes)
}

// HasScope reports whether scope is requested
func (c Configuration) HasScope(scope string) bool {
	return slices.Contains(c.scopes, scope)
}

// Option returns a provider-specific option, or "" if unset
func (c Configuration) Option(key string) string {
	return c.options[key]
}

// HTTPClient returns the client used for token and identity calls
func (c Configuration) HTTPClient() *http.Client {
	return c.collab.HTTPClient
}

// withDefaultScopes returns a copy requesting defaults when no scopes were configured
func (c Configuration) withDefaultScopes(defaults ...string) Configuration {
	if len(c.scopes) == 0 {
		c.scopes = slices.Clone(defaults)
	}
	return c
}
