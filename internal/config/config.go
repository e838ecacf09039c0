package config

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	HTTP        HTTPConfig     `yaml:"http"`
	Database    DatabaseConfig `yaml:"database"`
	Session     SessionConfig  `yaml:"session"`
	Auth        AuthConfig     `yaml:"auth"`
	Sites       []SiteConfig   `yaml:"sites"`
	Logging     LoggingConfig  `yaml:"logging"`
	Environment string         `yaml:"environment" default:"local"` // local, dev, prod
}

// HTTPConfig holds the listener and public URL of the server
type HTTPConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"8080"`
	BaseURL      string        `yaml:"base_url"` // Public URL used to build provider callback URLs
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"15s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database" default:"oauthlink"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" default:"disable"` // disable, require, verify-ca, verify-full
}

// SessionConfig holds the flow session cookie configuration
type SessionConfig struct {
	Secret     string      `yaml:"secret"` // Master secret, cookie keys are derived from it
	CookieName string      `yaml:"cookie_name" default:"oauthlink_session"`
	MaxAge     int         `yaml:"max_age" default:"3600"` // seconds
	Secure     bool        `yaml:"secure"`
	Backend    string      `yaml:"backend" default:"cookie"` // cookie, redis
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for server-side sessions and the nonce ledger
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"oauthlink:"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT  JWTConfig  `yaml:"jwt"`
	Flow FlowConfig `yaml:"flow"`

	// A nil audience section means the audience is unavailable, which is
	// reported to callers differently from an audience with zero providers.
	Admin   *AudienceConfig `yaml:"admin"`
	Visitor *AudienceConfig `yaml:"visitor"`
}

// JWTConfig holds JWT token configuration for host sessions
type JWTConfig struct {
	SigningKey string        `yaml:"signing_key"`
	Lifetime   time.Duration `yaml:"lifetime" default:"8h"`
}

// FlowConfig bounds the authorization-code flow
type FlowConfig struct {
	Timeout  time.Duration `yaml:"timeout" default:"10s"`   // per network call, no retries
	StateTTL time.Duration `yaml:"state_ttl" default:"15m"` // how long a state nonce stays consumable
}

// AudienceConfig lists the providers of one audience
type AudienceConfig struct {
	Providers      []ProviderConfig `yaml:"providers"`
	LoginRedirect  string           `yaml:"login_redirect" default:"/"`
	ManageRedirect string           `yaml:"manage_redirect" default:"/"`
}

// ProviderConfig holds one identity provider definition
type ProviderConfig struct {
	Identifier  string            `yaml:"identifier"` // unique per audience, must be a slug
	Label       string            `yaml:"label"`
	Description string            `yaml:"description,omitempty"`
	Icon        string            `yaml:"icon,omitempty"`
	Kind        string            `yaml:"kind"` // oauth2, github, google, oidc
	Scopes      []string          `yaml:"scopes,omitempty"`
	Options     map[string]string `yaml:"options,omitempty"` // client_id, client_secret, issuer, urls...
	Enabled     *bool             `yaml:"enabled,omitempty"` // defaults to true
	HTTPTimeout time.Duration     `yaml:"http_timeout,omitempty"`
}

// IsEnabled reports whether the provider is exposed to end users
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SiteConfig maps a request host to a visitor storage scope
type SiteConfig struct {
	Name         string           `yaml:"name"`
	Host         string           `yaml:"host"`
	StorageScope int64            `yaml:"storage_scope"`
	Providers    []string         `yaml:"providers,omitempty"` // empty allows every enabled visitor provider
	Languages    []LanguageConfig `yaml:"languages,omitempty"`
}

// LanguageConfig lets a language path prefix override the site's storage scope
type LanguageConfig struct {
	PathPrefix   string `yaml:"path_prefix"`
	StorageScope *int64 `yaml:"storage_scope,omitempty"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"` // text, json
	File   string `yaml:"file"`
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// Address returns the listen address of the HTTP server
func (h *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
