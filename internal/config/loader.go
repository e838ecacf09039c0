package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./configs/config.yaml",
	"./configs/development.yaml",
	"/etc/oauthlink/config.yaml",
	"/etc/oauthlink/config.yml",
}

// Defaults returns a configuration populated with default values only
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "oauthlink",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		Session: SessionConfig{
			CookieName: "oauthlink_session",
			MaxAge:     3600,
			Backend:    "cookie",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "oauthlink:",
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{Lifetime: 8 * time.Hour},
			Flow: FlowConfig{
				Timeout:  10 * time.Second,
				StateTTL: 15 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Environment: "local",
	}
}

// Load loads the configuration from the specified file or default locations
func Load(configPath string) (*Config, error) {
	config := Defaults()

	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		slog.Info("loading config", slog.String("path", configPath))
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := Parse(expandEnvVars(data), config); err != nil {
			return nil, err
		}
	} else if configPath != "" {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	} else {
		slog.Info("no config file found, using defaults")
	}

	applyAudienceDefaults(config.Auth.Admin)
	applyAudienceDefaults(config.Auth.Visitor)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Parse decodes YAML onto an existing configuration
func Parse(data []byte, config *Config) error {
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyAudienceDefaults(a *AudienceConfig) {
	if a == nil {
		return
	}
	if a.LoginRedirect == "" {
		a.LoginRedirect = "/"
	}
	if a.ManageRedirect == "" {
		a.ManageRedirect = "/"
	}
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	if config.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if config.Database.Postgres.Database == "" {
		return fmt.Errorf("postgres database name is required")
	}
	if config.HTTP.Port < 1 || config.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}

	if len(config.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}
	switch config.Session.Backend {
	case "cookie":
	case "redis":
		if config.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend must be cookie or redis, got %q", config.Session.Backend)
	}

	if config.Auth.JWT.SigningKey == "" {
		return fmt.Errorf("auth.jwt.signing_key is required")
	}
	if config.Auth.Flow.Timeout <= 0 {
		return fmt.Errorf("auth.flow.timeout must be positive")
	}
	if config.Auth.Flow.StateTTL <= 0 {
		return fmt.Errorf("auth.flow.state_ttl must be positive")
	}

	for name, audience := range map[string]*AudienceConfig{"admin": config.Auth.Admin, "visitor": config.Auth.Visitor} {
		if audience == nil {
			continue
		}
		for i, p := range audience.Providers {
			if p.Identifier == "" {
				return fmt.Errorf("auth.%s.providers[%d]: identifier is required", name, i)
			}
			if p.Kind == "" {
				return fmt.Errorf("auth.%s.providers[%d] (%s): kind is required", name, i, p.Identifier)
			}
		}
	}

	hosts := make(map[string]bool)
	for i, site := range config.Sites {
		if site.Host == "" {
			return fmt.Errorf("sites[%d]: host is required", i)
		}
		if hosts[site.Host] {
			return fmt.Errorf("sites[%d]: duplicate host %q", i, site.Host)
		}
		hosts[site.Host] = true
	}

	return nil
}
