package provider

import (
	"errors"
	"fmt"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

var (
	// ErrConfiguration is the class of every provider setup error
	ErrConfiguration = errors.New("provider configuration error")

	// ErrUnknownProvider is returned when a provider is not registered or not enabled for an audience
	ErrUnknownProvider = errors.New("unknown provider")
)

// ConfigurationError describes an invalid provider definition. It is only
// shown to administrators configuring providers.
type ConfigurationError struct {
	Identifier string
	Audience   entities.Audience
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Audience == "" {
		return fmt.Sprintf("provider %q: %s", e.Identifier, e.Reason)
	}
	return fmt.Sprintf("provider %q (%s): %s", e.Identifier, e.Audience, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configError(id string, audience entities.Audience, format string, args ...any) error {
	return &ConfigurationError{Identifier: id, Audience: audience, Reason: fmt.Sprintf(format, args...)}
}
