package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// contextKey is the key for storing the host session in context
type contextKey string

const sessionContextKey contextKey = "host_session"

// SessionFromContext extracts the authenticated host session from the context
func SessionFromContext(ctx context.Context) (*entities.HostSession, error) {
	s, ok := ctx.Value(sessionContextKey).(*entities.HostSession)
	if !ok || s == nil {
		return nil, ErrUnauthorized
	}
	if s.IsExpired() {
		return nil, ErrUnauthorized
	}
	return s, nil
}

// WithSession stores the authenticated host session in the context
func WithSession(ctx context.Context, s *entities.HostSession) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// RequireAudience returns the session when it belongs to audience. A visitor
// session is additionally bound to the storage scope it was issued for.
func RequireAudience(ctx context.Context, audience entities.Audience, scope *int64) (*entities.HostSession, error) {
	s, err := SessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if s.Audience != audience {
		return nil, fmt.Errorf("%w: %s session used for %s", ErrForbidden, s.Audience, audience)
	}
	if audience.Scoped() {
		if scope == nil || s.StorageScope == nil || *scope != *s.StorageScope {
			return nil, fmt.Errorf("%w: session belongs to another storage scope", ErrForbidden)
		}
	}
	return s, nil
}
