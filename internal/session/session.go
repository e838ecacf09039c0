package session

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
)

const (
	// HostTokenKey holds the signed host session of a logged-in account
	HostTokenKey = "host_token"

	// OriginalRequestKey holds the request captured before a login started
	OriginalRequestKey = "original_request"
)

// StateKey is where the flow nonce of an audience and provider is kept
func StateKey(audience entities.Audience, provider string) string {
	return "oauth2_state:" + string(audience) + ":" + provider
}

// ActionKey is where the pending flow action (login or link) of an audience is kept
func ActionKey(audience entities.Audience) string {
	return "oauth2_action:" + string(audience)
}

// Manager wraps gorilla/sessions for the flow and host session cookie
type Manager struct {
	store sessions.Store
	name  string
}

// NewManager builds the session store selected by cfg.Backend. The redis
// client is only used by the redis backend.
func NewManager(cfg config.SessionConfig, rdb redis.UniversalClient) (*Manager, error) {
	hashKey, blockKey, err := DeriveKeys(cfg.Secret)
	if err != nil {
		return nil, err
	}

	options := &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		// the provider redirects back with a top-level GET, which Lax allows
		SameSite: http.SameSiteLaxMode,
	}

	var store sessions.Store
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis session backend needs a redis client")
		}
		rs := NewRedisStore(rdb, cfg.Redis.Prefix+"session:", hashKey, blockKey)
		rs.Options = options
		rs.MaxAge(cfg.MaxAge)
		store = rs
	case "cookie", "":
		cs := sessions.NewCookieStore(hashKey, blockKey)
		cs.Options = options
		cs.MaxAge(cfg.MaxAge)
		store = cs
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}

	slog.Debug("session store ready", slog.String("backend", cfg.Backend), slog.String("cookie", cfg.CookieName))
	return NewManagerWithStore(store, cfg.CookieName), nil
}

// NewManagerWithStore wraps an existing store
func NewManagerWithStore(store sessions.Store, name string) *Manager {
	if name == "" {
		name = "oauthlink_session"
	}
	return &Manager{store: store, name: name}
}

// Open returns the session of the current request. An unreadable cookie
// (bad signature, expired, rotated secret) yields an empty session.
func (m *Manager) Open(w http.ResponseWriter, r *http.Request) *FlowSession {
	s, err := m.store.Get(r, m.name)
	if err != nil {
		logger.FromContext(r.Context()).Debug("discarding unreadable session", slog.String("error", err.Error()))
	}
	if s == nil {
		s = sessions.NewSession(m.store, m.name)
		s.IsNew = true
	}
	return &FlowSession{session: s, r: r, w: w}
}

// FlowSession is the request-scoped key/value view of a session. Every
// mutation is written back immediately.
type FlowSession struct {
	session *sessions.Session
	r       *http.Request
	w       http.ResponseWriter
}

// Get returns a stored value
func (s *FlowSession) Get(key string) (string, bool) {
	v, ok := s.session.Values[key].(string)
	return v, ok
}

// Put stores a value
func (s *FlowSession) Put(key, value string) error {
	s.session.Values[key] = value
	return s.save()
}

// Clear removes keys. Clearing keys that are absent still writes the session.
func (s *FlowSession) Clear(keys ...string) error {
	for _, k := range keys {
		delete(s.session.Values, k)
	}
	return s.save()
}

// AttachCookie writes the cookie of a session that has not been saved yet
func (s *FlowSession) AttachCookie() error {
	if !s.session.IsNew {
		return nil
	}
	return s.save()
}

// DetachCookie expires the session cookie and drops every value
func (s *FlowSession) DetachCookie() error {
	for k := range s.session.Values {
		delete(s.session.Values, k)
	}
	s.session.Options.MaxAge = -1
	return s.save()
}

func (s *FlowSession) save() error {
	if err := s.session.Save(s.r, s.w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
