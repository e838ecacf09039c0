package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/session"
)

// Authenticator reads the host login from its cookie and guards routes that need one
type Authenticator struct {
	host *session.Manager
	flow *session.Manager
	jwt  *auth.JWTManager
}

// NewAuthenticator creates the auth middleware. The flow manager receives
// requests captured for replay after login.
func NewAuthenticator(host, flow *session.Manager, jwt *auth.JWTManager) *Authenticator {
	return &Authenticator{host: host, flow: flow, jwt: jwt}
}

// Authenticate puts the host session of a valid login cookie in the context.
// It never rejects a request.
func (m *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s, err := auth.SessionFromContext(ctx); err == nil {
			noteAccount(ctx, s.AccountID, string(s.Audience))
			next.ServeHTTP(w, r)
			return
		}

		if token, ok := m.host.Open(w, r).Get(session.HostTokenKey); ok {
			s, err := m.jwt.Validate(token)
			if err != nil {
				logger.FromContext(ctx).Debug("ignoring host session", slog.String("error", err.Error()))
			} else {
				noteAccount(ctx, s.AccountID, string(s.Audience))
				r = r.WithContext(auth.WithSession(ctx, s))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccount rejects requests without a login of the audience in the
// {audience} route variable. Visitors must also belong to the storage scope
// of the site. An anonymous request is captured so it can be replayed after login.
func (m *Authenticator) RequireAccount(next http.Handler) http.Handler {
	return m.requireAccount(next, m.rememberRequest)
}

// RequireLinkingAccount guards the end of a link flow. An anonymous request
// is not captured: its code and state are spent, so the flow cookie is
// dropped instead.
func (m *Authenticator) RequireLinkingAccount(next http.Handler) http.Handler {
	return m.requireAccount(next, m.abandonFlow)
}

func (m *Authenticator) requireAccount(next http.Handler, onAnonymous func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		audience, err := entities.ParseAudience(mux.Vars(r)["audience"])
		if err != nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		var scope *int64
		var prefix string
		if audience.Scoped() {
			res, ok := SiteFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusNotFound, "unknown site")
				return
			}
			scope = res.Scope()
			prefix = res.Prefix()
		}

		_, err = auth.RequireAudience(r.Context(), audience, scope)
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, auth.ErrForbidden):
			log.Info("account not allowed here", slog.String("audience", string(audience)))
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			onAnonymous(w, r)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":     "login required",
				"login_url": prefix + "/oauth2/" + string(audience) + "/login",
			})
		}
	})
}

func (m *Authenticator) abandonFlow(w http.ResponseWriter, r *http.Request) {
	if err := m.flow.Open(w, r).DetachCookie(); err != nil {
		logger.FromContext(r.Context()).Warn("failed to clear flow session", slog.String("error", err.Error()))
	}
}

func (m *Authenticator) rememberRequest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	orig, err := session.Capture(r)
	if err != nil {
		log.Debug("request not captured for replay", slog.String("error", err.Error()))
		return
	}
	encoded, err := orig.Encode()
	if err != nil {
		log.Debug("request not captured for replay", slog.String("error", err.Error()))
		return
	}
	if err := m.flow.Open(w, r).Put(session.OriginalRequestKey, encoded); err != nil {
		log.Warn("failed to store original request", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
