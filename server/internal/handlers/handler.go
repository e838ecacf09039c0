package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/auth/provider"
	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/domain/services"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
	"github.com/devilmonastery/oauthlink/internal/session"
	"github.com/devilmonastery/oauthlink/internal/sites"
	"github.com/devilmonastery/oauthlink/server/internal/middleware"
	"github.com/devilmonastery/oauthlink/server/internal/render"
)

// Deps are the collaborators of the HTTP handlers
type Deps struct {
	Config       *config.Config
	Providers    *provider.Registry
	Flow         *services.FlowService
	Links        *services.LinkService
	Bridges      map[entities.Audience]*services.Bridge
	FlowSessions *session.Manager
	HostSessions *session.Manager
	JWT          *auth.JWTManager
	Templates    *render.TemplateSet
	Health       repositories.HealthChecker // optional
}

// Handler holds dependencies for all HTTP handlers
type Handler struct {
	Deps
	router *mux.Router
	log    *slog.Logger
}

// New creates a new handler with dependencies
func New(deps Deps, log *slog.Logger) *Handler {
	return &Handler{
		Deps: deps,
		log:  log.With(slog.String("component", "http_handler")),
	}
}

// Routes registers every endpoint on router. The flow endpoints are also
// mounted under each language prefix so visitors keep their language's
// storage scope. Captured requests are replayed through the same router
// after a login.
func (h *Handler) Routes(router *mux.Router, authn *middleware.Authenticator, languagePrefixes ...string) {
	h.router = router

	router.HandleFunc("/health", h.Healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)

	for _, prefix := range languagePrefixes {
		lang := router.PathPrefix(prefix).Subrouter()
		lang.Use(middleware.RequirePathPrefix(prefix))
		h.mountFlows(lang, authn)
	}
	h.mountFlows(router, authn)
}

func (h *Handler) mountFlows(router *mux.Router, authn *middleware.Authenticator) {
	flows := router.PathPrefix("/oauth2/{audience}").Subrouter()
	flows.HandleFunc("/providers", h.ListProviders).Methods(http.MethodGet)
	flows.HandleFunc("/login", h.LoginPage).Methods(http.MethodGet)
	flows.HandleFunc("/authorize/{provider}", h.Authorize).Methods(http.MethodGet)
	flows.HandleFunc("/callback/{provider}", h.Callback).Methods(http.MethodGet)

	accounts := router.PathPrefix("/oauth2/{audience}").Subrouter()
	accounts.Use(authn.RequireAccount)
	accounts.HandleFunc("/links", h.ListLinks).Methods(http.MethodGet)
	accounts.HandleFunc("/links/{id:[0-9]+}/deactivate", h.DeactivateLink).Methods(http.MethodPost)

	verify := router.PathPrefix("/oauth2/{audience}").Subrouter()
	verify.Use(authn.RequireLinkingAccount)
	verify.HandleFunc("/verify", h.Verify).Methods(http.MethodPost)
}

// Healthz reports whether storage is reachable
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.HealthCheck(r.Context()); err != nil {
			logger.FromContext(r.Context()).Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logout drops the host login
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.HostSessions.Open(w, r).DetachCookie(); err != nil {
		logger.FromContext(r.Context()).Warn("failed to clear host session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// audience parses the {audience} route variable
func audienceVar(r *http.Request) (entities.Audience, bool) {
	a, err := entities.ParseAudience(mux.Vars(r)["audience"])
	return a, err == nil
}

func (h *Handler) audienceConfig(a entities.Audience) *config.AudienceConfig {
	switch a {
	case entities.AudienceAdmin:
		return h.Config.Auth.Admin
	case entities.AudienceVisitor:
		return h.Config.Auth.Visitor
	}
	return nil
}

func (h *Handler) loginRedirect(a entities.Audience) string {
	if c := h.audienceConfig(a); c != nil {
		return urlutil.LocalPathOr(c.LoginRedirect, "/")
	}
	return "/"
}

func (h *Handler) manageRedirect(a entities.Audience) string {
	if c := h.audienceConfig(a); c != nil {
		return urlutil.LocalPathOr(c.ManageRedirect, "/")
	}
	return "/"
}

// storageScope returns the scope visitor requests are confined to. Admin
// requests have none. The boolean is false for a visitor request on an unknown site.
func storageScope(r *http.Request, a entities.Audience) (*int64, bool) {
	if !a.Scoped() {
		return nil, true
	}
	res, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return res.Scope(), true
}

// pathPrefix is the language prefix visitor URLs are built under
func pathPrefix(r *http.Request, a entities.Audience) string {
	if !a.Scoped() {
		return ""
	}
	return middleware.SitePrefix(r.Context())
}

func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// fail logs the cause of a failed flow and sends the browser the one
// generic failure outcome
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, target string, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("oauth2 flow failed",
		slog.String("path", r.URL.Path),
		slog.String("reason", services.FailureReason(err)),
		slog.String("error", err.Error()))
	http.Redirect(w, r, withQuery(target, "oauth2", "failed"), http.StatusSeeOther)
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewRouter wires the middleware chain and every route
func NewRouter(h *Handler, authn *middleware.Authenticator, resolver *sites.Resolver) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest(h.log))
	router.Use(middleware.ResolveSite(resolver))
	router.Use(authn.Authenticate)
	h.Routes(router, authn, resolver.Prefixes()...)
	return router
}
