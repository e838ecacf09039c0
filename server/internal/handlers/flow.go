package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/services"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
	"github.com/devilmonastery/oauthlink/internal/session"
	"github.com/devilmonastery/oauthlink/server/internal/middleware"
)

// Flow actions
const (
	ActionLogin = "login"
	ActionLink  = "link"
)

// baseURL is the public root provider callbacks return to. Visitors come
// back to the site and language they started on so the flow cookie is sent
// again and the storage scope stays the same.
func (h *Handler) baseURL(r *http.Request, audience entities.Audience) string {
	if !audience.Scoped() && h.Config.HTTP.BaseURL != "" {
		return h.Config.HTTP.BaseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" || h.Config.Session.Secure {
		scheme = "https"
	}
	return scheme + "://" + r.Host + pathPrefix(r, audience)
}

// Authorize starts a login or link flow and redirects to the provider
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	audience, ok := audienceVar(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	providerID := mux.Vars(r)["provider"]
	log := logger.WithFlow(logger.FromContext(r.Context()), string(audience), providerID)
	failTo := h.loginRedirect(audience)

	action := r.URL.Query().Get("action")
	switch action {
	case "":
		action = ActionLogin
	case ActionLogin:
	case ActionLink:
		failTo = h.manageRedirect(audience)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	scope, ok := storageScope(r, audience)
	if !ok {
		h.fail(w, r, failTo, fmt.Errorf("%w: no site for host %q", services.ErrUnknownProvider, r.Host))
		return
	}
	if res, ok := middleware.SiteFromContext(r.Context()); ok && audience.Scoped() && !res.AllowsProvider(providerID) {
		h.fail(w, r, failTo, fmt.Errorf("%w: %q not offered on site %s", services.ErrUnknownProvider, providerID, res.Site.Name))
		return
	}
	if action == ActionLink {
		if _, err := auth.RequireAudience(r.Context(), audience, scope); err != nil {
			h.fail(w, r, failTo, fmt.Errorf("link without login: %w", err))
			return
		}
	}

	callbackURL, err := urlutil.CallbackURL(h.baseURL(r, audience), string(audience), providerID)
	if err != nil {
		h.fail(w, r, failTo, err)
		return
	}

	fs := h.FlowSessions.Open(w, r)
	if err := fs.Put(session.ActionKey(audience), action); err != nil {
		h.fail(w, r, failTo, fmt.Errorf("%w: %w", services.ErrPersistence, err))
		return
	}
	authURL, err := h.Flow.Start(r.Context(), fs, providerID, audience, callbackURL)
	if err != nil {
		h.fail(w, r, failTo, err)
		return
	}

	log.Debug("redirecting to provider", slog.String("action", action))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback is where the provider sends the browser back. A login is
// completed here. A link continues through an auto-submitted form so the
// code reaches Verify together with the host login.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	audience, ok := audienceVar(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	providerID := mux.Vars(r)["provider"]
	q := r.URL.Query()
	fs := h.FlowSessions.Open(w, r)
	action, _ := fs.Get(session.ActionKey(audience))

	failTo := h.loginRedirect(audience)
	if action == ActionLink {
		failTo = h.manageRedirect(audience)
	}

	if providerErr := q.Get("error"); providerErr != "" {
		h.detach(r, fs)
		h.fail(w, r, failTo, fmt.Errorf("%w: provider returned %q: %s", services.ErrTokenExchangeFailed, providerErr, q.Get("error_description")))
		return
	}

	if action == ActionLink {
		h.renderVerify(w, r, audience, providerID)
		return
	}

	callbackURL, err := urlutil.CallbackURL(h.baseURL(r, audience), string(audience), providerID)
	if err != nil {
		h.detach(r, fs)
		h.fail(w, r, failTo, err)
		return
	}

	identity, err := h.Flow.Complete(r.Context(), fs, q.Get("state"), q.Get("code"), providerID, audience, callbackURL)
	original, _ := fs.Get(session.OriginalRequestKey)
	h.detach(r, fs)
	if err != nil {
		h.fail(w, r, failTo, err)
		return
	}

	bridge, ok := h.Bridges[audience]
	if !ok {
		h.fail(w, r, failTo, fmt.Errorf("%w: no bridge for %s", services.ErrAuthenticationFailed, audience))
		return
	}
	scope, _ := storageScope(r, audience)
	hs, err := bridge.ResolveAndAuthenticate(r.Context(), providerID, identity, scope, requestMeta(r))
	if err != nil {
		h.fail(w, r, failTo, err)
		return
	}

	if err := h.HostSessions.Open(w, r).Put(session.HostTokenKey, hs.Token); err != nil {
		h.fail(w, r, failTo, fmt.Errorf("%w: %w", services.ErrPersistence, err))
		return
	}

	h.resume(w, r, hs, original, h.loginRedirect(audience))
}

// resume continues with the request that was interrupted by the login
func (h *Handler) resume(w http.ResponseWriter, r *http.Request, hs *entities.HostSession, encoded, fallback string) {
	log := logger.FromContext(r.Context())
	if encoded == "" {
		http.Redirect(w, r, fallback, http.StatusSeeOther)
		return
	}

	original, err := session.DecodeOriginalRequest(encoded)
	if err != nil {
		log.Warn("dropping original request", slog.String("error", err.Error()))
		http.Redirect(w, r, fallback, http.StatusSeeOther)
		return
	}
	if original.IsRedirectable() || h.router == nil {
		http.Redirect(w, r, original.URL, http.StatusSeeOther)
		return
	}

	replay, err := original.Rebuild(auth.WithSession(r.Context(), hs))
	if err != nil {
		log.Warn("dropping original request", slog.String("error", err.Error()))
		http.Redirect(w, r, fallback, http.StatusSeeOther)
		return
	}
	replay.Host = r.Host
	replay.RemoteAddr = r.RemoteAddr
	replay.Header.Set("User-Agent", r.UserAgent())

	log.Info("replaying request after login", slog.String("method", original.Method), slog.String("url", original.URL))
	h.router.ServeHTTP(w, replay)
}

func (h *Handler) renderVerify(w http.ResponseWriter, r *http.Request, audience entities.Audience, providerID string) {
	action, err := urlutil.VerifyURL(h.baseURL(r, audience), string(audience))
	if err != nil {
		h.fail(w, r, h.manageRedirect(audience), err)
		return
	}
	q := r.URL.Query()
	data := map[string]string{
		"Action":   action,
		"Provider": providerID,
		"Code":     q.Get("code"),
		"State":    q.Get("state"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.Templates.Execute(w, "verify.html", data); err != nil {
		logger.FromContext(r.Context()).Error("failed to render verify form", slog.String("error", err.Error()))
	}
}

// Verify completes a link flow for the logged-in account
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	audience, _ := audienceVar(r)
	manage := h.manageRedirect(audience)
	fs := h.FlowSessions.Open(w, r)

	if err := r.ParseForm(); err != nil {
		h.detach(r, fs)
		h.fail(w, r, manage, fmt.Errorf("%w: %w", services.ErrStateMismatch, err))
		return
	}
	providerID := r.PostForm.Get("provider")

	callbackURL, err := urlutil.CallbackURL(h.baseURL(r, audience), string(audience), providerID)
	if err != nil {
		h.detach(r, fs)
		h.fail(w, r, manage, err)
		return
	}

	identity, err := h.Flow.Complete(r.Context(), fs, r.PostForm.Get("state"), r.PostForm.Get("code"), providerID, audience, callbackURL)
	h.detach(r, fs)
	if err != nil {
		h.fail(w, r, manage, err)
		return
	}

	scope, _ := storageScope(r, audience)
	hs, err := auth.RequireAudience(r.Context(), audience, scope)
	if err != nil {
		h.fail(w, r, manage, err)
		return
	}

	if _, err := h.Links.Link(r.Context(), audience, hs.AccountID, identity, scope, requestMeta(r)); err != nil {
		h.fail(w, r, manage, err)
		return
	}
	http.Redirect(w, r, withQuery(manage, "oauth2", "linked"), http.StatusSeeOther)
}

// detach ends the flow session, whatever the outcome
func (h *Handler) detach(r *http.Request, fs *session.FlowSession) {
	if err := fs.DetachCookie(); err != nil {
		logger.FromContext(r.Context()).Warn("failed to clear flow session", slog.String("error", err.Error()))
	}
}
