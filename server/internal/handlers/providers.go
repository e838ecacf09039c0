package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/oauthlink/internal/auth/provider"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/server/internal/middleware"
	"github.com/devilmonastery/oauthlink/server/internal/render"
)

// providerView is a provider as shown to end users
type providerView struct {
	Identifier      string        `json:"identifier"`
	Label           string        `json:"label"`
	Icon            string        `json:"icon,omitempty"`
	Description     string        `json:"description,omitempty"`
	DescriptionHTML template.HTML `json:"description_html,omitempty"`
	AuthorizeURL    string        `json:"authorize_url"`
}

// enabledProviders lists what the request may use. status is non-zero when
// the list cannot be produced.
func (h *Handler) enabledProviders(r *http.Request) (entities.Audience, []providerView, int) {
	audience, ok := audienceVar(r)
	if !ok {
		return "", nil, http.StatusNotFound
	}

	var allowlist []string
	if audience.Scoped() {
		res, ok := middleware.SiteFromContext(r.Context())
		if !ok {
			return audience, nil, http.StatusNotFound
		}
		allowlist = res.Site.Providers
	}

	list, available := h.Providers.ListEnabled(audience, allowlist...)
	if !available {
		return audience, nil, http.StatusServiceUnavailable
	}
	return audience, toViews(audience, list, pathPrefix(r, audience)), 0
}

func toViews(audience entities.Audience, list []provider.Configuration, prefix string) []providerView {
	views := make([]providerView, 0, len(list))
	for _, p := range list {
		v := providerView{
			Identifier:   p.Identifier(),
			Label:        p.Label(),
			Icon:         p.Icon(),
			Description:  p.Description(),
			AuthorizeURL: prefix + "/oauth2/" + string(audience) + "/authorize/" + p.Identifier(),
		}
		if v.Description != "" {
			v.DescriptionHTML = render.Markdown(v.Description)
		}
		views = append(views, v)
	}
	return views
}

// ListProviders returns the enabled providers of an audience as JSON
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	_, views, status := h.enabledProviders(r)
	switch status {
	case 0:
		writeJSON(w, http.StatusOK, map[string]any{"providers": views})
	case http.StatusServiceUnavailable:
		writeError(w, status, "audience unavailable")
	default:
		writeError(w, status, "not found")
	}
}

// LoginPage renders the provider chooser
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	_, views, status := h.enabledProviders(r)
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	data := map[string]any{
		"Providers": views,
		"Failed":    r.URL.Query().Get("oauth2") == "failed",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.Templates.Execute(w, "signin.html", data); err != nil {
		logger.FromContext(r.Context()).Error("failed to render sign-in page", slog.String("error", err.Error()))
	}
}
