package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
)

type linkView struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	RemoteID  string    `json:"remote_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListLinks returns the active links of the logged-in account
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	audience, _ := audienceVar(r)
	scope, _ := storageScope(r, audience)
	hs, err := auth.RequireAudience(r.Context(), audience, scope)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	links, err := h.Links.List(r.Context(), audience, hs.AccountID, scope)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list links", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]linkView, 0, len(links))
	for _, l := range links {
		if !l.Active() {
			continue
		}
		views = append(views, linkView{
			ID:        strconv.FormatInt(l.ID, 10),
			Provider:  l.Provider,
			RemoteID:  *l.RemoteID,
			CreatedAt: l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": views})
}

// DeactivateLink removes one of the logged-in account's links. Removing a
// link that is gone or owned by someone else reports removed=false.
func (h *Handler) DeactivateLink(w http.ResponseWriter, r *http.Request) {
	audience, _ := audienceVar(r)
	scope, _ := storageScope(r, audience)
	hs, err := auth.RequireAudience(r.Context(), audience, scope)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	linkID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}

	removed, err := h.Links.Deactivate(r.Context(), audience, hs.AccountID, linkID, requestMeta(r))
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to deactivate link",
			slog.Int64("link_id", linkID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
