package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/interview-kb/internal/indexer"
)

type AdminHandler struct {
	resetter  SchemaResetter
	reindexer Reindexer
}

// NewAdminHandler creates the admin handler. reindexer may be nil when no
// artifact store is configured.
func NewAdminHandler(resetter SchemaResetter, reindexer Reindexer) *AdminHandler {
	return &AdminHandler{resetter: resetter, reindexer: reindexer}
}

// ResetSchema drops and recreates the vector index. The body must carry
// {"confirm": "delete-all-chunks"}.
func (h *AdminHandler) ResetSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	if err := h.resetter.ResetSchema(r.Context(), req.Confirm); err != nil {
		if errors.Is(err, indexer.ErrNotConfirmed) {
			WriteErrorDetail(w, http.StatusBadRequest, "reset not confirmed",
				`send {"confirm":"`+indexer.ResetConfirmation+`"} to delete every chunk`)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("schema reset failed")
		WriteError(w, http.StatusInternalServerError, "reset failed: "+err.Error())
		return
	}

	hlog.FromRequest(r).Warn().Msg("vector index reset via api")
	WriteJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// Reindex re-ingests every archived reviewed batch.
func (h *AdminHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexer == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrNotConfigured, "artifact storage not configured")
		return
	}
	res, err := h.reindexer.ReindexAll(r.Context())
	if err != nil {
		WriteKBError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Routes registers admin routes on the given router.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/admin/reset-schema", h.ResetSchema)
	r.Post("/admin/reindex", h.Reindex)
}
