package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/query"
	"github.com/snarg/interview-kb/internal/synth"
)

// WriteKBError maps an error from the consolidation and retrieval stages to
// an HTTP status and error code.
func WriteKBError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
	}
	WriteErrorWithCode(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, query.ErrEmptyQuestion):
		return http.StatusBadRequest, ErrBadRequest
	case errors.Is(err, query.ErrNoResults), errors.Is(err, synth.ErrNoContext):
		return http.StatusNotFound, ErrNoResults
	case errors.Is(err, synth.ErrNoValidCitations):
		return http.StatusBadGateway, ErrNoCitations
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen.
		return 499, ErrTimeout
	}
	switch kb.KindOf(err) {
	case kb.KindRetrieval:
		return http.StatusServiceUnavailable, ErrRetrieval
	case kb.KindSynthesis:
		return http.StatusBadGateway, ErrSynthesis
	case kb.KindIngestion:
		return http.StatusUnprocessableEntity, ErrIngestion
	case kb.KindAlignment, kb.KindConsolidation:
		return http.StatusUnprocessableEntity, ErrBadRequest
	}
	return http.StatusInternalServerError, ErrInternal
}
