package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxReviewedBody caps a reviewed transcript upload.
const maxReviewedBody = 32 << 20

// ReviewedHandler accepts reviewed transcripts and hands them to ingestion.
type ReviewedHandler struct {
	uploader ReviewUploader
	log      zerolog.Logger
}

func NewReviewedHandler(uploader ReviewUploader, log zerolog.Logger) *ReviewedHandler {
	return &ReviewedHandler{uploader: uploader, log: log.With().Str("handler", "reviewed").Logger()}
}

// Upload handles POST /sources/{sourceID}/reviewed. The body is either the
// raw transcript or a multipart form with a "file" part. The format comes
// from ?format=, then the file extension, then the content type, and
// defaults to CSV.
func (h *ReviewedHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSpace(chi.URLParam(r, "sourceID"))
	if sourceID == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "source id is required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxReviewedBody)

	format, _ := QueryString(r, "format")
	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxReviewedBody); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()
		file, header, err := r.FormFile("file")
		if err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing file part")
			return
		}
		defer file.Close()
		body = file
		if format == "" {
			format = formatFromName(header.Filename)
		}
	} else if format == "" && mediaType == "text/plain" {
		format = "lines"
	}

	result, err := h.uploader.UploadReviewed(r.Context(), sourceID, format, body)
	if err != nil {
		h.log.Warn().Err(err).Str("source_id", sourceID).Msg("reviewed upload failed")
		WriteKBError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func formatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "lines"
	case ".csv":
		return "csv"
	}
	return ""
}

// Routes registers reviewed-transcript routes on the given router.
func (h *ReviewedHandler) Routes(r chi.Router) {
	r.Post("/sources/{sourceID}/reviewed", h.Upload)
}
