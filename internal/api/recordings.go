package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/audio"
	"github.com/snarg/interview-kb/internal/pipeline"
	"github.com/snarg/interview-kb/internal/storage"
)

// maxAudioUpload caps an uploaded recording.
const maxAudioUpload = 512 << 20

// RecordingsHandler submits recordings to the processing queue, either by
// reference or as an uploaded audio file.
type RecordingsHandler struct {
	queue RecordingQueue
	store storage.Store
	log   zerolog.Logger
}

// NewRecordingsHandler creates a recordings handler. store may be nil, in
// which case only references to existing audio are accepted.
func NewRecordingsHandler(queue RecordingQueue, store storage.Store, log zerolog.Logger) *RecordingsHandler {
	return &RecordingsHandler{
		queue: queue,
		store: store,
		log:   log.With().Str("handler", "recordings").Logger(),
	}
}

// Submit handles POST /recordings. A JSON body {"source_id","audio"} queues
// audio already on disk or in the artifact store; a multipart form with an
// "audio" file part saves the upload first.
func (h *RecordingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrNotConfigured, "recording processing not configured")
		return
	}

	var rec pipeline.Recording
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var ok bool
		if rec, ok = h.saveUpload(w, r); !ok {
			return
		}
	} else {
		if err := DecodeJSON(r, &rec); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
			return
		}
		if strings.TrimSpace(rec.Audio) == "" {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "audio is required")
			return
		}
	}
	if rec.SourceID == "" {
		rec.SourceID = audio.SourceID(rec.Audio)
	}

	if !h.queue.Enqueue(rec) {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrQueueFull, "recording queue is full")
		return
	}
	h.log.Info().Str("source_id", rec.SourceID).Str("audio", rec.Audio).Msg("recording queued")
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"source_id": rec.SourceID,
		"audio":     rec.Audio,
		"queue":     h.queue.Stats(),
	})
}

func (h *RecordingsHandler) saveUpload(w http.ResponseWriter, r *http.Request) (pipeline.Recording, bool) {
	if h.store == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrNotConfigured, "artifact storage not configured")
		return pipeline.Recording{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return pipeline.Recording{}, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing audio file part")
		return pipeline.Recording{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return pipeline.Recording{}, false
	}

	sourceID := strings.TrimSpace(r.FormValue("source_id"))
	if sourceID == "" {
		sourceID = audio.SourceID(header.Filename)
	}
	key := storage.AudioKey(sourceID, strings.ToLower(filepath.Ext(header.Filename)))
	if err := h.store.Save(r.Context(), key, data, header.Header.Get("Content-Type")); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to save uploaded audio")
		WriteError(w, http.StatusInternalServerError, "failed to save audio")
		return pipeline.Recording{}, false
	}
	return pipeline.Recording{SourceID: sourceID, Audio: key}, true
}

// Queue reports the recording queue state.
func (h *RecordingsHandler) Queue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrNotConfigured, "recording processing not configured")
		return
	}
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

// Routes registers recording routes on the given router.
func (h *RecordingsHandler) Routes(r chi.Router) {
	r.Post("/recordings", h.Submit)
	r.Get("/recordings/queue", h.Queue)
}
