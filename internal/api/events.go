package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// DefaultKeepalive is the interval between SSE comment pings.
const DefaultKeepalive = 15 * time.Second

// EventsHandler streams pipeline events (recording.processed,
// recording.failed, batch.ingested, batch.failed) to SSE clients.
type EventsHandler struct {
	live      LiveDataSource
	keepalive time.Duration
}

func NewEventsHandler(live LiveDataSource) *EventsHandler {
	return &EventsHandler{live: live, keepalive: DefaultKeepalive}
}

// StreamEvents opens an SSE connection and pushes filtered events. Clients
// resume with the Last-Event-ID header, or ?last_event_id= on the first
// connect since EventSource cannot set headers.
//
// Filters: ?types=recording,batch:failed and ?sources=int-01,int-02.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrNotConfigured, "event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "streaming not supported")
		return
	}

	filter := EventFilter{
		Types:   QueryStringList(r, "types"),
		Sources: QueryStringListAliased(r, "sources", "source_id"),
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", reconnectDelay.Milliseconds())

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	sent := 0
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID, _ = QueryString(r, "last_event_id")
	}
	replayed := map[string]bool{}
	if lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
			replayed[e.ID] = true
			sent++
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().
		Strs("types", filter.Types).
		Strs("sources", filter.Sources).
		Int("replayed", sent).
		Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Int("events_sent", sent).Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if replayed[event.ID] {
				continue
			}
			writeEvent(w, event)
			sent++
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// reconnectDelay is sent as the SSE retry hint.
const reconnectDelay = 3 * time.Second

func writeEvent(w http.ResponseWriter, e SSEEvent) {
	name := e.Type
	if e.SubType != "" {
		name += "." + e.SubType
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, name, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
