package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/query"
)

// AskHandler serves question answering and raw context search.
type AskHandler struct {
	retriever Retriever
	synth     Synthesizer
}

func NewAskHandler(retriever Retriever, synth Synthesizer) *AskHandler {
	return &AskHandler{retriever: retriever, synth: synth}
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	query.Request
	IncludeContext bool `json:"include_context,omitempty"`
}

// AskResponse is a synthesized answer, optionally with the context it was
// built from.
type AskResponse struct {
	Question string `json:"question"`
	kb.SynthesizedAnswer
	Context []ContextChunk `json:"context,omitempty"`
}

// ContextChunk is one retrieved chunk as returned to clients.
type ContextChunk struct {
	Citation  string  `json:"citation"`
	SourceID  string  `json:"source_id"`
	Speaker   string  `json:"speaker"`
	Timestamp string  `json:"timestamp"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// SearchResponse is the ranked context for a question, without synthesis.
type SearchResponse struct {
	Question string         `json:"question"`
	Total    int            `json:"total"`
	Chunks   []ContextChunk `json:"chunks"`
}

// Ask retrieves context for the question and synthesizes a cited answer.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "question is required")
		return
	}

	res, err := h.retriever.Search(r.Context(), req.Request)
	if err != nil {
		WriteKBError(w, r, err)
		return
	}
	ans, err := h.synth.Synthesize(r.Context(), res.Question, res)
	if err != nil {
		WriteKBError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().
		Int("context_chunks", len(res.Chunks)).
		Int("citations", len(ans.Citations)).
		Int("unverified", len(ans.Unverified)).
		Msg("question answered")

	resp := AskResponse{Question: res.Question, SynthesizedAnswer: ans}
	if req.IncludeContext {
		resp.Context = contextChunks(res.Chunks)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Search returns the ranked, deduplicated context for ?q= without calling
// the completion service.
func (h *AskHandler) Search(w http.ResponseWriter, r *http.Request) {
	q, ok := QueryString(r, "q")
	if !ok || strings.TrimSpace(q) == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "q is required")
		return
	}
	req := query.Request{
		Question:         q,
		ExcludedSpeakers: QueryStringListAliased(r, "exclude", "exclude_speakers"),
	}
	if k, ok := QueryInt(r, "top_k"); ok {
		if k < 1 {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "top_k must be >= 1")
			return
		}
		req.TopK = k
	}
	if v, ok := QueryFloat(r, "min_similarity"); ok {
		req.MinSimilarity = &v
	}

	res, err := h.retriever.Search(r.Context(), req)
	if err != nil {
		WriteKBError(w, r, err)
		return
	}
	chunks := contextChunks(res.Chunks)
	WriteJSON(w, http.StatusOK, SearchResponse{Question: res.Question, Total: len(chunks), Chunks: chunks})
}

func contextChunks(scored []kb.ScoredChunk) []ContextChunk {
	out := make([]ContextChunk, len(scored))
	for i, sc := range scored {
		c := sc.Chunk
		out[i] = ContextChunk{
			Citation:  c.Citation().Tag(),
			SourceID:  c.SourceID,
			Speaker:   c.Speaker,
			Timestamp: c.Timestamp,
			Text:      c.Text,
			Score:     sc.Score,
		}
	}
	return out
}

// Routes registers question routes on the given router.
func (h *AskHandler) Routes(r chi.Router) {
	r.Post("/ask", h.Ask)
	r.Get("/search", h.Search)
}
