package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/search?q=+why+leave%3F+&top_k=5&min_similarity=0.35&bad_k=five&blank=+", nil)

	q, ok := QueryString(req, "q")
	assert.True(t, ok)
	assert.Equal(t, "why leave?", q)

	k, ok := QueryInt(req, "top_k")
	assert.True(t, ok)
	assert.Equal(t, 5, k)

	f, ok := QueryFloat(req, "min_similarity")
	assert.True(t, ok)
	assert.InDelta(t, 0.35, f, 1e-9)

	_, ok = QueryInt(req, "bad_k")
	assert.False(t, ok, "unparseable values fall back to defaults")
	_, ok = QueryString(req, "blank")
	assert.False(t, ok, "whitespace counts as missing")
	_, ok = QueryFloat(req, "absent")
	assert.False(t, ok)
}

func TestQueryStringList(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"comma_separated", "/?exclude=Alice,+,Bob+", []string{"Alice", "Bob"}},
		{"repeated", "/?exclude=Alice&exclude=Bob,Carol", []string{"Alice", "Bob", "Carol"}},
		{"missing", "/", nil},
		{"only_blanks", "/?exclude=,,", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QueryStringList(httptest.NewRequest("GET", tt.target, nil), "exclude")
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("aliased_falls_through", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?exclude_speakers=Interviewer", nil)
		assert.Equal(t, []string{"Interviewer"}, QueryStringListAliased(req, "exclude", "exclude_speakers"))
	})
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		code  int
		want  ErrorResponse
	}{
		{
			"plain",
			func(w http.ResponseWriter) { WriteError(w, http.StatusBadRequest, "failed to read audio file") },
			http.StatusBadRequest,
			ErrorResponse{Error: "failed to read audio file"},
		},
		{
			"with_code",
			func(w http.ResponseWriter) {
				WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrQueueFull, "recording queue is full")
			},
			http.StatusServiceUnavailable,
			ErrorResponse{Error: "recording queue is full", Code: ErrQueueFull},
		},
		{
			"with_detail",
			func(w http.ResponseWriter) {
				WriteErrorDetail(w, http.StatusBadRequest, "reset not confirmed", "confirm must equal delete-all-chunks")
			},
			http.StatusBadRequest,
			ErrorResponse{Error: "reset not confirmed", Detail: "confirm must equal delete-all-chunks"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]any{"source_id": "int-07", "queued": true})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"source_id":"int-07","queued":true}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Confirm string `json:"confirm"`
	}

	t.Run("valid", func(t *testing.T) {
		var dst body
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"confirm":"delete-all-chunks"}`+"\n"))
		require.NoError(t, DecodeJSON(req, &dst))
		assert.Equal(t, "delete-all-chunks", dst.Confirm)
	})

	for name, raw := range map[string]string{
		"malformed":     `{bad`,
		"trailing_data": `{"confirm":"a"}{"confirm":"b"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var dst body
			assert.Error(t, DecodeJSON(httptest.NewRequest("POST", "/", strings.NewReader(raw)), &dst))
		})
	}

	t.Run("missing_body", func(t *testing.T) {
		var dst body
		req := httptest.NewRequest("POST", "/", nil)
		assert.Error(t, DecodeJSON(req, &dst))
		req.Body = nil
		assert.Error(t, DecodeJSON(req, &dst))
	})
}
