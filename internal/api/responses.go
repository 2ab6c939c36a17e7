package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Machine-readable error codes returned alongside the message.
const (
	ErrBadRequest    = "bad_request"
	ErrUnauthorized  = "unauthorized"
	ErrInvalidBody   = "invalid_body"
	ErrNotFound      = "not_found"
	ErrNoResults     = "no_results"
	ErrQueueFull     = "queue_full"
	ErrNotConfirmed  = "not_confirmed"
	ErrRetrieval     = "retrieval_failed"
	ErrSynthesis     = "synthesis_failed"
	ErrNoCitations   = "no_valid_citations"
	ErrIngestion     = "ingestion_failed"
	ErrTimeout       = "timeout"
	ErrInternal      = "internal"
	ErrNotConfigured = "not_configured"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx response. No answer is ever
// returned alongside it.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorWithCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// queryParam parses a single query value. Missing or unparseable values
// report false so handlers fall back to their configured defaults.
func queryParam[T any](r *http.Request, name string, parse func(string) (T, error)) (T, bool) {
	var zero T
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return zero, false
	}
	v, err := parse(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// QueryInt reads an integer parameter such as top_k.
func QueryInt(r *http.Request, name string) (int, bool) {
	return queryParam(r, name, strconv.Atoi)
}

// QueryFloat reads a float parameter such as min_similarity.
func QueryFloat(r *http.Request, name string) (float64, bool) {
	return queryParam(r, name, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// QueryString reads a non-blank string parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	return queryParam(r, name, func(s string) (string, error) { return s, nil })
}

// QueryStringList splits a comma-separated parameter, dropping blanks.
// Repeated parameters (?exclude=a&exclude=b) are merged.
func QueryStringList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// QueryStringListAliased returns the list for the first name that has one,
// so exclude and exclude_speakers are interchangeable.
func QueryStringListAliased(r *http.Request, names ...string) []string {
	for _, name := range names {
		if list := QueryStringList(r, name); len(list) > 0 {
			return list
		}
	}
	return nil
}

// DecodeJSON decodes a single JSON value from the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("missing request body")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
