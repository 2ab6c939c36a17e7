package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/retry"
)

func testOpts(url string) ClientOptions {
	return ClientOptions{
		URL:     url,
		Model:   "test-model",
		APIKey:  "k",
		Timeout: 5 * time.Second,
		Retry:   retry.Policy{MaxRetries: 2, Initial: time.Millisecond, MaxDelay: time.Millisecond},
		Log:     zerolog.Nop(),
	}
}

func TestEmbeddingClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "line one line two", req.Input)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(testOpts(srv.URL), 3)
	vec, err := c.Embed(context.Background(), "line one\nline two")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbeddingClient_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2]}]}`)
	}))
	defer srv.Close()

	_, err := NewEmbeddingClient(testOpts(srv.URL), 3).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "got 2 dimensions, want 3")
}

func TestEmbeddingClient_EmptyText(t *testing.T) {
	_, err := NewEmbeddingClient(testOpts("http://127.0.0.1:1"), 3).Embed(context.Background(), "  \n ")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestCompletionClient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "question?", req.Messages[1].Content)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, 100, req.MaxTokens)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  answer \n"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewCompletionClient(testOpts(srv.URL))
	out, err := c.Complete(context.Background(), CompletionRequest{System: "be brief", User: "question?", Temperature: 0.7, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCompletionClient_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewCompletionClient(testOpts(srv.URL)).Complete(context.Background(), CompletionRequest{User: "q"})
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCompletionClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewCompletionClient(testOpts(srv.URL)).Complete(context.Background(), CompletionRequest{User: "q"})
	assert.ErrorContains(t, err, "no choices")
}
