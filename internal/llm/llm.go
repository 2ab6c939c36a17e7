// Package llm talks to OpenAI-compatible embedding and chat-completion
// endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/retry"
)

// Embedder turns text into a fixed-dimension vector. Ingestion and query must
// share one Embedder so both sides live in the same vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Completer sends a prompt to a generative model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ClientOptions configures an HTTP client for one endpoint.
type ClientOptions struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
	Log     zerolog.Logger
}

type httpClient struct {
	opts   ClientOptions
	client *http.Client
}

func newHTTPClient(opts ClientOptions) httpClient {
	return httpClient{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// postJSON marshals in, posts it with retries and decodes the 200 body into out.
func (c httpClient) postJSON(ctx context.Context, service string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal %s request: %w", service, err))
	}

	raw, err := retry.DoValue(ctx, c.opts.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", service, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &retry.StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}
