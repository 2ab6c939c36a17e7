package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/snarg/interview-kb/internal/retry"
)

// EmbeddingClient calls an OpenAI-compatible /v1/embeddings endpoint.
type EmbeddingClient struct {
	httpClient
	dim int
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewEmbeddingClient creates an embedding client that expects vectors of
// length dim.
func NewEmbeddingClient(opts ClientOptions, dim int) *EmbeddingClient {
	return &EmbeddingClient{httpClient: newHTTPClient(opts), dim: dim}
}

// Dimension returns the configured vector length.
func (c *EmbeddingClient) Dimension() int { return c.dim }

// Embed returns the embedding for text. Newlines are folded to spaces, which
// the upstream models recommend for retrieval quality.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return nil, retry.Permanent(fmt.Errorf("embed: empty text"))
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "embedding", embeddingRequest{Model: c.opts.Model, Input: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: response has no data")
	}
	vec := resp.Data[0].Embedding
	if c.dim > 0 && len(vec) != c.dim {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), c.dim)
	}
	return vec, nil
}
