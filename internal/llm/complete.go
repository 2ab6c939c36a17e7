package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single chat completion.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// CompletionClient calls an OpenAI-compatible /v1/chat/completions endpoint.
type CompletionClient struct {
	httpClient
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// NewCompletionClient creates a chat completion client.
func NewCompletionClient(opts ClientOptions) *CompletionClient {
	return &CompletionClient{httpClient: newHTTPClient(opts)}
}

// Model returns the configured model identifier.
func (c *CompletionClient) Model() string { return c.opts.Model }

// Complete returns the assistant message of the first choice.
func (c *CompletionClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.User})

	var resp chatResponse
	err := c.postJSON(ctx, "completion", chatRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion: response has no choices")
	}
	if fr := resp.Choices[0].FinishReason; fr == "length" {
		c.opts.Log.Warn().Str("model", c.opts.Model).Msg("completion truncated at max_tokens")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
