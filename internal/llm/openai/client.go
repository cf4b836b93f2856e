// Package openai implements oracle.Oracle and rag.Embedder over any
// OpenAI-compatible endpoint (OpenAI itself, DashScope compatible mode,
// local gateways).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lynN18he/reviewops/internal/oracle"
)

// Client talks to an OpenAI-compatible API.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
}

// New builds a client. An empty baseURL uses the library default.
func New(apiKey, baseURL, model, embeddingModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		api:            openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Reply is the normalized chat completion answer.
type Reply struct {
	Content      string
	FinishReason string
}

// GetContent returns the answer text.
func (r *Reply) GetContent() string { return r.Content }

// Ask sends prompt as a single user message and returns the first choice.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	return oracle.ExtractText(fromResponse(resp)), nil
}

func fromResponse(resp openai.ChatCompletionResponse) *Reply {
	if len(resp.Choices) == 0 {
		return &Reply{}
	}
	choice := resp.Choices[0]
	r := &Reply{Content: choice.Message.Content, FinishReason: string(choice.FinishReason)}
	if r.Content == "" {
		var parts []string
		for _, p := range choice.Message.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText {
				parts = append(parts, p.Text)
			}
		}
		r.Content = strings.Join(parts, "\n")
	}
	return r
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &oracle.Failure{Kind: oracle.KindTimeout, Err: err}
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return &oracle.Failure{Kind: oracle.KindTimeout, Err: err}
	}
	return &oracle.Failure{Kind: oracle.KindUnavailable, Err: err}
}
