// Package claude implements oracle.Oracle over the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lynN18he/reviewops/internal/oracle"
)

// DefaultMaxTokens bounds each answer. Stage prompts ask for small JSON
// objects; the Q&A prompt asks for a short paragraph.
const DefaultMaxTokens = 2048

// Client implements oracle.Oracle for Claude.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	system    string
}

// New creates a Claude client with the given API key and model name. Extra
// request options (base URL, HTTP client, retries) are passed to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: DefaultMaxTokens,
		system:    "You are a product quality analyst. When asked for JSON, reply with JSON only.",
	}
}

// Reply is the normalized Claude answer.
type Reply struct {
	Blocks       []string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Text joins the text blocks of the reply.
func (r *Reply) Text() string { return strings.Join(r.Blocks, "\n") }

// Ask sends prompt as a single user turn and returns the answer text.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	msg, err := c.sdk.Messages.New(ctx, c.params(prompt))
	if err != nil {
		return "", classify(err)
	}
	return oracle.ExtractText(fromSDKResponse(msg)), nil
}

func (c *Client) params(prompt string) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.system != "" {
		p.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	return p
}

func fromSDKResponse(msg *anthropic.Message) *Reply {
	r := &Reply{
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			r.Blocks = append(r.Blocks, block.Text)
		}
	}
	return r
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &oracle.Failure{Kind: oracle.KindTimeout, Err: err}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := oracle.KindUnavailable
		if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout {
			kind = oracle.KindTimeout
		}
		return &oracle.Failure{Kind: kind, Err: fmt.Errorf("claude api error %d: %w", apiErr.StatusCode, err)}
	}
	return &oracle.Failure{Kind: oracle.KindUnavailable, Err: err}
}
