// Package anthropic implements provider.Provider against the Anthropic
// SDK. Retry/classification is adapted from the teacher's
// internal/compact/haiku.go HaikuClient; see DESIGN.md.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/provider"
)

func envAPIKey() string { return os.Getenv("ANTHROPIC_API_KEY") }

const defaultModel = "claude-3-5-haiku-20241022"

// ErrAPIKeyRequired is returned when no API key is available from
// either the explicit argument or the environment.
var ErrAPIKeyRequired = errors.New("anthropic: API key required")

// Client adapts the Anthropic SDK to provider.Provider.
type Client struct {
	sdk   anthropicsdk.Client
	model anthropicsdk.Model
}

// New constructs a Client. ANTHROPIC_API_KEY in the environment takes
// precedence over apiKey, matching the teacher's own precedence order.
func New(apiKey, model string) (*Client, error) {
	if envKey := envAPIKey(); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure the provider profile", ErrAPIKeyRequired)
	}
	if model == "" {
		model = defaultModel
	}

	return &Client{
		sdk:   anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model: anthropicsdk.Model(model),
	}, nil
}

// Complete sends messages to the configured model and returns the first
// text block. It classifies failures into errs.ProviderError so the
// queue's retry loop can decide transient vs permanent; Complete itself
// performs no retries — that's the queue's job (SPEC_FULL.md §4.9).
func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = anthropicsdk.Model(opts.Model)
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropicsdk.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
	}

	var system string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		default:
			params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	if len(message.Content) == 0 {
		return "", &errs.ProviderError{Transient: false, Message: "unexpected response: no content blocks"}
	}
	block := message.Content[0]
	if block.Type != "text" {
		return "", &errs.ProviderError{Transient: false, Message: fmt.Sprintf("unexpected response: not a text block (type=%s)", block.Type)}
	}
	return block.Text, nil
}

// classify mirrors the teacher's isRetryable: context cancellation is
// never retried, network timeouts and 429/5xx status codes are
// transient, everything else is permanent.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &errs.ProviderError{Transient: false, Message: "request cancelled", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &errs.ProviderError{Transient: true, Message: "network timeout", Cause: err}
	}

	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return &errs.ProviderError{Transient: true, Message: "provider rate-limited or unavailable", Cause: err}
		}
		return &errs.ProviderError{Transient: false, Message: "provider rejected request", Cause: err}
	}

	return &errs.ProviderError{Transient: false, Message: "provider call failed", Cause: err}
}
