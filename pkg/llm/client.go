// Package llm is the pipeline's single LLM access point: Generator
// calls it to draft test source, Repair calls it to diagnose a
// failure and propose a patch, and Validator's optional phase 2 calls
// it with screenshots for a vision judgement. Grounded on the
// teacher's pkg/llm.Client (config-driven constructor, structured
// request/response shape, slog-style lifecycle logging), with the
// gRPC/protobuf transport swapped for anthropic-sdk-go and every call
// wrapped in a sony/gobreaker circuit breaker per model, since a
// stuck provider must not wedge every Task advancing through the
// pipeline.
package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/e2eforge/forge/pkg/apperr"
)

// Config configures the Anthropic-backed client.
type Config struct {
	APIKey           string
	BaseURL          string // overrides the default API endpoint; used by tests
	DefaultMaxTokens int
	RequestTimeout   time.Duration
}

// Role mirrors anthropic.MessageParamRole without exposing the SDK
// type at every call site.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role Role
	Text string
	// Images are base64-encoded screenshots attached to this turn,
	// used only by Validator's phase-2 vision call.
	Images []Image
}

// Image is a single base64-encoded image attachment.
type Image struct {
	MediaType string // e.g. "image/png"
	Base64    string
}

// CompletionRequest is the uniform shape every worker submits.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// CompletionResponse is the uniform shape every worker receives.
type CompletionResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Client wraps the Anthropic Messages API behind a per-model circuit
// breaker.
type Client struct {
	api              anthropic.Client
	defaultMaxTokens int
	requestTimeout   time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a Client. Requires an API key; the caller obtains one
// via pkg/secrets rather than reading the environment directly.
func New(cfg Config) *Client {
	maxTokens := cfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:              anthropic.NewClient(opts...),
		defaultMaxTokens: maxTokens,
		requestTimeout:   timeout,
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) breakerFor(model string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[model]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm:" + model,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm: circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
	c.breakers[model] = cb
	return cb
}

// Complete sends a single non-streaming completion request.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	cb := c.breakerFor(req.Model)
	result, err := cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return c.api.Messages.New(callCtx, params)
	})
	if err != nil {
		return CompletionResponse{}, apperr.New(apperr.KindProvider, "llm request failed", err)
	}

	msg := result.(*anthropic.Message)
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return CompletionResponse{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

func toAnthropicMessages(in []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(in))
	for _, m := range in {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.Images))
		for _, img := range m.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64))
		}
		if m.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Text))
		}

		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// Healthy reports whether every per-model breaker this client has
// opened is currently closed (not tripped).
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cb := range c.breakers {
		if cb.State() == gobreaker.StateOpen {
			return false
		}
	}
	return true
}
