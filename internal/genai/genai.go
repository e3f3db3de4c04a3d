// Package genai provides free-text field extraction using the OpenAI API.
//
// The booking flow delegates semantic extraction of unstructured answers
// (name, goal, pain point) to a chat model; structured fields are parsed
// locally by the flow package and never reach this client.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/palinopr/bookingflow/internal/models"
)

// FieldKind identifies which free-text field to extract from a message.
type FieldKind string

const (
	// FieldKindName extracts the customer's name.
	FieldKindName FieldKind = "name"
	// FieldKindGoal extracts the business goal.
	FieldKindGoal FieldKind = "goal"
	// FieldKindPain extracts the pain point.
	FieldKindPain FieldKind = "pain"
)

// noValueMarker is the token the model returns when nothing can be extracted.
const noValueMarker = "NONE"

// ClientInterface defines the text-understanding collaborator contract.
// ExtractField returns the extracted value, or an empty string when the
// message carries no usable value for the requested field.
type ClientInterface interface {
	ExtractField(ctx context.Context, kind FieldKind, text string, locale models.Locale) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model used for extraction.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service for field extraction.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable if not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := openai.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4oMini
	}
	slog.Debug("GenAI client configured", "model", model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
	}, nil
}

// ExtractField asks the model to pull one field value out of a raw message.
// Output is treated as untrusted; the flow package applies its own
// validation before any state mutation.
func (c *Client) ExtractField(ctx context.Context, kind FieldKind, text string, locale models.Locale) (string, error) {
	slog.Debug("GenAI ExtractField invoked", "kind", kind, "locale", locale, "text_length", len(text))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionPrompt(kind, locale)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Error("GenAI ExtractField request failed", "error", err, "kind", kind)
		return "", fmt.Errorf("field extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	value := strings.TrimSpace(resp.Choices[0].Message.Content)
	if value == "" || strings.EqualFold(value, noValueMarker) {
		slog.Debug("GenAI ExtractField found no value", "kind", kind)
		return "", nil
	}
	slog.Debug("GenAI ExtractField succeeded", "kind", kind, "value_length", len(value))
	return value, nil
}

// extractionPrompt builds the per-field system prompt. The model answers with
// the bare value only, or the no-value marker.
func extractionPrompt(kind FieldKind, locale models.Locale) string {
	var what string
	switch kind {
	case FieldKindName:
		what = "the person's name"
	case FieldKindGoal:
		what = "the business goal the person wants to achieve"
	case FieldKindPain:
		what = "the biggest challenge or pain point the person describes"
	default:
		what = string(kind)
	}
	return fmt.Sprintf(
		"You extract structured data from WhatsApp messages written in %q. "+
			"Reply with %s exactly as stated, and nothing else. "+
			"If the message does not contain it, reply with the single word %s.",
		locale, what, noValueMarker)
}
