// Package genai provides the language model gateway for Unsent.
//
// The gateway owns prompt dispatch, response normalization, and failure
// containment: callers always receive a canonical result, never a raw
// provider error.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/unsent-labs/unsent/internal/models"
)

// DefaultCompletionTimeout bounds a single model call.
const DefaultCompletionTimeout = 30 * time.Second

// DegradedMessage is shown to the user when the model call or its response
// cannot be used. The turn does not advance.
const DegradedMessage = "I'm sorry, I seem to be having technical difficulties. Please try again in a moment."

// personaPreamble is prepended to every model instruction so each stage
// prompt inherits the same voice and boundaries.
const personaPreamble = "You are the guide inside Unsent, a private space where people write the " +
	"things they never got to say to someone. You are warm, unhurried, and plain-spoken. You never " +
	"give advice unless asked, never judge, and never pressure the user to send anything. " +
	"Always respond with a single JSON object."

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the gateway.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option defines a configuration option for the gateway.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-call completion timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is the language model gateway.
type Client struct {
	chat    chatService
	model   openai.ChatModel
	timeout time.Duration
}

// NewClient initializes the gateway. The API key falls back to the
// OPENAI_API_KEY environment variable.
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
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCompletionTimeout
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI NewClient created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{chat: &openaiChatService{client: cli}, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Complete sends a stage instruction and the user's text to the model and
// returns the normalized result. It never returns an error: any failure
// yields a degraded result carrying a user-safe message, and the caller
// must not advance the stage when Degraded is set.
func (c *Client) Complete(ctx context.Context, instruction, userText, sessionID string) models.CanonicalResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(personaPreamble + "\n\n" + instruction),
			openai.UserMessage(userText),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI Complete failed", "error", err, "sessionID", sessionID)
		return degraded(err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI Complete returned no choices", "sessionID", sessionID)
		return degraded(fmt.Errorf("no choices returned"))
	}

	content := resp.Choices[0].Message.Content
	result := normalizeContent(content)
	slog.Debug("GenAI Complete succeeded", "sessionID", sessionID, "degraded", result.Degraded)
	return result
}

// normalizeContent parses the raw model output into a canonical result.
// Non-JSON output is treated as a plain user-facing message rather than a
// failure; the JSON instruction is a request, not a guarantee.
func normalizeContent(content string) models.CanonicalResult {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return models.CanonicalResult{
			UserResponse:   models.UserResponse{Message: content},
			SystemResponse: map[string]interface{}{},
		}
	}
	return Normalize(raw)
}

func degraded(err error) models.CanonicalResult {
	return models.CanonicalResult{
		UserResponse:   models.UserResponse{Message: DegradedMessage},
		SystemResponse: map[string]interface{}{"error": err.Error()},
		Degraded:       true,
	}
}
