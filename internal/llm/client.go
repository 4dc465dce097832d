// client.go talks to the fix-generation model over the OpenAI chat-completions
// protocol. The endpoint and model are configurable, so the same client serves
// NVIDIA NGC, OpenAI, or any compatible gateway.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/logparse"
	"github.com/devflowfix/devflowfix/internal/patch"
	"github.com/devflowfix/devflowfix/internal/telemetry"
)

var (
	ErrMissingAPIKey       = errors.New("model API key is not configured")
	ErrEmptyResponse       = errors.New("model returned no choices")
	ErrUnparseableResponse = errors.New("model response contained no usable JSON")
	ErrNoChanges           = errors.New("model returned no changes")
)

// FixRequest carries the failure context for one candidate file. Message text
// in ErrorBlocks should already be truncated to the configured log context
// budget before it reaches the model.
type FixRequest struct {
	Provider     string
	RepoFullName string
	WorkflowName string
	FilePath     string
	FileContent  string
	ErrorBlocks  []logparse.ErrorBlock
}

// FileFix is the model's structured patch for a single file.
type FileFix struct {
	Summary string         `json:"summary"`
	Changes []patch.Change `json:"changes"`
}

// Client generates file fixes through a chat-completions endpoint.
type Client struct {
	api         openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// New builds a client from the model configuration.
func New(cfg *config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	api := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
		option.WithRequestTimeout(cfg.Timeout()),
		option.WithMaxRetries(2),
	)
	return &Client{
		api:         api,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// GenerateFix asks the model for a structured patch. The reply must contain a
// JSON object matching FileFix; anything else is reported as unparseable. The
// returned fix is shape-checked only, range and content validation against the
// actual file happens at patch application.
func (c *Client) GenerateFix(ctx context.Context, req FixRequest) (*FileFix, error) {
	start := time.Now()
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	})
	telemetry.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.LLMRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	telemetry.LLMTokensTotal.WithLabelValues("prompt").Add(float64(completion.Usage.PromptTokens))
	telemetry.LLMTokensTotal.WithLabelValues("completion").Add(float64(completion.Usage.CompletionTokens))
	if len(completion.Choices) == 0 {
		telemetry.LLMRequestsTotal.WithLabelValues("unparseable").Inc()
		return nil, ErrEmptyResponse
	}

	fix, err := Extract[FileFix](completion.Choices[0].Message.Content)
	if err != nil {
		telemetry.LLMRequestsTotal.WithLabelValues("unparseable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	if len(fix.Changes) == 0 {
		telemetry.LLMRequestsTotal.WithLabelValues("unparseable").Inc()
		return nil, ErrNoChanges
	}
	telemetry.LLMRequestsTotal.WithLabelValues("ok").Inc()
	return &fix, nil
}
