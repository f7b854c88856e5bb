// Package llm wraps the two configured chat-completion providers
// (Anthropic primary, OpenAI fallback) behind a single Client, and adds
// the one capability every caller in this pipeline actually needs: a
// single prompted call that must come back as a strict JSON object
// (the extractor's fixed schema, the investigation loop's query/
// evaluation calls, the bootstrap sub-phase's query generation).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

// Provider identifies which backend a Client talks to.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderNone      Provider = "none"
)

// defaultAnthropicModel is the cheap, fast model used for every
// Anthropic call, including Story headline/summary synthesis; Client
// has no per-call model override.
const defaultAnthropicModel = anthropic.ModelClaude3_5HaikuLatest

// Client provides one Complete/CompleteJSON surface over whichever
// provider is configured. Anthropic is primary per the pipeline's
// ANTHROPIC_API_KEY requirement (§6); OpenAI is the documented
// fallback, preserved as the teacher's dual-provider switch.
type Client struct {
	provider Provider

	anthropic *anthropic.Client
	openai    *openai.Client

	model   string
	logger  *slog.Logger
	enabled bool
}

// NewClient builds a Client from API keys. Anthropic is preferred when
// both are configured; a Client with no keys is disabled rather than
// erroring, since the pipeline's enrichment/investigation sub-loops
// degrade gracefully without LLM access (they just don't run).
func NewClient(anthropicKey, openaiKey string) *Client {
	logger := slog.Default().With("component", "llm")

	if anthropicKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(anthropicKey))
		return &Client{
			provider:  ProviderAnthropic,
			anthropic: &client,
			model:     defaultAnthropicModel,
			logger:    logger,
			enabled:   true,
		}
	}

	if openaiKey != "" {
		client := openai.NewClient(openaiKey)
		logger.Info("anthropic key absent, falling back to openai provider")
		return &Client{
			provider: ProviderOpenAI,
			openai:   client,
			model:    openai.GPT4oMini,
			logger:   logger,
			enabled:  true,
		}
	}

	logger.Warn("no llm provider configured (ANTHROPIC_API_KEY / OPENAI_API_KEY both empty)")
	return &Client{provider: ProviderNone, logger: logger}
}

// IsEnabled reports whether a provider is configured.
func (c *Client) IsEnabled() bool { return c.enabled }

// Provider returns the active provider.
func (c *Client) Provider() Provider { return c.provider }

// Complete sends one system+user prompt pair and returns the raw text
// response. Used directly by callers that don't need structured
// output (headline/summary synthesis in C12).
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("llm client not enabled: no provider configured")
	}
	switch c.provider {
	case ProviderAnthropic:
		return c.completeAnthropic(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("no llm provider configured")
	}
}

// CompleteJSON sends a system+user prompt pair and unmarshals the
// response into dst, stripping a leading/trailing markdown code fence
// if the model wrapped the JSON in one (both providers do this
// occasionally despite being asked not to). Returns the raw text
// alongside any unmarshal error so callers can build a rejection
// snippet (§4.5 `original_json_snippet`) without re-requesting it.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, dst any) (raw string, err error) {
	raw, err = c.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return raw, err
	}
	body := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return raw, fmt.Errorf("unmarshal llm json response: %w", err)
	}
	return raw, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (c *Client) completeAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	response := sb.String()
	c.logger.Debug("anthropic completion",
		"prompt_length", len(userPrompt),
		"response_length", len(response),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return response, nil
}

func (c *Client) completeOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	response := resp.Choices[0].Message.Content
	c.logger.Debug("openai completion",
		"prompt_length", len(userPrompt),
		"response_length", len(response),
		"tokens_used", resp.Usage.TotalTokens,
	)
	return response, nil
}
