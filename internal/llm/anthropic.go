package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/pkg/logger"
)

type AnthropicClient struct {
	guard
	client anthropic.Client
	cfg    settings
}

func NewAnthropicClient(apiKey, baseURL string, s settings) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if s.model == "" {
		s.model = "claude-3-5-haiku-latest"
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "anthropic"),
		zap.String("model", s.model),
	)

	return &AnthropicClient{
		guard:  newGuard("llm-anthropic"),
		client: anthropic.NewClient(opts...),
		cfg:    s,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic:" + c.cfg.model }

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := c.cfg.bound(ctx)
	defer cancel()

	temperature, maxTokens := c.cfg.resolve(req)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}

	var result *CompletionResponse
	err := c.cb.Execute(ctx, func() error {
		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("anthropic API error: %w", err)
		}

		usage := Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		for _, block := range message.Content {
			if block.Type == "text" {
				logger.Debug("LLM completion generated",
					zap.String("provider", "anthropic"),
					zap.Int("prompt_tokens", usage.PromptTokens),
					zap.Int("completion_tokens", usage.CompletionTokens),
				)
				result = &CompletionResponse{Content: block.Text, Usage: usage}
				return nil
			}
		}
		return fmt.Errorf("no text content in anthropic response")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
