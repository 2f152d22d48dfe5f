package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/intelliquery/intent-agent/pkg/logger"
)

// GeminiClient calls the Gemini generate-content API, the model family the
// service originally shipped with.
type GeminiClient struct {
	guard
	client *genai.Client
	cfg    settings
}

func NewGeminiClient(ctx context.Context, apiKey string, s settings) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if s.model == "" {
		s.model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "gemini"),
		zap.String("model", s.model),
	)

	return &GeminiClient{
		guard:  newGuard("llm-gemini"),
		client: client,
		cfg:    s,
	}, nil
}

func (c *GeminiClient) Name() string { return "gemini:" + c.cfg.model }

func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := c.cfg.bound(ctx)
	defer cancel()

	temperature, maxTokens := c.cfg.resolve(req)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	var result *CompletionResponse
	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.model, genai.Text(req.UserPrompt), genCfg)
		if err != nil {
			return fmt.Errorf("gemini API error: %w", err)
		}

		text := resp.Text()
		if text == "" {
			return fmt.Errorf("no text content in gemini response")
		}

		var usage Usage
		if resp.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		logger.Debug("LLM completion generated",
			zap.String("provider", "gemini"),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
		)

		result = &CompletionResponse{Content: text, Usage: usage}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
