package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/pkg/logger"
)

type OpenAIClient struct {
	guard
	client *openai.Client
	cfg    settings
}

func NewOpenAIClient(apiKey, baseURL string, s settings) *OpenAIClient {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if s.model == "" {
		s.model = "gpt-4o-mini"
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "openai"),
		zap.String("model", s.model),
	)

	return &OpenAIClient{
		guard:  newGuard("llm-openai"),
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    s,
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.cfg.model }

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := c.cfg.bound(ctx)
	defer cancel()

	temperature, maxTokens := c.cfg.resolve(req)
	chatReq := openai.ChatCompletionRequest{
		Model: c.cfg.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var result *CompletionResponse
	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.String("provider", "openai"),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OpenAIEmbedder produces exemplar and query vectors through the OpenAI
// embeddings API. It satisfies embedding.Embedder.
type OpenAIEmbedder struct {
	guard
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		guard:  newGuard("embedding-openai"),
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dim:    dim,
	}
}

func (e *OpenAIEmbedder) Name() string { return "openai-" + e.model }

func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32
	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch := texts[i:end]

		err := e.cb.Execute(ctx, func() error {
			req := openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(e.model),
			}
			resp, err := e.client.CreateEmbeddings(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to generate batch embeddings: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data))
			}
			for _, data := range resp.Data {
				if e.dim > 0 && len(data.Embedding) != e.dim {
					return fmt.Errorf("embedding model %s returned %d dimensions, configured %d", e.model, len(data.Embedding), e.dim)
				}
				embeddings = append(embeddings, append([]float32(nil), data.Embedding...))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}
