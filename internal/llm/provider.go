// Package llm wraps the remote chat models used for intent mapping and
// model-assisted repair. Clients never retry on their own; the caller owns
// the attempt budget. Each client sits behind a circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/intelliquery/intent-agent/pkg/circuitbreaker"
	"github.com/intelliquery/intent-agent/pkg/config"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// ErrDisabled is returned by the provider configured as "none".
var ErrDisabled = errors.New("remote model is disabled")

type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	// JSON asks the model for a bare JSON object where the API supports it.
	JSON bool
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// BreakerReporter is implemented by providers guarded by a circuit breaker.
type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

type guard struct {
	cb *circuitbreaker.CircuitBreaker
}

func newGuard(name string) guard {
	return guard{cb: circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})}
}

func (g guard) BreakerState() circuitbreaker.State {
	return g.cb.State()
}

type settings struct {
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

func (s settings) resolve(req CompletionRequest) (float32, int) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}
	return temperature, maxTokens
}

func (s settings) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Disabled always fails with ErrDisabled so the pipeline falls back to the
// classifier.
type Disabled struct{}

func (Disabled) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, ErrDisabled
}

func (Disabled) Name() string { return "none" }

// NewFromConfig builds the provider selected by cfg.Provider.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	s := settings{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout(),
	}
	if s.maxTokens <= 0 {
		s.maxTokens = 1024
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider != "none" && provider != "" && cfg.APIKey == "" {
		logger.Warn("No API key for remote model, mapping will use classifier fallback")
		return Disabled{}, nil
	}

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, s), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, s), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, s)
	case "none", "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
