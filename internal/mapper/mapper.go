// Package mapper asks the remote model for a structured intent analysis and
// parses its reply strictly into a schema candidate.
package mapper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/llm"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
	"github.com/intelliquery/intent-agent/pkg/retry"
)

type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// HintCandidates is how many classifier candidates per axis the prompt
	// shows.
	HintCandidates int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 15 * time.Second,
		HintCandidates: 3,
	}
}

type Mapper struct {
	provider llm.Provider
	prompts  *PromptSet
	cfg      Config
	log      *zap.Logger
}

// Outcome records what a mapping call produced. Attempts is filled even
// when Map returns an error.
type Outcome struct {
	Candidate *schema.Candidate
	Raw       string
	Attempts  []retry.Attempt
	Usage     llm.Usage
}

func New(provider llm.Provider, prompts *PromptSet, cfg Config) *Mapper {
	if provider == nil {
		provider = llm.Disabled{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.HintCandidates <= 0 {
		cfg.HintCandidates = DefaultConfig().HintCandidates
	}
	return &Mapper{
		provider: provider,
		prompts:  prompts,
		cfg:      cfg,
		log:      logger.Named("mapper"),
	}
}

// Enabled is false when no remote model is configured.
func (m *Mapper) Enabled() bool {
	_, disabled := m.provider.(llm.Disabled)
	return !disabled
}

func (m *Mapper) Provider() llm.Provider {
	return m.provider
}

func (m *Mapper) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    m.cfg.MaxAttempts,
		InitialDelay:   m.cfg.BaseDelay,
		MaxDelay:       m.cfg.MaxDelay,
		Multiplier:     2.0,
		AttemptTimeout: m.cfg.AttemptTimeout,
		Logger:         m.log,
	}
}

// Map calls the model until it returns a parseable JSON object or the
// attempt budget runs out. A reply that cannot be parsed counts as a failed
// attempt. The returned error is an *apperror.Error classifying the last
// failure.
func (m *Mapper) Map(ctx context.Context, in Input) (*Outcome, error) {
	out := &Outcome{}
	req := llm.CompletionRequest{
		SystemPrompt: m.prompts.System,
		UserPrompt:   m.prompts.BuildPrompt(in, m.cfg.HintCandidates),
		JSON:         true,
	}

	attempts, err := retry.Do(ctx, m.retryConfig(), func(ctx context.Context, attempt int) error {
		resp, err := m.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		out.Raw = resp.Content
		out.Usage = resp.Usage

		c, err := parse(resp.Content)
		if err != nil {
			m.log.Warn("Model reply could not be parsed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		out.Candidate = c
		return nil
	})
	out.Attempts = attempts
	if err != nil {
		out.Candidate = nil
		return out, apperror.Remote("intent mapping", err)
	}
	return out, nil
}

// Repair issues a single model-assisted repair request for c.
func (m *Mapper) Repair(ctx context.Context, in Input, c *schema.Candidate, violations []schema.Violation) (*schema.Candidate, string, error) {
	if m.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
	}

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: m.prompts.System,
		UserPrompt:   m.prompts.BuildRepairPrompt(in, c, violations),
		JSON:         true,
	})
	if err != nil {
		return nil, "", apperror.Remote("intent repair", err)
	}

	repaired, err := parse(resp.Content)
	if err != nil {
		return nil, resp.Content, err
	}
	return repaired, resp.Content, nil
}

func parse(content string) (*schema.Candidate, error) {
	return extractCandidate(content)
}

// IsDisabled reports whether err comes from a provider that is switched off.
func IsDisabled(err error) bool {
	return errors.Is(err, llm.ErrDisabled)
}
