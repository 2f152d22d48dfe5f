package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted wraps the last attempt error once MaxAttempts is reached.
var ErrExhausted = errors.New("retry attempts exhausted")

type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	AttemptTimeout  time.Duration
	RetryableErrors []error
	OnRetry         func(attempt int, err error, delay time.Duration)
	Logger          *zap.Logger
}

// Attempt describes the outcome of a single try.
type Attempt struct {
	Number   int
	Err      error
	Duration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
		Logger:         zap.NewNop(),
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Delay returns the backoff before attempt n+1 (n starting at 1), without jitter.
func (cfg Config) Delay(n int) time.Duration {
	cfg = cfg.withDefaults()
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(n-1))
	if d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// Do runs operation up to MaxAttempts times. Each attempt receives its own
// context bounded by AttemptTimeout when set. Cancellation of ctx stops both
// the attempts and the waits between them. The returned slice records every
// attempt that actually ran.
func Do(ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) error) ([]Attempt, error) {
	cfg = cfg.withDefaults()

	attempts := make([]Attempt, 0, cfg.MaxAttempts)
	var lastErr error

	for n := 1; n <= cfg.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return attempts, joinCancel(err, lastErr)
		}

		start := time.Now()
		err := runAttempt(ctx, cfg.AttemptTimeout, n, operation)
		attempts = append(attempts, Attempt{Number: n, Err: err, Duration: time.Since(start)})

		if err == nil {
			if n > 1 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", n))
			}
			return attempts, nil
		}
		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			cfg.Logger.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", n))
			return attempts, err
		}

		if n == cfg.MaxAttempts {
			break
		}

		delay := addJitter(cfg.Delay(n), cfg.JitterFraction)
		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", n),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return attempts, joinCancel(err, lastErr)
		}
	}

	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, len(attempts), lastErr)
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) (T, error)) (T, []Attempt, error) {
	var result T
	attempts, err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		r, err := operation(ctx, attempt)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, attempts, err
}

func runAttempt(ctx context.Context, timeout time.Duration, n int, operation func(ctx context.Context, attempt int) error) error {
	if timeout <= 0 {
		return operation(ctx, n)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(attemptCtx, n)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func joinCancel(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %w)", ctxErr, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
