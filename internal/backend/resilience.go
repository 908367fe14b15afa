package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries          uint64        // Retries after the first attempt (default 3)
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening (default 5)
	OpenTimeout      time.Duration // time spent open before probing (default 30s)
}

// BreakerRegistry manages per-provider circuit breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger.Named("breaker"),
	}
}

// Get returns the circuit breaker for the given provider.
// Creates a new one if it doesn't exist.
func (r *BreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3, // probes allowed while half-open
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation, timeouts and safety refusals say nothing about provider health.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, ErrBlocked)
		},
	})

	r.breakers[provider] = cb
	return cb
}

// Resilient wraps a Generator with a per-call timeout, a circuit breaker and
// exponential backoff retry.
type Resilient struct {
	name     string
	next     Generator
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	retryCfg RetryConfig
	logger   *zap.Logger
}

// NewResilient wraps next. A zero timeout disables the per-call deadline.
func NewResilient(name string, next Generator, breakers *BreakerRegistry, retryCfg RetryConfig, timeout time.Duration, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{
		name:     name,
		next:     next,
		timeout:  timeout,
		breaker:  breakers.Get(name),
		retryCfg: retryCfg,
		logger:   logger.Named("resilient").With(zap.String("provider", name)),
	}
}

func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	return r.call(ctx, func(ctx context.Context) (string, error) {
		return r.next.Generate(ctx, prompt)
	})
}

func (r *Resilient) GenerateGrounded(ctx context.Context, prompt string) (string, error) {
	return r.call(ctx, func(ctx context.Context) (string, error) {
		return r.next.GenerateGrounded(ctx, prompt)
	})
}

// call executes fn with retry and circuit breaker protection. Every attempt
// gets its own deadline.
func (r *Resilient) call(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var out string
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		result, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrBlocked) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			r.logger.Debug("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		out = result.(string)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryCfg.InitialInterval
	policy.MaxInterval = r.retryCfg.MaxInterval
	policy.MaxElapsedTime = 0
	if r.retryCfg.Multiplier > 0 {
		policy.Multiplier = r.retryCfg.Multiplier
	}
	policy.RandomizationFactor = r.retryCfg.RandomizationFactor

	b := backoff.WithContext(backoff.WithMaxRetries(policy, r.retryCfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", fmt.Errorf("%s after %d attempt(s): %w", r.name, attempt, err)
	}
	return out, nil
}
