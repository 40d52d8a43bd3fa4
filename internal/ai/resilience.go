package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"

	"github.com/edgard/talebot/internal/config"
	"github.com/edgard/talebot/internal/conversation"
)

const maxRetryInterval = 30 * time.Second

// ErrCircuitOpen is returned without calling the backend while it is considered down.
var ErrCircuitOpen = gobreaker.ErrOpenState

// resilientBackend retries failed completions with exponential backoff and
// stops calling a backend that keeps failing.
type resilientBackend struct {
	next    Backend
	cb      *gobreaker.CircuitBreaker
	retry   config.RetryConfig
	logger  *slog.Logger
	sleepFn func(ctx context.Context, d time.Duration) error
}

func withResilience(next Backend, name string, retry config.RetryConfig, breaker config.BreakerConfig, logger *slog.Logger) *resilientBackend {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if breaker.MaxFailures == 0 {
		breaker.MaxFailures = 5
	}
	if breaker.Cooldown <= 0 {
		breaker.Cooldown = time.Minute
	}
	log := logger.With("component", "ai_breaker", "backend", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.MaxFailures
		},
		// Cancellation is the caller's doing, not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &resilientBackend{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(settings),
		retry:   retry,
		logger:  log,
		sleepFn: sleep,
	}
}

func (r *resilientBackend) Complete(ctx context.Context, turns []conversation.Turn) ([]string, error) {
	var (
		lastErr  error
		interval = r.retry.Backoff
	)

	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		res, err := r.cb.Execute(func() (interface{}, error) {
			return r.next.Complete(ctx, turns)
		})
		if err == nil {
			candidates, _ := res.([]string)
			return candidates, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, err
		}
		if attempt == r.retry.MaxAttempts {
			break
		}

		wait := jitter(interval)
		r.logger.DebugContext(ctx, "Completion failed, retrying",
			"attempt", attempt,
			"max_attempts", r.retry.MaxAttempts,
			"next_interval", wait,
			"error", err)
		if err := r.sleepFn(ctx, wait); err != nil {
			return nil, fmt.Errorf("retry abandoned: %w", lastErr)
		}
		interval = min(interval*2, maxRetryInterval)
	}

	return nil, fmt.Errorf("%d attempts failed: %w", r.retry.MaxAttempts, lastErr)
}

// jitter spreads d by up to 10% in either direction.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
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
