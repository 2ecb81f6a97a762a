package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// Attempt describes one provider call made by a [FallbackGroup].
type Attempt struct {
	Provider string
	Duration time.Duration
	Err      error
	Skipped  bool
}

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker; Name is set
	// per entry.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, if set, is called after every attempt, including skips.
	OnAttempt func(Attempt)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of one provider
// type. Entries are tried in registration order.
//
// Fallbacks must be registered before the group is shared between
// goroutines; Execute itself is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cb),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// States reports each entry's breaker state keyed by entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute runs fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry until one succeeds and returns
// its result. A context.Canceled error stops the walk immediately and is
// returned as is. When all entries fail the result wraps [ErrAllFailed] and
// the last provider error.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		var result R
		start := time.Now()
		err := e.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		skipped := errors.Is(err, ErrCircuitOpen)
		if fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(Attempt{Provider: e.name, Duration: time.Since(start), Err: err, Skipped: skipped})
		}
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case skipped:
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		default:
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
