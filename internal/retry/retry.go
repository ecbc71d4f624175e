// Package retry runs operations until they succeed, fail terminally, or are
// cancelled.
//
// There is no attempt limit and no elapsed-time limit: a write that cannot
// reach the server keeps retrying at the capped interval for as long as the
// caller's context lives. Only errors marked with Terminal stop the loop.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default intervals. MaxInterval caps the wait between attempts.
const (
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 3 * time.Second
	DefaultMultiplier      = 1.5
)

// Policy configures the exponential backoff between attempts.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Logger receives one debug line per retry. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// withDefaults fills zero fields.
func (p Policy) withDefaults() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// NewBackOff returns a fresh backoff for the policy, bound to ctx.
//
// MaxElapsedTime is zero so the backoff never gives up on its own.
func (p Policy) NewBackOff(ctx context.Context) backoff.BackOffContext {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Terminal marks err as not retryable. Forever returns it without the
// marker. Terminal(nil) is nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Forever calls op until it returns nil, returns an error marked with
// Terminal, or ctx is done.
//
// op receives the attempt number starting at 1. On cancellation the context
// error is returned, even if op's last error was something else.
func Forever[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	p = p.withDefaults()
	attempt := 0

	operation := func() (T, error) {
		attempt++
		v, err := op(ctx, attempt)
		if err != nil && ctx.Err() != nil && !IsTerminal(err) {
			// Cancelled mid-attempt: stop without waiting another interval.
			return v, backoff.Permanent(ctx.Err())
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		p.Logger.Debug("retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	}

	return backoff.RetryNotifyWithData(operation, p.NewBackOff(ctx), notify)
}
