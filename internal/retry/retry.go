// Package retry runs fallible remote operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/metrics"
)

const maxShift = 30

// Config controls the backoff schedule. Attempt i (0-indexed) is followed by a
// wait of BaseDelay * 2^i, capped at MaxDelay when MaxDelay > 0.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter applies ±25% randomization to every wait.
	Jitter bool
}

// DefaultConfig returns 3 retries with 500ms→1s→2s waits.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
	}
}

// Delay returns the wait that follows the given 0-indexed attempt, before jitter.
func (c Config) Delay(attempt int) time.Duration {
	if c.BaseDelay <= 0 || attempt < 0 {
		return 0
	}
	shift := attempt
	if shift > maxShift {
		shift = maxShift
	}
	d := c.BaseDelay << uint(shift)
	if c.MaxDelay > 0 && (d > c.MaxDelay || d <= 0) {
		d = c.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor applies one retry policy to any number of operations. It holds no
// per-call state and is safe for concurrent use.
type Executor struct {
	cfg    Config
	sleep  Sleeper
	logger *slog.Logger
}

type Option func(*Executor)

func WithSleeper(sleep Sleeper) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(cfg Config, options ...Option) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	e := &Executor{
		cfg:    cfg,
		sleep:  timerSleep,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(e)
		}
	}
	return e
}

func (e *Executor) Config() Config {
	return e.cfg
}

// WithRetries returns a copy of e that makes at most n retries.
func (e *Executor) WithRetries(n int) *Executor {
	clone := *e
	if n < 0 {
		n = 0
	}
	clone.cfg.MaxRetries = n
	return &clone
}

// Run is Do for operations without a result value.
func (e *Executor) Run(ctx context.Context, label string, op func(context.Context) error) error {
	_, err := Do(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do attempts op up to MaxRetries+1 times and returns the first success.
// Every failure is retried the same way, except errors marked with Permanent
// and context cancellation, which are returned unchanged. After the last
// attempt fails the result is an *ExhaustedError wrapping the last error.
func Do[T any](ctx context.Context, e *Executor, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		e = New(DefaultConfig())
	}
	attempts := e.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			metrics.RetryAttemptsTotal.WithLabelValues(label, "success").Inc()
			return value, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			metrics.RetryAttemptsTotal.WithLabelValues(label, "permanent").Inc()
			return zero, perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.RetryAttemptsTotal.WithLabelValues(label, "canceled").Inc()
			return zero, ctxErr
		}

		if attempt == attempts-1 {
			break
		}
		metrics.RetryAttemptsTotal.WithLabelValues(label, "retry").Inc()

		wait := e.cfg.Delay(attempt)
		if e.cfg.Jitter {
			wait = applyJitter(wait)
		}
		e.logger.Debug("operation failed, retrying",
			slog.String("label", label),
			slog.Int("attempt", attempt+1),
			slog.Int("maxAttempts", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := e.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	metrics.RetryAttemptsTotal.WithLabelValues(label, "exhausted").Inc()
	return zero, &ExhaustedError{Label: label, Attempts: attempts, Err: lastErr}
}

// ExhaustedError is returned once every attempt failed. It matches
// domain.ErrRetryExhausted and the last underlying error with errors.Is.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Label, domain.ErrRetryExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{domain.ErrRetryExhausted, e.Err}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so the executor returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// applyJitter adds ±25% randomization to d.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}
