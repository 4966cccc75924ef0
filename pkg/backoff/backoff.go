// Package backoff provides exponential backoff and a small retry loop.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial  time.Duration // default: 200ms
	Max      time.Duration // default: 5s
	Attempts int           // default: 3, total tries including the first
}

func (c *Config) withDefaults() Config {
	out := Config{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Attempts: 3}
	if c == nil {
		return out
	}
	if c.Initial > 0 {
		out.Initial = c.Initial
	}
	if c.Max > 0 {
		out.Max = c.Max
	}
	if c.Attempts > 0 {
		out.Attempts = c.Attempts
	}
	return out
}

// Exponential calculates the wait before retry number attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	c := cfg.withDefaults()
	if attempt < 1 {
		return c.Initial
	}
	d := float64(c.Initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts
// are exhausted or ctx is done. The last error is returned unwrapped.
func Retry(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	c := cfg.withDefaults()
	var err error
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == c.Attempts {
			break
		}
		timer := time.NewTimer(Exponential(attempt, &c))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
