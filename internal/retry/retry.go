package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy holds backoff configuration.
type Policy struct {
	MaxAttempts int           // Maximum number of attempts (default: 3)
	BaseDelay   time.Duration // Base delay for exponential backoff (default: 1s)
	MaxDelay    time.Duration // Cap on a single delay (default: 60s)
}

// DefaultPolicy returns default backoff configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Delay computes the wait before retrying attempt (zero-based):
// base * 2^attempt plus up to one second of jitter, capped at MaxDelay.
// A non-zero floor (a server-provided Retry-After) raises the result so
// the server's wait is never undercut.
func (p Policy) Delay(attempt int, floor time.Duration) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	d += time.Duration(rand.Int63n(int64(time.Second)))
	if d < floor {
		d = floor
	}
	return d
}

// Attempt reports the outcome of one try to Do.
type Attempt struct {
	// Retryable marks the failure as worth another attempt.
	Retryable bool
	// Floor is a minimum wait demanded by the remote side, zero if none.
	Floor time.Duration
	// Err is the failure, nil on success.
	Err error
}

// Do runs operation until it succeeds, exhausts the attempt budget, or
// returns a non-retryable failure. The operation receives the zero-based
// attempt number.
func Do(ctx context.Context, p Policy, operation func(attempt int) Attempt) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		res := operation(attempt)
		if res.Err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = res.Err

		if !res.Retryable {
			log.Debug().
				Err(res.Err).
				Int("attempt", attempt+1).
				Msg("Error is not retryable, aborting")
			return res.Err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt, res.Floor)
		log.Warn().
			Err(res.Err).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	log.Warn().
		Err(lastErr).
		Int("max_attempts", p.MaxAttempts).
		Msg("Max retry attempts reached")
	return fmt.Errorf("operation failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
