package rag

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/docsrag/docsrag/internal/provider"
)

// maxJitter is the random slice added to each backoff delay so that callers
// retrying in lockstep spread out.
const maxJitter = 500 * time.Millisecond

// withRetry runs fn up to the configured attempt budget, backing off
// exponentially between transient failures. Fatal provider errors and
// context cancellation end the loop immediately; the last error is returned
// once the budget is spent.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt == s.retry.MaxAttempts || !provider.IsTransient(err) {
			return err
		}

		delay := s.retry.BaseDelay<<(attempt-1) + rand.N(maxJitter)
		s.logger.Warn("openai_retry",
			"op", op,
			"attempt", attempt,
			"max_attempts", s.retry.MaxAttempts,
			"delay", delay.Round(10*time.Millisecond),
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
