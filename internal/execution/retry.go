package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/exchange"
)

// RetryPolicy retries transient failures with exponential backoff.
// Business rejections pass through on the first occurrence.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !exchange.IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.BackoffBase << i):
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}
