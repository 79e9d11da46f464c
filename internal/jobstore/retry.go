package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// RetryConfig bounds store write retries.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	return c
}

// retry runs op with exponential backoff. Exhaustion wraps the last error in ErrStoreWrite.
func (s *Store) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryCfg.InitialInterval
	b.MaxInterval = s.retryCfg.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && attempt < s.retryCfg.MaxAttempts {
			log.Warn().Err(err).Str("op", what).Int("attempt", attempt).Msg("Job store write failed, retrying")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retryCfg.MaxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrStoreWrite, what, attempt, err)
	}
	return nil
}
