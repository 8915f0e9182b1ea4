package retry

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an external call is retried: how many times, how long to
// wait between attempts and which errors are worth another attempt.
type Policy struct {
	Name            string
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Jitter is the randomization factor applied to each wait, 0 disables it
	Jitter float64
	// Retryable reports whether err deserves another attempt. Nil retries everything
	// except errors wrapped with Permanent.
	Retryable func(err error) bool
}

// Default is the policy shared by the downloader and the geocoding client
func Default(name string, maxAttempts int) Policy {
	return Policy{
		Name:            name,
		MaxAttempts:     maxAttempts,
		InitialInterval: 2 * time.Second,
		MaxInterval:     time.Minute,
		Jitter:          0.2,
	}
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts run out
// or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("%s: attempt %d/%d failed: %v (retrying in %v)", p.label(), attempt, attempts, err, wait.Round(time.Millisecond))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

func (p Policy) label() string {
	if p.Name == "" {
		return "retry"
	}
	return p.Name
}
