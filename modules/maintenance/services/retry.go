package services

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 20 * time.Millisecond, Max: 500 * time.Millisecond}

// RetryOnStale re-runs fn while it fails with a stale version. fn must re-read
// the request on every call so it sends the fresh expected version.
func RetryOnStale(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, request.ErrStaleVersion) || attempt >= policy.Attempts {
			return err
		}
		delay := outbox.Backoff(attempt, policy.Base, policy.Max)
		delay += outbox.Jitter(rng, delay/2)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
