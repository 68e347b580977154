package provider

import (
	"context"
	"fmt"
	"time"

	"server/internal/infra"
)

// Operation is a single provider call to be run under the gateway's
// resilience envelope.
type Operation func(ctx context.Context) (any, error)

// SleepFunc suspends between retry attempts. Injected so tests can observe
// the backoff schedule without waiting it out.
type SleepFunc func(ctx context.Context, d time.Duration) error

// GatewayConfig carries the per-provider resilience policy.
type GatewayConfig struct {
	Name     string
	Timeout  time.Duration
	Retries  int
	Disabled bool
}

// Gateway executes provider calls with timeout, retry-with-backoff and an
// administrative disable switch. It does not classify errors: every failed
// non-final attempt is retried, and the retryable/non-retryable distinction
// belongs to the caller's error taxonomy.
type Gateway struct {
	cfg   GatewayConfig
	clock infra.Clock
	sleep SleepFunc
}

// NewGateway builds a gateway with the given policy. A nil clock falls back
// to the system clock and a nil sleep to a context-aware timer.
func NewGateway(cfg GatewayConfig, clock infra.Clock, sleep SleepFunc) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if clock == nil {
		clock = infra.SystemClock{}
	}
	if sleep == nil {
		sleep = defaultSleep
	}
	return &Gateway{cfg: cfg, clock: clock, sleep: sleep}
}

// Name returns the provider name stamped onto outcomes.
func (g *Gateway) Name() string { return g.cfg.Name }

// Invoke runs op under the configured policy and always returns an
// Outcome; it never returns a Go error.
func (g *Gateway) Invoke(ctx context.Context, op Operation) Outcome {
	start := g.clock.Now()
	if g.cfg.Disabled {
		return failureOutcome(g.cfg.Name, fmt.Sprintf("provider %s disabled", g.cfg.Name), g.clock.Now().Sub(start), g.clock.Now())
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			// Attempt n-1 failed; wait 2^(n-1) seconds before attempt n.
			if err := g.sleep(ctx, backoffDelay(attempt-1)); err != nil {
				// Keep the operation's own failure as the outcome;
				// the interruption is only appended.
				if lastErr != nil {
					lastErr = fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
				} else {
					lastErr = err
				}
				break
			}
		}
		payload, err := g.attempt(ctx, op)
		if err == nil {
			return successOutcome(g.cfg.Name, payload, g.clock.Now().Sub(start), g.clock.Now())
		}
		lastErr = err
	}
	return failureOutcome(g.cfg.Name, lastErr.Error(), g.clock.Now().Sub(start), g.clock.Now())
}

// attempt races one operation call against the configured timeout. The
// operation receives a context cancelled at the deadline; a call that
// ignores it is abandoned, not awaited.
func (g *Gateway) attempt(ctx context.Context, op Operation) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		payload any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := op(attemptCtx)
		done <- result{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("provider %s timed out after %s", g.cfg.Name, g.cfg.Timeout)
	}
}

// backoffDelay returns the wait after the nth (0-indexed) failed attempt:
// 1s, 2s, 4s, ... with no jitter and no ceiling.
func backoffDelay(n int) time.Duration {
	return time.Duration(1<<uint(n)) * time.Second
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
