// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backoff computes poll intervals and retry delays.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Defaults used when no configuration overrides them.
const (
	DefaultPollInitial = 2 * time.Second
	DefaultPollMax     = 30 * time.Second
	DefaultPollGrowth  = 1.5
	DefaultPollJitter  = 0.2

	DefaultRetryBase   = 2 * time.Second
	DefaultRetryFactor = 2.0
)

// =============================================================================
// POLL BACKOFF
// =============================================================================

// Poll grows the interval between remote status checks up to a cap.
type Poll struct {
	Initial time.Duration
	Max     time.Duration
	Growth  float64

	// Jitter is the fraction of the interval used for random perturbation.
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultPoll returns the default poll schedule.
func DefaultPoll() Poll {
	return Poll{
		Initial: DefaultPollInitial,
		Max:     DefaultPollMax,
		Growth:  DefaultPollGrowth,
		Jitter:  DefaultPollJitter,
	}
}

// Next returns min(current*Growth, Max). The result is never below current
// while current is under the cap.
func (p Poll) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Growth)
	if next < current {
		next = current
	}
	if p.Max > 0 && next > p.Max {
		next = p.Max
	}
	return next
}

// Perturb applies jitter: d + Jitter*d*(rand-0.5). Never negative.
func (p Poll) Perturb(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	out := d + time.Duration(p.Jitter*float64(d)*(r()-0.5))
	if out < 0 {
		return 0
	}
	return out
}

// =============================================================================
// RETRY BACKOFF
// =============================================================================

// Retry computes the delay before a retry: Base * Factor^retryCount.
// There is no cap and no jitter.
type Retry struct {
	Base   time.Duration
	Factor float64
}

// DefaultRetry returns the default retry schedule.
func DefaultRetry() Retry {
	return Retry{Base: DefaultRetryBase, Factor: DefaultRetryFactor}
}

// Delay returns the wait before retry number retryCount (starting at 0).
func (r Retry) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(float64(r.Base) * math.Pow(r.Factor, float64(retryCount)))
}

// =============================================================================
// SLEEP
// =============================================================================

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
