// Package backoff computes the delay between automatic step retries.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before retry n, where n=1 is the first retry after
// the initial attempt failed. Implementations are stateless.
type Strategy interface {
	Delay(retry int) time.Duration
}

// Constant waits the same interval before every retry.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay per retry up to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(retry int) time.Duration {
	return time.Duration(ceiling(e.Initial, e.Max, retry))
}

// Jittered picks a uniform delay in [0, Exponential.Delay(n)] so that many runs
// failing against the same backend do not retry in lockstep.
type Jittered struct {
	Initial time.Duration
	Max     time.Duration
}

func (j Jittered) Delay(retry int) time.Duration {
	//nolint:gosec // jitter does not need a crypto source
	return time.Duration(rand.Float64() * ceiling(j.Initial, j.Max, retry))
}

// maxDelay keeps float to Duration conversion in range.
const maxDelay = float64(1 << 62)

func ceiling(initial, limit time.Duration, retry int) float64 {
	if retry < 1 {
		retry = 1
	}
	d := float64(initial) * math.Pow(2, float64(retry-1))
	if limit > 0 && d > float64(limit) {
		d = float64(limit)
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// New returns the strategy named kind: "constant", "exponential" or "jitter".
func New(kind string, initial, limit time.Duration) (Strategy, error) {
	switch kind {
	case "constant":
		return Constant{Interval: initial}, nil
	case "exponential":
		return Exponential{Initial: initial, Max: limit}, nil
	case "jitter", "":
		return Jittered{Initial: initial, Max: limit}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy: %q", kind)
	}
}

// Default is jittered exponential backoff from 1s to 1m.
func Default() Strategy {
	return Jittered{Initial: time.Second, Max: time.Minute}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
