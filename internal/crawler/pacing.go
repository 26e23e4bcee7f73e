package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// MaxPacingDelay is the longest delay a RandomPacer accepts.
const MaxPacingDelay = 24 * time.Hour

// RandomPacer sleeps for a duration drawn uniformly from [min, max].
type RandomPacer struct {
	min   time.Duration
	max   time.Duration
	randN func(n int64) int64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRandomPacer validates the bounds and returns a pacer using real timers.
func NewRandomPacer(minDelay, maxDelay time.Duration) (*RandomPacer, error) {
	if minDelay < 0 {
		return nil, fmt.Errorf("pacing min must be >= 0, got %s", minDelay)
	}
	if maxDelay < minDelay {
		return nil, fmt.Errorf("pacing max %s must be >= min %s", maxDelay, minDelay)
	}
	if maxDelay > MaxPacingDelay {
		return nil, fmt.Errorf("pacing max %s must be <= %s", maxDelay, MaxPacingDelay)
	}
	return &RandomPacer{
		min:   minDelay,
		max:   maxDelay,
		randN: rand.Int64N,
		sleep: sleepContext,
	}, nil
}

// Interval samples the next pacing delay.
func (p *RandomPacer) Interval() time.Duration {
	span := int64(p.max - p.min)
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.randN(span+1))
}

// Pause sleeps for one sampled interval. It returns early with the context
// error when ctx is done.
func (p *RandomPacer) Pause(ctx context.Context) (time.Duration, error) {
	delay := p.Interval()
	if err := p.sleep(ctx, delay); err != nil {
		return delay, err
	}
	return delay, nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// visitTracker remembers which pages the crawl already fetched.
type visitTracker struct {
	seen map[string]struct{}
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(rawURL string) bool {
	key := visitKey(rawURL)
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}
