package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WindowLimiter enforces a provider's per-minute quota with a sliding window
// of dispatch timestamps, plus a minimum inter-request interval so bursts are
// smoothed even when the window has room. One instance per provider, shared
// by every job in the process.
type WindowLimiter struct {
	quota    int
	window   time.Duration
	margin   time.Duration
	interval *rate.Limiter

	// dispatchMu serializes waiters so a burst cannot jointly overrun the
	// quota between check and dispatch.
	dispatchMu sync.Mutex
	stamps     []time.Time

	// now and sleep allow test injection of a simulated clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindowLimiter creates a limiter allowing quota dispatches per sliding
// 60-second window, spaced at least minInterval apart, with margin added
// whenever the window forces a wait.
func NewWindowLimiter(quota int, minInterval, margin time.Duration) *WindowLimiter {
	intervalLimit := rate.Inf
	if minInterval > 0 {
		intervalLimit = rate.Every(minInterval)
	}
	return &WindowLimiter{
		quota:    quota,
		window:   time.Minute,
		margin:   margin,
		interval: rate.NewLimiter(intervalLimit, 1),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until a dispatch slot is available, then claims it. Returns
// early with the context error on cancellation.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	now := l.now()
	l.prune(now)

	var delay time.Duration
	if len(l.stamps) >= l.quota {
		// Wait until the oldest timestamp exits the window, plus margin.
		delay = l.stamps[0].Add(l.window).Sub(now) + l.margin
	}

	res := l.interval.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > delay {
		delay = d
	}

	if delay > 0 {
		if err := l.sleep(ctx, delay); err != nil {
			// Cancel at the current time, not the reservation time, so the
			// unused interval slot is fully returned.
			res.CancelAt(l.now())
			return err
		}
	}

	l.stamps = append(l.stamps, l.now())
	return nil
}

// prune drops timestamps that have left the sliding window.
func (l *WindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
