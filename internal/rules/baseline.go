package rules

import (
	"context"
	"sync"
	"time"

	"crisiswatch/internal/logger"
)

// EventCounter is the slice of the event store the baseline needs.
type EventCounter interface {
	CountEvents(ctx context.Context, from, to time.Time) (int64, error)
}

// Baseline tracks the typical event count per window, computed as the mean
// over a trailing lookback. Volume spike detection compares the live window
// against it. Before the first successful refresh the baseline reports
// unknown and spike detection falls back to the absolute floor alone.
type Baseline struct {
	counter      EventCounter
	windowLength time.Duration
	lookback     time.Duration
	logger       logger.Logger

	mu    sync.RWMutex
	rate  float64
	known bool
}

func NewBaseline(counter EventCounter, windowLength, lookback time.Duration, log logger.Logger) *Baseline {
	return &Baseline{
		counter:      counter,
		windowLength: windowLength,
		lookback:     lookback,
		logger:       log,
	}
}

// Rate returns events-per-window and whether a baseline has been computed.
func (b *Baseline) Rate() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rate, b.known
}

// Refresh recomputes the baseline from the store. The live window is
// excluded so an in-progress spike does not inflate its own baseline.
func (b *Baseline) Refresh(ctx context.Context, now time.Time) error {
	to := now.Add(-b.windowLength)
	from := to.Add(-b.lookback)

	count, err := b.counter.CountEvents(ctx, from, to)
	if err != nil {
		return err
	}

	windows := float64(b.lookback) / float64(b.windowLength)
	if windows <= 0 {
		windows = 1
	}
	rate := float64(count) / windows

	b.mu.Lock()
	b.rate = rate
	b.known = true
	b.mu.Unlock()

	b.logger.DebugwCtx(ctx, "Baseline refreshed",
		"events_per_window", rate,
		"lookback", b.lookback,
	)
	return nil
}

// StartRefresher refreshes on the given interval until the context ends.
func (b *Baseline) StartRefresher(ctx context.Context, interval time.Duration) error {
	if err := b.Refresh(ctx, time.Now()); err != nil {
		b.logger.ErrorwCtx(ctx, "Initial baseline refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Refresh(ctx, time.Now()); err != nil {
				b.logger.ErrorwCtx(ctx, "Baseline refresh failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
