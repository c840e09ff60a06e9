package billing

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires active subscriptions whose paid period ran
// out. Expiry is also detected lazily on every entitlement read; the sweep
// exists so rows nobody reads still converge.
type Sweeper struct {
	store    SubscriptionStore
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// SweeperOption configures the Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the time between sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(w *Sweeper) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(w *Sweeper) {
		if log != nil {
			w.log = log
		}
	}
}

// WithSweeperClock overrides the time source for tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(w *Sweeper) {
		if now != nil {
			w.now = now
		}
	}
}

// NewSweeper returns a sweeper over the given store.
func NewSweeper(store SubscriptionStore, opts ...SweeperOption) *Sweeper {
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}

	w := &Sweeper{
		store:    store,
		interval: time.Hour,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce performs a single sweep, returning how many rows expired.
func (w *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	expired, err := w.store.ExpireDue(ctx, w.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		w.log.InfoContext(ctx, "expired subscriptions", "count", expired)
	}
	return expired, nil
}

// Run sweeps on the configured interval until the context is cancelled.
// Sweep failures are logged and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.ErrorContext(ctx, "expiration sweep failed", "error", err)
			}
		}
	}
}
