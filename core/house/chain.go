package house

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Advance moves the height forward by n and returns the new height.
func (h *House) Advance(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 {
		return h.Height()
	}
	var next uint64
	err := h.update(ctx, "advance", func(u *unit) error {
		if u.height+n < u.height {
			return fmt.Errorf("house: height overflow")
		}
		next = u.height + n
		return u.state.SetHeight(next)
	})
	if err != nil {
		return 0, err
	}
	h.metrics.SetHeight(next)
	return next, nil
}

// AdvanceTo raises the height to target. Heights never move backwards, so a
// target at or below the current height is a no-op.
func (h *House) AdvanceTo(ctx context.Context, target uint64) (uint64, error) {
	var next uint64
	err := h.update(ctx, "advance", func(u *unit) error {
		next = u.height
		if target <= u.height {
			return nil
		}
		next = target
		return u.state.SetHeight(next)
	})
	if err != nil {
		return 0, err
	}
	h.metrics.SetHeight(next)
	return next, nil
}

// RunBlockProducer advances the height by one every interval until ctx is
// cancelled.
func (h *House) RunBlockProducer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("house: block interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := h.Advance(ctx, 1); err != nil {
				h.logger.Error("advance height", slog.String("error", err.Error()))
			}
		}
	}
}
