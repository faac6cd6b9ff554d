package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	id "memberpass/pkg/domain"
)

// WarmReport summarises a Warm run.
type WarmReport struct {
	Requested int
	Loaded    int
	Cached    int
	Failed    int
}

// Warm pre-loads memberIDs ahead of an expected burst. It is best effort:
// per-key failures are logged and counted, never returned. Loads go through
// Get, so they share flights with live traffic, and are paced so warming
// cannot itself stampede the member store. Cancelling ctx stops scheduling
// further keys.
func (c *Cache) Warm(ctx context.Context, memberIDs []id.MemberID) WarmReport {
	report := WarmReport{Requested: len(memberIDs)}
	var loaded, cached, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.warmConcurrency)

	seen := make(map[id.MemberID]struct{}, len(memberIDs))
	for _, memberID := range memberIDs {
		if _, dup := seen[memberID]; dup {
			continue
		}
		seen[memberID] = struct{}{}

		if err := c.warmLimiter.Wait(ctx); err != nil {
			c.logger.WarnContext(ctx, "cache warm interrupted",
				"scheduled", len(seen)-1,
				"requested", len(memberIDs),
				"error", err,
			)
			break
		}
		g.Go(func() error {
			_, hit, err := c.Get(ctx, memberID)
			switch {
			case err != nil:
				failed.Add(1)
				c.metrics.IncrementWarmKey("failed")
				c.logger.WarnContext(ctx, "cache warm failed for member",
					"member_id", memberID.String(),
					"error", err,
				)
			case hit:
				cached.Add(1)
				c.metrics.IncrementWarmKey("cached")
			default:
				loaded.Add(1)
				c.metrics.IncrementWarmKey("loaded")
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Loaded = int(loaded.Load())
	report.Cached = int(cached.Load())
	report.Failed = int(failed.Load())
	c.logger.InfoContext(ctx, "cache warm finished",
		"requested", report.Requested,
		"loaded", report.Loaded,
		"cached", report.Cached,
		"failed", report.Failed,
	)
	return report
}
