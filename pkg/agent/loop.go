package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run polls at the given interval until ctx is cancelled. Errors of a single
// step are logged and the loop continues.
func (a *DeviceAgent) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Debug("poll loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("poll loop stopped")
			return
		case <-ticker.C:
			if n, err := a.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warn("poll step failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("actions handled", zap.Int("count", n))
			}
		}
	}
}

// RunFleet registers every agent, then runs their poll loops concurrently
// until ctx is cancelled. It fails if any registration fails.
func RunFleet(ctx context.Context, agents []*DeviceAgent, attributes func(i int) map[string]string, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, a := range agents {
		var attrs map[string]string
		if attributes != nil {
			attrs = attributes(i)
		}
		g.Go(func() error { return a.Register(gctx, attrs) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var run errgroup.Group
	for _, a := range agents {
		run.Go(func() error {
			a.Run(ctx, interval)
			return nil
		})
	}
	return run.Wait()
}
