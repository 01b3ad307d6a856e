// Package controller runs the rollout control loop: on a cron schedule it
// walks every tenant and runs the rollout checks for it.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// Defaults used when Options leaves a field unset.
const (
	DefaultSchedule = "@every 10s"
	DefaultWorkers  = 4
)

// Options configures a Controller.
type Options struct {
	// Schedule is a cron expression or descriptor such as "@every 5s".
	Schedule string
	// Delay is passed to the checks as the minimum time between two
	// evaluations of the same running rollout.
	Delay time.Duration
	// Workers bounds how many tenants are processed in parallel.
	Workers int
	Logger  *zap.Logger
}

// Controller periodically drives the rollout scheduler for every tenant.
type Controller struct {
	tenants   store.TenantStore
	scheduler *rollout.Scheduler
	schedule  cron.Schedule
	delay     time.Duration
	workers   int
	logger    *zap.Logger

	// inFlight holds the tenants whose pass has not completed yet.
	inFlight *xsync.Map[string, struct{}]
}

// New returns a Controller. It fails when the schedule does not parse.
func New(tenants store.TenantStore, scheduler *rollout.Scheduler, opts Options) (*Controller, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	schedule, err := cron.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("controller schedule %q: %w", opts.Schedule, err)
	}
	return &Controller{
		tenants:   tenants,
		scheduler: scheduler,
		schedule:  schedule,
		delay:     opts.Delay,
		workers:   opts.Workers,
		logger:    opts.Logger.Named("controller"),
		inFlight:  xsync.NewMap[string, struct{}](),
	}, nil
}

// Start runs the control loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	cr := cron.New()
	cr.Schedule(c.schedule, cron.FuncJob(func() {
		if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("control loop pass failed", zap.Error(err))
		}
	}))
	cr.Start()
	c.logger.Info("rollout controller started", zap.Duration("delay", c.delay))

	<-ctx.Done()
	cr.Stop()
	c.logger.Info("rollout controller stopped")
}

// RunOnce runs every rollout check for every tenant. A tenant whose
// previous pass is still running is skipped. Failures of one tenant are
// logged and do not affect the others.
func (c *Controller) RunOnce(ctx context.Context) error {
	tenants, err := c.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, t := range tenants {
		if _, busy := c.inFlight.LoadOrStore(t.ID, struct{}{}); busy {
			c.logger.Debug("tenant pass still running, skipping", zap.String("tenant", t.ID))
			continue
		}
		g.Go(func() error {
			defer c.inFlight.Delete(t.ID)
			c.runTenant(ctx, t.ID)
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) runTenant(ctx context.Context, tenant string) {
	for _, check := range c.scheduler.Checks() {
		if ctx.Err() != nil {
			return
		}
		if err := check(ctx, tenant, c.delay); err != nil {
			c.logger.Error("rollout check failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}
}
