// Package rollout implements the rollout group scheduler: creating rollouts,
// partitioning the matched target population into ordered groups, and the
// periodic checks that start groups, evaluate their thresholds and advance,
// pause, stop or delete rollouts.
//
// The Check* methods are plain functions driven by an external ticker. Each
// processes every eligible rollout of one tenant; work on a single rollout
// is serialised with a per-rollout lock so concurrent passes never apply
// conflicting transitions.
package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/observability"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	BatchSize int
	Clock     clock.Clock
	Logger    *zap.Logger
	Events    *events.Emitter
	Metrics   *observability.Metrics
}

// Scheduler owns the rollout state machine.
type Scheduler struct {
	store     store.Store
	engine    *deploy.Engine
	clock     clock.Clock
	logger    *zap.Logger
	events    *events.Emitter
	metrics   *observability.Metrics
	batchSize int
	locks     *xsync.Map[string, *sync.Mutex]
}

// New returns a Scheduler that activates groups through engine.
func New(s store.Store, engine *deploy.Engine, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	return &Scheduler{
		store:     s,
		engine:    engine,
		clock:     opts.Clock,
		logger:    opts.Logger.Named("rollout"),
		events:    opts.Events,
		metrics:   opts.Metrics,
		batchSize: opts.BatchSize,
		locks:     xsync.NewMap[string, *sync.Mutex](),
	}
}

// lock serialises work on one rollout and returns the unlock function.
func (s *Scheduler) lock(tenant, rolloutID string) func() {
	mu, _ := s.locks.LoadOrStore(tenant+"/"+rolloutID, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

func (s *Scheduler) forget(tenant, rolloutID string) {
	s.locks.Delete(tenant + "/" + rolloutID)
}

func (s *Scheduler) now() time.Time { return s.clock.Now() }

func (s *Scheduler) updateRollout(ctx context.Context, tenant, id string, mutate func(r *model.Rollout) error) (*model.Rollout, error) {
	var out *model.Rollout
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		r, err := s.store.Rollouts().Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		if err := mutate(r); err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		if err := s.store.Rollouts().Update(ctx, tenant, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Scheduler) updateGroup(ctx context.Context, tenant, id string, mutate func(g *model.RolloutGroup)) (*model.RolloutGroup, error) {
	var out *model.RolloutGroup
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		g, err := s.store.RolloutGroups().Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		mutate(g)
		g.UpdatedAt = s.now()
		if err := s.store.RolloutGroups().Update(ctx, tenant, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// setStatus moves a rollout to status, emitting eventType when non-empty.
func (s *Scheduler) setStatus(ctx context.Context, tenant, id string, status model.RolloutStatus, eventType string) (*model.Rollout, error) {
	r, err := s.updateRollout(ctx, tenant, id, func(r *model.Rollout) error {
		r.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, tenant, r, eventType)
	return r, nil
}

func (s *Scheduler) transitioned(ctx context.Context, tenant string, r *model.Rollout, eventType string) {
	s.metrics.RolloutTransition(string(r.Status))
	s.logger.Info("rollout status changed",
		zap.String("tenant", tenant), zap.String("rollout", r.ID), zap.String("status", string(r.Status)))
	if eventType != "" {
		s.events.Emit(ctx, tenant, eventType, events.ResourceRollout, r.ID, r.Name,
			map[string]string{"status": string(r.Status)})
	}
}

func (s *Scheduler) groupEvent(ctx context.Context, tenant string, g *model.RolloutGroup, eventType string) {
	s.events.Emit(ctx, tenant, eventType, events.ResourceRolloutGroup, g.ID, g.Name,
		map[string]string{"rollout": g.RolloutID, "status": string(g.Status)})
}

// groupMembers returns every target id of a group in id order.
func (s *Scheduler) groupMembers(ctx context.Context, tenant, groupID string) ([]string, error) {
	var ids []string
	err := store.PageThrough(ctx, s.batchSize, func(ctx context.Context, p model.Page) ([]string, error) {
		return s.store.RolloutGroups().Targets(ctx, tenant, groupID, p)
	}, func(items []string) error {
		ids = append(ids, items...)
		return nil
	})
	return ids, err
}
