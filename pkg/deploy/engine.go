// Package deploy implements the assignment engine and the action lifecycle:
// creating actions for (target, distribution set) pairs, cancelling the
// actions they supersede, and applying device status reports to actions and
// targets.
//
// Every operation takes an explicit tenant id. Writes go through the store's
// revision checks and are retried a bounded number of times on conflict.
package deploy

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/observability"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/quota"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// Assignment modes, used as metric labels.
const (
	ModeOnline  = "online"
	ModeOffline = "offline"
	ModeRollout = "rollout"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	BatchSize int
	Clock     clock.Clock
	Logger    *zap.Logger
	Events    *events.Emitter
	Metrics   *observability.Metrics
}

// Engine is the assignment engine and action lifecycle.
type Engine struct {
	store     store.Store
	clock     clock.Clock
	logger    *zap.Logger
	events    *events.Emitter
	metrics   *observability.Metrics
	batchSize int

	// targetLocks serialises work that creates or activates actions on a
	// target, keyed tenant/target.
	targetLocks *xsync.Map[string, *sync.Mutex]
}

// New returns an Engine over s.
func New(s store.Store, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	return &Engine{
		store:     s,
		clock:     opts.Clock,
		logger:    opts.Logger.Named("deploy"),
		events:    opts.Events,
		metrics:   opts.Metrics,
		batchSize: opts.BatchSize,

		targetLocks: xsync.NewMap[string, *sync.Mutex](),
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Tenant loads the tenant record; unknown tenants fail with EntityNotFound.
func (e *Engine) Tenant(ctx context.Context, tenant string) (*model.Tenant, error) {
	return e.store.Tenants().Get(ctx, tenant)
}

// Policy returns the quota policy in effect for t.
func Policy(t *model.Tenant) quota.Policy {
	return quota.New(quota.ForTenant(t))
}

func (e *Engine) now() time.Time { return e.clock.Now() }

// lockTargets takes the locks of the given targets in id order and returns
// the function releasing them.
func (e *Engine) lockTargets(tenant string, ids ...string) func() {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu, _ := e.targetLocks.LoadOrStore(tenant+"/"+id, &sync.Mutex{})
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// newActionID returns a time-ordered id so that actions created within the
// same clock tick still sort by creation.
func newActionID() string { return uuid.Must(uuid.NewV7()).String() }

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// updateTarget applies mutate to the current revision of a target and
// writes it, re-reading on conflict. mutate returns false to skip the write.
func (e *Engine) updateTarget(ctx context.Context, tenant, id string, mutate func(t *model.Target) bool) (*model.Target, error) {
	var out *model.Target
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		t, err := e.store.Targets().Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		if !mutate(t) {
			out = t
			return nil
		}
		t.UpdatedAt = e.now()
		if err := e.store.Targets().Update(ctx, tenant, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// updateAction applies mutate to the current revision of an action and
// writes it, re-reading on conflict. An error from mutate aborts the update.
func (e *Engine) updateAction(ctx context.Context, tenant, id string, mutate func(a *model.Action) error) (*model.Action, error) {
	var out *model.Action
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		a, err := e.store.Actions().Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		if err := mutate(a); err != nil {
			return err
		}
		a.UpdatedAt = e.now()
		if err := e.store.Actions().Update(ctx, tenant, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// appendStatus records an entry in the action's history.
func (e *Engine) appendStatus(ctx context.Context, tenant, actionID string, status model.ActionStatusCode, messages ...string) error {
	return e.store.ActionStatuses().Append(ctx, tenant, &model.ActionStatus{
		ID:         uuid.NewString(),
		ActionID:   actionID,
		Status:     status,
		Messages:   messages,
		OccurredAt: e.now(),
	})
}

// activeActions returns the active actions of a target in creation order.
func (e *Engine) activeActions(ctx context.Context, tenant, targetID string) ([]model.Action, error) {
	active := true
	return e.store.Actions().Find(ctx, tenant, store.ActionQuery{TargetID: targetID, Active: &active}, model.Page{})
}

// lockDistributionSet marks ds locked on its first assignment.
func (e *Engine) lockDistributionSet(ctx context.Context, tenant string, ds *model.DistributionSet) error {
	if ds.Locked {
		return nil
	}
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		cur, err := e.store.DistributionSets().Get(ctx, tenant, ds.ID)
		if err != nil {
			return err
		}
		if cur.Locked {
			return nil
		}
		cur.Locked = true
		cur.UpdatedAt = e.now()
		return e.store.DistributionSets().Update(ctx, tenant, cur)
	})
	if err != nil {
		return err
	}
	ds.Locked = true
	e.emit(ctx, tenant, events.DistributionSetLock, events.ResourceDistributionSet, ds.ID, "", nil)
	return nil
}

// AssignableDistributionSet loads a distribution set that may receive new
// assignments: it must exist, not be deleted and be complete.
func (e *Engine) AssignableDistributionSet(ctx context.Context, tenant, id string) (*model.DistributionSet, error) {
	ds, err := e.store.DistributionSets().Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !ds.Valid() {
		return nil, model.InvalidDistributionSet(id)
	}
	if !ds.Complete {
		return nil, model.IncompleteDistributionSet(id)
	}
	return ds, nil
}

func (e *Engine) emit(ctx context.Context, tenant, eventType, resourceType, resourceID, message string, meta map[string]string) {
	e.events.Emit(ctx, tenant, eventType, resourceType, resourceID, message, meta)
}

// newestAssignable picks the action whose distribution set a target should
// show as assigned: the newest non-canceling action, else the newest one.
func newestAssignable(actions []model.Action) *model.Action {
	for i := len(actions) - 1; i >= 0; i-- {
		if !actions[i].IsCancelingOrCanceled() {
			return &actions[i]
		}
	}
	if len(actions) == 0 {
		return nil
	}
	return &actions[len(actions)-1]
}

// sortByWeight orders actions by descending weight, then creation time.
// Actions without a weight sort after weighted ones.
func sortByWeight(actions []model.Action) {
	slices.SortStableFunc(actions, func(a, b model.Action) int {
		wa, wb := -1, -1
		if a.Weight != nil {
			wa = *a.Weight
		}
		if b.Weight != nil {
			wb = *b.Weight
		}
		if wa != wb {
			return wb - wa
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
