package store

import (
	"context"
	"slices"
	"sync"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// MemoryStore is an in-memory implementation of Store backed by per-entity
// arenas keyed by (tenant, id). Suitable for development, testing, and
// single-node deployments.
type MemoryStore struct {
	targets  *memoryTargetStore
	distSets *memoryDistributionSetStore
	actions  *memoryActionStore
	statuses *memoryActionStatusStore
	rollouts *memoryRolloutStore
	groups   *memoryRolloutGroupStore
	tenants  *memoryTenantStore
	events   *memoryEventLogStore
}

// NewMemoryStore returns a fully initialised MemoryStore.
func NewMemoryStore() *MemoryStore {
	statuses := &memoryActionStatusStore{data: make(map[rowKey][]model.ActionStatus)}
	return &MemoryStore{
		targets: &memoryTargetStore{table: newTable("target",
			func(t *model.Target) string { return t.ID },
			revTarget,
			cloneTarget)},
		distSets: &memoryDistributionSetStore{table: newTable("distribution set",
			func(ds *model.DistributionSet) string { return ds.ID },
			revDistSet,
			cloneDistributionSet)},
		actions: &memoryActionStore{table: newTable("action",
			func(a *model.Action) string { return a.ID },
			revAction,
			nil), statuses: statuses},
		statuses: statuses,
		rollouts: &memoryRolloutStore{table: newTable("rollout",
			func(r *model.Rollout) string { return r.ID },
			revRollout,
			nil)},
		groups: &memoryRolloutGroupStore{table: newTable("rollout group",
			func(g *model.RolloutGroup) string { return g.ID },
			revGroup,
			nil), members: make(map[rowKey]map[string]struct{})},
		tenants: &memoryTenantStore{table: newTable("tenant",
			func(t *model.Tenant) string { return t.ID },
			revTenant,
			nil)},
		events: &memoryEventLogStore{data: make(map[string][]model.Event)},
	}
}

func (m *MemoryStore) Targets() TargetStore                   { return m.targets }
func (m *MemoryStore) DistributionSets() DistributionSetStore { return m.distSets }
func (m *MemoryStore) Actions() ActionStore                   { return m.actions }
func (m *MemoryStore) ActionStatuses() ActionStatusStore      { return m.statuses }
func (m *MemoryStore) Rollouts() RolloutStore                 { return m.rollouts }
func (m *MemoryStore) RolloutGroups() RolloutGroupStore       { return m.groups }
func (m *MemoryStore) Tenants() TenantStore                   { return m.tenants }
func (m *MemoryStore) Events() EventLogStore                  { return m.events }
func (m *MemoryStore) Close() error                           { return nil }

// ---------------------------------------------------------------------------
// Arena table
// ---------------------------------------------------------------------------

type rowKey struct {
	tenant string
	id     string
}

// table is a revisioned arena of records of one kind.
type table[T any] struct {
	mu    sync.RWMutex
	kind  string
	rows  map[rowKey]T
	id    func(*T) string
	rev   func(*T) *int64
	clone func(T) T
}

func newTable[T any](kind string, id func(*T) string, rev func(*T) *int64, clone func(T) T) *table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &table[T]{kind: kind, rows: make(map[rowKey]T), id: id, rev: rev, clone: clone}
}

func (t *table[T]) get(tenant, id string) (*T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[rowKey{tenant, id}]
	if !ok {
		return nil, model.NotFound(t.kind, id)
	}
	v = t.clone(v)
	return &v, nil
}

// list returns copies of every record of the tenant matching keep.
func (t *table[T]) list(tenant string, keep func(*T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0)
	for k, v := range t.rows {
		if k.tenant != tenant {
			continue
		}
		if keep != nil && !keep(&v) {
			continue
		}
		out = append(out, t.clone(v))
	}
	return out
}

func (t *table[T]) create(tenant string, v *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := rowKey{tenant, t.id(v)}
	if _, exists := t.rows[k]; exists {
		return model.AlreadyExists(t.kind, k.id)
	}
	*t.rev(v) = 1
	t.rows[k] = t.clone(*v)
	return nil
}

func (t *table[T]) update(tenant string, v *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := rowKey{tenant, t.id(v)}
	cur, exists := t.rows[k]
	if !exists {
		return model.NotFound(t.kind, k.id)
	}
	if *t.rev(&cur) != *t.rev(v) {
		return model.Conflict(t.kind, k.id)
	}
	*t.rev(v)++
	t.rows[k] = t.clone(*v)
	return nil
}

func (t *table[T]) delete(tenant, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := rowKey{tenant, id}
	if _, exists := t.rows[k]; !exists {
		return model.NotFound(t.kind, id)
	}
	delete(t.rows, k)
	return nil
}

// ---------------------------------------------------------------------------
// Target store
// ---------------------------------------------------------------------------

type memoryTargetStore struct {
	*table[model.Target]
}

func (s *memoryTargetStore) List(_ context.Context, tenant string, page model.Page) ([]model.Target, error) {
	out := s.list(tenant, nil)
	sortTargets(out)
	return paginate(out, page), nil
}

func (s *memoryTargetStore) FindByFilter(_ context.Context, tenant string, pred TargetPredicate, page model.Page) ([]model.Target, error) {
	out := s.list(tenant, pred)
	sortTargets(out)
	return paginate(out, page), nil
}

func (s *memoryTargetStore) Count(_ context.Context, tenant string) (int, error) {
	return len(s.list(tenant, nil)), nil
}

func (s *memoryTargetStore) Get(_ context.Context, tenant, id string) (*model.Target, error) {
	return s.get(tenant, id)
}

func (s *memoryTargetStore) Create(_ context.Context, tenant string, target *model.Target) error {
	return s.create(tenant, target)
}

func (s *memoryTargetStore) Update(_ context.Context, tenant string, target *model.Target) error {
	return s.update(tenant, target)
}

func (s *memoryTargetStore) Delete(_ context.Context, tenant, id string) error {
	return s.delete(tenant, id)
}

// ---------------------------------------------------------------------------
// Distribution set store
// ---------------------------------------------------------------------------

type memoryDistributionSetStore struct {
	*table[model.DistributionSet]
}

func (s *memoryDistributionSetStore) List(_ context.Context, tenant string, page model.Page) ([]model.DistributionSet, error) {
	out := s.list(tenant, nil)
	sortByName(out, func(ds *model.DistributionSet) string { return ds.Name + "\x00" + ds.Version + "\x00" + ds.ID })
	return paginate(out, page), nil
}

func (s *memoryDistributionSetStore) Get(_ context.Context, tenant, id string) (*model.DistributionSet, error) {
	return s.get(tenant, id)
}

func (s *memoryDistributionSetStore) Create(_ context.Context, tenant string, ds *model.DistributionSet) error {
	return s.create(tenant, ds)
}

func (s *memoryDistributionSetStore) Update(_ context.Context, tenant string, ds *model.DistributionSet) error {
	return s.update(tenant, ds)
}

func (s *memoryDistributionSetStore) Delete(_ context.Context, tenant, id string) error {
	return s.delete(tenant, id)
}

// ---------------------------------------------------------------------------
// Action store
// ---------------------------------------------------------------------------

type memoryActionStore struct {
	*table[model.Action]
	statuses *memoryActionStatusStore
}

func (s *memoryActionStore) Get(_ context.Context, tenant, id string) (*model.Action, error) {
	return s.get(tenant, id)
}

func (s *memoryActionStore) Find(_ context.Context, tenant string, q ActionQuery, page model.Page) ([]model.Action, error) {
	out := s.list(tenant, q.Matches)
	sortActions(out)
	return paginate(out, page), nil
}

func (s *memoryActionStore) Count(_ context.Context, tenant string, q ActionQuery) (int, error) {
	return len(s.list(tenant, q.Matches)), nil
}

func (s *memoryActionStore) CountByStatus(_ context.Context, tenant string, q ActionQuery) (map[model.ActionStatusCode]int, error) {
	counts := make(map[model.ActionStatusCode]int)
	for _, a := range s.list(tenant, q.Matches) {
		counts[a.Status]++
	}
	return counts, nil
}

func (s *memoryActionStore) Create(_ context.Context, tenant string, action *model.Action) error {
	return s.create(tenant, action)
}

func (s *memoryActionStore) Update(_ context.Context, tenant string, action *model.Action) error {
	return s.update(tenant, action)
}

func (s *memoryActionStore) UpdateStatusForIDs(_ context.Context, tenant string, ids []string, from, to model.ActionStatusCode) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for _, id := range ids {
		k := rowKey{tenant, id}
		a, ok := s.rows[k]
		if !ok || a.Active || a.Status != from {
			continue
		}
		a.Status = to
		a.Revision++
		s.rows[k] = a
		changed = append(changed, id)
	}
	return changed, nil
}

func (s *memoryActionStore) Delete(_ context.Context, tenant, id string) error {
	if err := s.delete(tenant, id); err != nil {
		return err
	}
	s.statuses.deleteAction(tenant, id)
	return nil
}

func (s *memoryActionStore) DeleteByTarget(_ context.Context, tenant, targetID string) (int, error) {
	s.mu.Lock()
	var removed []string
	for k, a := range s.rows {
		if k.tenant == tenant && a.TargetID == targetID {
			delete(s.rows, k)
			removed = append(removed, k.id)
		}
	}
	s.mu.Unlock()
	for _, id := range removed {
		s.statuses.deleteAction(tenant, id)
	}
	return len(removed), nil
}

// ---------------------------------------------------------------------------
// Action status store
// ---------------------------------------------------------------------------

type memoryActionStatusStore struct {
	mu   sync.RWMutex
	data map[rowKey][]model.ActionStatus
}

func (s *memoryActionStatusStore) Append(_ context.Context, tenant string, status *model.ActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rowKey{tenant, status.ActionID}
	st := *status
	st.Messages = slices.Clone(status.Messages)
	s.data[k] = append(s.data[k], st)
	return nil
}

func (s *memoryActionStatusStore) List(_ context.Context, tenant, actionID string) ([]model.ActionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data[rowKey{tenant, actionID}]), nil
}

func (s *memoryActionStatusStore) deleteAction(tenant, actionID string) {
	s.mu.Lock()
	delete(s.data, rowKey{tenant, actionID})
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Rollout store
// ---------------------------------------------------------------------------

type memoryRolloutStore struct {
	*table[model.Rollout]
}

func (s *memoryRolloutStore) List(_ context.Context, tenant string, statuses ...model.RolloutStatus) ([]model.Rollout, error) {
	out := s.list(tenant, func(r *model.Rollout) bool {
		return len(statuses) == 0 || slices.Contains(statuses, r.Status)
	})
	sortByName(out, func(r *model.Rollout) string { return r.Name })
	return out, nil
}

func (s *memoryRolloutStore) Get(_ context.Context, tenant, id string) (*model.Rollout, error) {
	return s.get(tenant, id)
}

func (s *memoryRolloutStore) GetByName(_ context.Context, tenant, name string) (*model.Rollout, error) {
	found := s.list(tenant, func(r *model.Rollout) bool { return r.Name == name })
	if len(found) == 0 {
		return nil, model.NotFound("rollout", name)
	}
	return &found[0], nil
}

// Create enforces per-tenant name uniqueness under the table lock.
func (s *memoryRolloutStore) Create(_ context.Context, tenant string, rollout *model.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if k.tenant == tenant && (r.Name == rollout.Name || k.id == rollout.ID) {
			return model.AlreadyExists("rollout", rollout.Name)
		}
	}
	rollout.Revision = 1
	s.rows[rowKey{tenant, rollout.ID}] = *rollout
	return nil
}

func (s *memoryRolloutStore) Update(_ context.Context, tenant string, rollout *model.Rollout) error {
	return s.update(tenant, rollout)
}

func (s *memoryRolloutStore) Delete(_ context.Context, tenant, id string) error {
	return s.delete(tenant, id)
}

// ---------------------------------------------------------------------------
// Rollout group store
// ---------------------------------------------------------------------------

type memoryRolloutGroupStore struct {
	*table[model.RolloutGroup]

	membersMu sync.RWMutex
	members   map[rowKey]map[string]struct{}
}

func (s *memoryRolloutGroupStore) ListByRollout(_ context.Context, tenant, rolloutID string) ([]model.RolloutGroup, error) {
	out := s.list(tenant, func(g *model.RolloutGroup) bool { return g.RolloutID == rolloutID })
	sortGroups(out)
	return out, nil
}

func (s *memoryRolloutGroupStore) Get(_ context.Context, tenant, id string) (*model.RolloutGroup, error) {
	return s.get(tenant, id)
}

func (s *memoryRolloutGroupStore) Create(_ context.Context, tenant string, group *model.RolloutGroup) error {
	return s.create(tenant, group)
}

func (s *memoryRolloutGroupStore) Update(_ context.Context, tenant string, group *model.RolloutGroup) error {
	return s.update(tenant, group)
}

func (s *memoryRolloutGroupStore) DeleteByRollout(_ context.Context, tenant, rolloutID string) error {
	s.mu.Lock()
	var groupIDs []string
	for k, g := range s.rows {
		if k.tenant == tenant && g.RolloutID == rolloutID {
			delete(s.rows, k)
			groupIDs = append(groupIDs, k.id)
		}
	}
	s.mu.Unlock()

	s.membersMu.Lock()
	for _, id := range groupIDs {
		delete(s.members, rowKey{tenant, id})
	}
	s.membersMu.Unlock()
	return nil
}

func (s *memoryRolloutGroupStore) AddTargets(_ context.Context, tenant, groupID string, targetIDs []string) error {
	if _, err := s.get(tenant, groupID); err != nil {
		return err
	}
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	k := rowKey{tenant, groupID}
	set, ok := s.members[k]
	if !ok {
		set = make(map[string]struct{}, len(targetIDs))
		s.members[k] = set
	}
	for _, id := range targetIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (s *memoryRolloutGroupStore) Targets(_ context.Context, tenant, groupID string, page model.Page) ([]string, error) {
	s.membersMu.RLock()
	set := s.members[rowKey{tenant, groupID}]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	s.membersMu.RUnlock()
	slices.Sort(out)
	return paginate(out, page), nil
}

func (s *memoryRolloutGroupStore) CountTargets(_ context.Context, tenant, groupID string) (int, error) {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	return len(s.members[rowKey{tenant, groupID}]), nil
}

func (s *memoryRolloutGroupStore) RemoveTarget(_ context.Context, tenant, targetID string) error {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	for k, set := range s.members {
		if k.tenant == tenant {
			delete(set, targetID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tenant store
// ---------------------------------------------------------------------------

// Tenants live in the arena under an empty tenant scope.
type memoryTenantStore struct {
	*table[model.Tenant]
}

func (s *memoryTenantStore) List(_ context.Context) ([]model.Tenant, error) {
	out := s.list("", nil)
	sortByName(out, func(t *model.Tenant) string { return t.ID })
	return out, nil
}

func (s *memoryTenantStore) Get(_ context.Context, id string) (*model.Tenant, error) {
	return s.get("", id)
}

func (s *memoryTenantStore) Create(_ context.Context, tenant *model.Tenant) error {
	return s.create("", tenant)
}

func (s *memoryTenantStore) Update(_ context.Context, tenant *model.Tenant) error {
	return s.update("", tenant)
}

func (s *memoryTenantStore) Delete(_ context.Context, id string) error {
	return s.delete("", id)
}

// ---------------------------------------------------------------------------
// Event log store
// ---------------------------------------------------------------------------

type memoryEventLogStore struct {
	mu   sync.RWMutex
	data map[string][]model.Event
}

func (s *memoryEventLogStore) Append(_ context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[event.TenantID] = append(s.data[event.TenantID], cloneEvent(*event))
	return nil
}

func (s *memoryEventLogStore) List(_ context.Context, tenant string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data[tenant]
	out := make([]model.Event, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, cloneEvent(entries[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
