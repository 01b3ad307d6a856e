package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

const tenant = "acme"

// ---------------------------------------------------------------------------
// Target store
// ---------------------------------------------------------------------------

func TestTargetStore_CRUD(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryStore().Targets()

	target := &model.Target{ID: "dev-1", Name: "Device 1", Attributes: map[string]string{"hw": "v2"}}
	require.NoError(t, ts.Create(ctx, tenant, target))
	assert.EqualValues(t, 1, target.Revision)

	// Duplicate create
	err := ts.Create(ctx, tenant, &model.Target{ID: "dev-1"})
	require.ErrorIs(t, err, model.ErrEntityAlreadyExists)

	// Same id in another tenant is independent
	require.NoError(t, ts.Create(ctx, "other", &model.Target{ID: "dev-1"}))

	got, err := ts.Get(ctx, tenant, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Device 1", got.Name)

	// Returned records are copies
	got.Attributes["hw"] = "mutated"
	again, _ := ts.Get(ctx, tenant, "dev-1")
	assert.Equal(t, "v2", again.Attributes["hw"])

	_, err = ts.Get(ctx, tenant, "dev-999")
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "dev-999", nf.ID)

	got.Name = "renamed"
	require.NoError(t, ts.Update(ctx, tenant, got))
	assert.EqualValues(t, 2, got.Revision)

	require.NoError(t, ts.Delete(ctx, tenant, "dev-1"))
	require.ErrorIs(t, ts.Delete(ctx, tenant, "dev-1"), model.ErrEntityNotFound)

	n, err := ts.Count(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTargetStore_UpdateStaleRevision(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryStore().Targets()
	require.NoError(t, ts.Create(ctx, tenant, &model.Target{ID: "dev-1"}))

	a, _ := ts.Get(ctx, tenant, "dev-1")
	b, _ := ts.Get(ctx, tenant, "dev-1")

	a.Name = "first"
	require.NoError(t, ts.Update(ctx, tenant, a))

	b.Name = "second"
	require.ErrorIs(t, ts.Update(ctx, tenant, b), model.ErrConflict)

	got, _ := ts.Get(ctx, tenant, "dev-1")
	assert.Equal(t, "first", got.Name)
}

func TestTargetStore_FindByFilterPaging(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryStore().Targets()
	for i := 9; i >= 0; i-- {
		require.NoError(t, ts.Create(ctx, tenant, &model.Target{ID: fmt.Sprintf("dev-%02d", i)}))
	}

	even := func(t *model.Target) bool { return (t.ID[len(t.ID)-1]-'0')%2 == 0 }
	page, err := ts.FindByFilter(ctx, tenant, even, model.Page{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "dev-02", page[0].ID)
	assert.Equal(t, "dev-04", page[1].ID)

	rest, err := ts.List(ctx, tenant, model.Page{Offset: 8})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "dev-09", rest[1].ID)

	empty, err := ts.List(ctx, tenant, model.Page{Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// ---------------------------------------------------------------------------
// Action store
// ---------------------------------------------------------------------------

func TestActionStore_QueryAndBulkStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	as := s.Actions()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []model.ActionStatusCode{model.StatusRunning, model.StatusScheduled, model.StatusFinished} {
		require.NoError(t, as.Create(ctx, tenant, &model.Action{
			ID:                fmt.Sprintf("a-%d", i),
			TargetID:          "dev-1",
			DistributionSetID: "ds-1",
			Status:            st,
			Active:            st == model.StatusRunning,
			CreatedAt:         base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, as.Create(ctx, tenant, &model.Action{ID: "b-0", TargetID: "dev-2", Active: true, Status: model.StatusRunning, CreatedAt: base}))

	active := true
	found, err := as.Find(ctx, tenant, ActionQuery{TargetID: "dev-1", Active: &active}, model.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a-0", found[0].ID)

	counts, err := as.CountByStatus(ctx, tenant, ActionQuery{TargetID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusFinished])
	assert.Equal(t, 1, counts[model.StatusScheduled])

	changed, err := as.UpdateStatusForIDs(ctx, tenant, []string{"a-0", "a-1", "a-2", "missing"}, model.StatusScheduled, model.StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1"}, changed)

	got, _ := as.Get(ctx, tenant, "a-1")
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.False(t, got.Active)
	assert.EqualValues(t, 2, got.Revision)

	running, _ := as.Get(ctx, tenant, "a-0")
	assert.Equal(t, model.StatusRunning, running.Status)
	assert.True(t, running.Active)

	changed, err = as.UpdateStatusForIDs(ctx, tenant, []string{"a-1"}, model.StatusScheduled, model.StatusCanceled)
	require.NoError(t, err)
	assert.Empty(t, changed)

	c, err := as.Count(ctx, tenant, ActionQuery{Statuses: []model.ActionStatusCode{model.StatusCanceled}})
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestActionStore_DeleteByTargetRemovesHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Actions().Create(ctx, tenant, &model.Action{ID: "a-1", TargetID: "dev-1"}))
	require.NoError(t, s.ActionStatuses().Append(ctx, tenant, &model.ActionStatus{ID: "s-1", ActionID: "a-1", Status: model.StatusRunning}))
	require.NoError(t, s.ActionStatuses().Append(ctx, tenant, &model.ActionStatus{ID: "s-2", ActionID: "a-1", Status: model.StatusFinished}))

	hist, err := s.ActionStatuses().List(ctx, tenant, "a-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, model.StatusRunning, hist[0].Status)

	n, err := s.Actions().DeleteByTarget(ctx, tenant, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hist, err = s.ActionStatuses().List(ctx, tenant, "a-1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

// ---------------------------------------------------------------------------
// Rollout and group stores
// ---------------------------------------------------------------------------

func TestRolloutStore_NameUnique(t *testing.T) {
	ctx := context.Background()
	rs := NewMemoryStore().Rollouts()

	require.NoError(t, rs.Create(ctx, tenant, &model.Rollout{ID: "r-1", Name: "spring", Status: model.RolloutReady}))
	err := rs.Create(ctx, tenant, &model.Rollout{ID: "r-2", Name: "spring"})
	require.ErrorIs(t, err, model.ErrEntityAlreadyExists)
	require.NoError(t, rs.Create(ctx, "other", &model.Rollout{ID: "r-2", Name: "spring"}))
	require.NoError(t, rs.Create(ctx, tenant, &model.Rollout{ID: "r-3", Name: "autumn", Status: model.RolloutRunning}))

	byName, err := rs.GetByName(ctx, tenant, "spring")
	require.NoError(t, err)
	assert.Equal(t, "r-1", byName.ID)

	running, err := rs.List(ctx, tenant, model.RolloutRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "autumn", running[0].Name)

	all, err := rs.List(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRolloutGroupStore_Membership(t *testing.T) {
	ctx := context.Background()
	gs := NewMemoryStore().RolloutGroups()

	err := gs.AddTargets(ctx, tenant, "g-missing", []string{"dev-1"})
	require.ErrorIs(t, err, model.ErrEntityNotFound)

	require.NoError(t, gs.Create(ctx, tenant, &model.RolloutGroup{ID: "g-2", RolloutID: "r-1", Index: 1}))
	require.NoError(t, gs.Create(ctx, tenant, &model.RolloutGroup{ID: "g-1", RolloutID: "r-1", Index: 0}))
	require.NoError(t, gs.Create(ctx, tenant, &model.RolloutGroup{ID: "g-x", RolloutID: "r-2", Index: 0}))

	groups, err := gs.ListByRollout(ctx, tenant, "r-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "g-1", groups[0].ID)

	require.NoError(t, gs.AddTargets(ctx, tenant, "g-1", []string{"dev-3", "dev-1", "dev-2"}))
	require.NoError(t, gs.AddTargets(ctx, tenant, "g-2", []string{"dev-4"}))

	members, err := gs.Targets(ctx, tenant, "g-1", model.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2"}, members)

	require.NoError(t, gs.RemoveTarget(ctx, tenant, "dev-2"))
	n, err := gs.CountTargets(ctx, tenant, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, gs.DeleteByRollout(ctx, tenant, "r-1"))
	groups, _ = gs.ListByRollout(ctx, tenant, "r-1")
	assert.Empty(t, groups)
	n, _ = gs.CountTargets(ctx, tenant, "g-2")
	assert.Zero(t, n)
	other, _ := gs.ListByRollout(ctx, tenant, "r-2")
	assert.Len(t, other, 1)
}

// ---------------------------------------------------------------------------
// Tenant and event stores
// ---------------------------------------------------------------------------

func TestTenantStore_CRUD(t *testing.T) {
	ctx := context.Background()
	ts := NewMemoryStore().Tenants()

	require.NoError(t, ts.Create(ctx, &model.Tenant{ID: "b", Plan: "pro"}))
	require.NoError(t, ts.Create(ctx, &model.Tenant{ID: "a", Plan: "free"}))

	list, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	got, err := ts.Get(ctx, "b")
	require.NoError(t, err)
	got.Settings.MultiAssignment = true
	require.NoError(t, ts.Update(ctx, got))

	got, _ = ts.Get(ctx, "b")
	assert.True(t, got.Settings.MultiAssignment)
	require.NoError(t, ts.Delete(ctx, "b"))
}

func TestEventLogStore_NewestFirst(t *testing.T) {
	ctx := context.Background()
	es := NewMemoryStore().Events()
	for i := 0; i < 5; i++ {
		require.NoError(t, es.Append(ctx, &model.Event{ID: fmt.Sprintf("e-%d", i), TenantID: tenant, Type: "action_created"}))
	}
	require.NoError(t, es.Append(ctx, &model.Event{ID: "x", TenantID: "other"}))

	list, err := es.List(ctx, tenant, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "e-4", list[0].ID)
	assert.Equal(t, "e-2", list[2].ID)

	all, err := es.List(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
