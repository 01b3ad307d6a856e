package deploy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

const tenant = "acme"

type fixture struct {
	engine *Engine
	store  *store.MemoryStore
	events *events.Recorder
	clock  *clock.Fake
}

func newFixture(t *testing.T, settings model.TenantSettings, limits *model.Quota) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := events.NewRecorder()
	e := New(s, Options{
		Clock:  clk,
		Events: events.NewEmitter(rec, clk, nil),
	})

	require.NoError(t, s.Tenants().Create(ctx, &model.Tenant{ID: tenant, Plan: "starter", Settings: settings, Quota: limits}))
	for _, id := range []string{"ds-1", "ds-2", "ds-3"} {
		require.NoError(t, e.CreateDistributionSet(ctx, tenant, &model.DistributionSet{
			ID: id, Name: id, Version: "1.0",
			Modules: []model.SoftwareModule{{Type: "os", Name: "os", Version: "1.0", Mandatory: true}},
		}))
	}
	for i := 1; i <= 3; i++ {
		require.NoError(t, e.CreateTarget(ctx, tenant, &model.Target{ID: fmt.Sprintf("t-%d", i)}))
	}
	return &fixture{engine: e, store: s, events: rec, clock: clk}
}

func (f *fixture) assign(t *testing.T, reqs ...AssignRequest) *AssignmentResult {
	t.Helper()
	res, err := f.engine.Assign(context.Background(), tenant, "alice", reqs)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return res
}

func (f *fixture) target(t *testing.T, id string) *model.Target {
	t.Helper()
	got, err := f.store.Targets().Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return got
}

func (f *fixture) action(t *testing.T, id string) *model.Action {
	t.Helper()
	got, err := f.store.Actions().Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return got
}

func (f *fixture) actionCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.Actions().Count(context.Background(), tenant, store.ActionQuery{})
	require.NoError(t, err)
	return n
}

func req(target, ds string) AssignRequest {
	return AssignRequest{TargetID: target, DistributionSetID: ds}
}

func weighted(target, ds string, w int) AssignRequest {
	return AssignRequest{TargetID: target, DistributionSetID: ds, Weight: &w}
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func TestAssign_Simple(t *testing.T) {
	f := newFixture(t, model.TenantSettings{}, nil)

	res := f.assign(t, req("t-1", "ds-1"))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Assigned)
	assert.Zero(t, res.AlreadyAssigned)
	require.Len(t, res.AssignedActions, 1)

	a := f.action(t, res.AssignedActions[0].ID)
	assert.Equal(t, model.StatusRunning, a.Status)
	assert.True(t, a.Active)
	assert.Equal(t, model.ActionForced, a.Type)
	assert.Equal(t, "alice", a.InitiatedBy)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetPending, target.UpdateStatus)
	assert.Equal(t, "ds-1", target.AssignedDS)

	ds, err := f.engine.GetDistributionSet(context.Background(), tenant, "ds-1")
	require.NoError(t, err)
	assert.True(t, ds.Locked)

	hist, err := f.engine.History(context.Background(), tenant, a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.StatusRunning, hist[0].Status)

	assert.Equal(t, 1, f.events.Count(events.ActionCreated))
	assert.Equal(t, 1, f.events.Count(events.TargetAssigned))
	assert.Equal(t, 1, f.events.Count(events.DistributionSetLock))
}

func TestAssign_DuplicatePairsCollapse(t *testing.T) {
	f := newFixture(t, model.TenantSettings{}, nil)

	soft := req("t-1", "ds-1")
	soft.Type = model.ActionSoft
	res := f.assign(t, req("t-1", "ds-1"), req("t-2", "ds-1"), soft)
	assert.Equal(t, 2, res.Assigned)
	assert.Equal(t, 2, f.actionCount(t))
	assert.Equal(t, "t-1", res.AssignedActions[0].TargetID)
	assert.Equal(t, model.ActionSoft, res.AssignedActions[0].Type)
}

func TestAssign_AlreadyAssigned(t *testing.T) {
	f := newFixture(t, model.TenantSettings{}, nil)
	f.assign(t, req("t-1", "ds-1"))

	res := f.assign(t, req("t-1", "ds-1"), req("t-2", "ds-1"))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, 1, res.AlreadyAssigned)
	assert.Equal(t, 2, f.actionCount(t))
}

func TestAssign_UnknownTargetsDropped(t *testing.T) {
	f := newFixture(t, model.TenantSettings{}, nil)
	res := f.assign(t, req("t-1", "ds-1"), req("ghost", "ds-1"))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Assigned)
}

func TestAssign_AutoCancelThenConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)

	first := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]
	second := f.assign(t, req("t-1", "ds-2")).AssignedActions[0]

	old := f.action(t, first.ID)
	assert.Equal(t, model.StatusCanceling, old.Status)
	assert.True(t, old.Active)
	assert.Equal(t, "ds-2", f.target(t, "t-1").AssignedDS)
	assert.Equal(t, 1, f.events.Count(events.ActionCancelRequest))

	_, err := f.engine.AddStatus(ctx, tenant, first.ID, model.StatusCanceled, "aborted")
	require.NoError(t, err)

	old = f.action(t, first.ID)
	assert.Equal(t, model.StatusCanceled, old.Status)
	assert.False(t, old.Active)

	active, err := f.engine.Poll(ctx, tenant, "t-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	target := f.target(t, "t-1")
	assert.Equal(t, "ds-2", target.AssignedDS)
	assert.Equal(t, model.TargetPending, target.UpdateStatus)
}

func TestAssign_AutoClose(t *testing.T) {
	f := newFixture(t, model.TenantSettings{AutoCloseActions: true}, nil)

	first := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]
	f.assign(t, req("t-1", "ds-2"))

	old := f.action(t, first.ID)
	assert.Equal(t, model.StatusCanceled, old.Status)
	assert.False(t, old.Active)
	assert.Equal(t, 1, f.events.Count(events.ActionCanceled))

	n, err := f.store.Actions().Count(context.Background(), tenant, store.ActionQuery{TargetID: "t-1", Active: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAssign_QuotaRejectsWholeRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, &model.Quota{MaxActionsPerTarget: 1, MaxAssignmentsPerRequest: 2})
	f.assign(t, req("t-1", "ds-1"))

	_, err := f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-2", "ds-2"), req("t-1", "ds-2")})
	var qe *model.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaActionsPerTarget, qe.Kind)
	assert.Equal(t, 2, qe.Requested)
	assert.Equal(t, 1, f.actionCount(t))
	assert.Equal(t, "ds-1", f.target(t, "t-1").AssignedDS)

	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-3"), req("t-2", "ds-3"), req("t-3", "ds-3")})
	require.ErrorIs(t, err, model.ErrQuotaExceeded)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaAssignmentsPerRequest, qe.Kind)
	assert.Equal(t, 1, f.actionCount(t))
}

func TestAssign_MultiAssignmentDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)

	_, err := f.engine.Assign(ctx, tenant, "alice", []AssignRequest{weighted("t-1", "ds-1", 10)})
	require.ErrorIs(t, err, model.ErrMultiAssignmentNotEnabled)

	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-1"), req("t-1", "ds-2")})
	require.ErrorIs(t, err, model.ErrMultiAssignmentNotEnabled)
	assert.Zero(t, f.actionCount(t))
}

func TestAssign_MultiAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{MultiAssignment: true}, nil)

	_, err := f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-1")})
	require.ErrorIs(t, err, model.ErrInvalidWeight)
	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{weighted("t-1", "ds-1", 5000)})
	require.ErrorIs(t, err, model.ErrInvalidWeight)

	res := f.assign(t, weighted("t-1", "ds-1", 100), weighted("t-1", "ds-2", 700))
	assert.Equal(t, 2, res.Assigned)
	f.assign(t, weighted("t-1", "ds-3", 300))

	active, err := f.engine.Poll(ctx, tenant, "t-1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, []string{"ds-2", "ds-3", "ds-1"},
		[]string{active[0].DistributionSetID, active[1].DistributionSetID, active[2].DistributionSetID})
	for _, a := range active {
		assert.Equal(t, model.StatusRunning, a.Status)
	}
}

func TestAssign_InvalidDistributionSets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	require.NoError(t, f.engine.CreateDistributionSet(ctx, tenant, &model.DistributionSet{
		ID: "ds-empty", Name: "empty", Version: "1",
	}))
	require.NoError(t, f.engine.CreateDistributionSet(ctx, tenant, &model.DistributionSet{
		ID: "ds-partial", Name: "partial", Version: "1",
		Modules: []model.SoftwareModule{{Type: "app", Name: "app", Mandatory: true}},
	}))

	_, err := f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-empty")})
	require.ErrorIs(t, err, model.ErrIncompleteDistributionSet)
	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-partial")})
	require.ErrorIs(t, err, model.ErrIncompleteDistributionSet)
	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-1", "ds-nope")})
	require.ErrorIs(t, err, model.ErrEntityNotFound)

	f.assign(t, req("t-1", "ds-1"))
	require.NoError(t, f.engine.DeleteDistributionSet(ctx, tenant, "ds-1"))
	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{req("t-2", "ds-1")})
	require.ErrorIs(t, err, model.ErrInvalidDistributionSet)
}

func TestAssign_ActionTypes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)

	bad := req("t-1", "ds-1")
	bad.Type = "EVENTUALLY"
	_, err := f.engine.Assign(ctx, tenant, "alice", []AssignRequest{bad})
	require.ErrorIs(t, err, model.ErrInvalidActionType)

	timed := req("t-1", "ds-1")
	timed.Type = model.ActionTimeForced
	_, err = f.engine.Assign(ctx, tenant, "alice", []AssignRequest{timed})
	require.ErrorIs(t, err, model.ErrInvalidActionType)

	at := f.clock.Now().Add(time.Hour)
	timed.ForcedTime = &at
	res := f.assign(t, timed)
	a := res.AssignedActions[0]
	assert.False(t, a.IsForcedAt(f.clock.Now()))
	assert.True(t, a.IsForcedAt(at))
}

func TestAssign_BatchingDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	f.engine.batchSize = 2
	for i := 4; i <= 7; i++ {
		require.NoError(t, f.engine.CreateTarget(ctx, tenant, &model.Target{ID: fmt.Sprintf("t-%d", i)}))
	}
	f.assign(t, req("t-2", "ds-1"))

	var reqs []AssignRequest
	for i := 1; i <= 7; i++ {
		reqs = append(reqs, req(fmt.Sprintf("t-%d", i), "ds-1"))
	}
	res := f.assign(t, reqs...)
	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 6, res.Assigned)
	assert.Equal(t, 1, res.AlreadyAssigned)
	assert.Equal(t, 7, f.actionCount(t))
}

func TestAssign_UnknownTenant(t *testing.T) {
	f := newFixture(t, model.TenantSettings{}, nil)
	_, err := f.engine.Assign(context.Background(), "nobody", "alice", []AssignRequest{req("t-1", "ds-1")})
	require.ErrorIs(t, err, model.ErrEntityNotFound)
}

// ---------------------------------------------------------------------------
// Offline assignment
// ---------------------------------------------------------------------------

func TestOfflineAssign_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)

	res, err := f.engine.OfflineAssign(ctx, tenant, "bob", []AssignRequest{req("t-1", "ds-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)

	a := f.action(t, res.AssignedActions[0].ID)
	assert.False(t, a.Active)
	assert.Equal(t, model.StatusFinished, a.Status)

	target := f.target(t, "t-1")
	assert.Equal(t, "ds-1", target.AssignedDS)
	assert.Equal(t, "ds-1", target.InstalledDS)
	assert.Equal(t, model.TargetInSync, target.UpdateStatus)
	require.NotNil(t, target.InstalledAt)

	again, err := f.engine.OfflineAssign(ctx, tenant, "bob", []AssignRequest{req("t-1", "ds-1")})
	require.NoError(t, err)
	assert.Zero(t, again.Assigned)
	assert.Equal(t, 1, again.AlreadyAssigned)
}

func TestOfflineAssign_SkipsPendingTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	running := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	res, err := f.engine.OfflineAssign(ctx, tenant, "bob", []AssignRequest{req("t-1", "ds-2"), req("t-2", "ds-2")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, 1, res.AlreadyAssigned)

	assert.True(t, f.action(t, running.ID).Active)
	assert.Equal(t, "ds-1", f.target(t, "t-1").AssignedDS)
}

// ---------------------------------------------------------------------------
// Status reports
// ---------------------------------------------------------------------------

func TestAddStatus_Finished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	for _, st := range []model.ActionStatusCode{model.StatusRetrieved, model.StatusDownloaded, model.StatusWarning} {
		got, err := f.engine.AddStatus(ctx, tenant, a.ID, st)
		require.NoError(t, err)
		assert.Equal(t, st, got.Status)
		assert.True(t, got.Active)
	}

	got, err := f.engine.AddStatus(ctx, tenant, a.ID, model.StatusFinished, "done")
	require.NoError(t, err)
	assert.False(t, got.Active)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetInSync, target.UpdateStatus)
	assert.Equal(t, "ds-1", target.InstalledDS)
	assert.Equal(t, "ds-1", target.AssignedDS)

	// Reports on a closed action are only recorded.
	got, err = f.engine.AddStatus(ctx, tenant, a.ID, model.StatusError, "late")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)

	hist, err := f.engine.History(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 6)
	assert.Equal(t, []string{"late"}, hist[5].Messages)
}

func TestAddStatus_Error(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	_, err := f.engine.AddStatus(ctx, tenant, a.ID, model.StatusError, "disk full")
	require.NoError(t, err)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetError, target.UpdateStatus)
	assert.Empty(t, target.InstalledDS)
}

func TestAddStatus_ErrorWithOtherActiveActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{MultiAssignment: true}, nil)
	res := f.assign(t, weighted("t-1", "ds-1", 1), weighted("t-1", "ds-2", 2))

	_, err := f.engine.AddStatus(ctx, tenant, res.AssignedActions[0].ID, model.StatusError)
	require.NoError(t, err)
	assert.Equal(t, model.TargetPending, f.target(t, "t-1").UpdateStatus)

	_, err = f.engine.AddStatus(ctx, tenant, res.AssignedActions[1].ID, model.StatusFinished)
	require.NoError(t, err)
	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetInSync, target.UpdateStatus)
	assert.Equal(t, "ds-2", target.InstalledDS)
}

func TestAddStatus_CancelRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	_, err := f.engine.Cancel(ctx, tenant, a.ID, "alice")
	require.NoError(t, err)

	got, err := f.engine.AddStatus(ctx, tenant, a.ID, model.StatusRetrieved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceling, got.Status)

	got, err = f.engine.AddStatus(ctx, tenant, a.ID, model.StatusError, "too late to cancel")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.True(t, got.Active)
}

func TestAddStatus_Invalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	_, err := f.engine.AddStatus(ctx, tenant, a.ID, "EXPLODED")
	require.ErrorIs(t, err, model.ErrInvalidActionStatus)

	_, err = f.engine.AddStatus(ctx, tenant, "missing", model.StatusFinished)
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
}

func TestAddStatus_DownloadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	r := req("t-1", "ds-1")
	r.Type = model.ActionDownloadOnly
	a := f.assign(t, r).AssignedActions[0]

	got, err := f.engine.AddStatus(ctx, tenant, a.ID, model.StatusDownloaded)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, model.StatusDownloaded, got.Status)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetInSync, target.UpdateStatus)
	assert.Empty(t, target.InstalledDS)

	_, err = f.engine.ForceTargetAction(ctx, tenant, a.ID)
	require.ErrorIs(t, err, model.ErrActionTypeNotChangeable)
}

// ---------------------------------------------------------------------------
// Cancel, force quit, force
// ---------------------------------------------------------------------------

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	got, err := f.engine.Cancel(ctx, tenant, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceling, got.Status)
	assert.True(t, got.Active)
	assert.Equal(t, "ds-1", f.target(t, "t-1").AssignedDS)

	_, err = f.engine.Cancel(ctx, tenant, a.ID, "alice")
	require.ErrorIs(t, err, model.ErrCancelNotAllowed)

	_, err = f.engine.AddStatus(ctx, tenant, a.ID, model.StatusFinished)
	require.NoError(t, err)
	got = f.action(t, a.ID)
	assert.Equal(t, model.StatusCanceled, got.Status)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetRegistered, target.UpdateStatus)
	assert.Empty(t, target.AssignedDS)

	_, err = f.engine.Cancel(ctx, tenant, a.ID, "alice")
	require.ErrorIs(t, err, model.ErrCancelNotAllowed)
	_, err = f.engine.Cancel(ctx, tenant, "missing", "alice")
	require.ErrorIs(t, err, model.ErrEntityNotFound)
}

func TestForceQuit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	installed, err := f.engine.OfflineAssign(ctx, tenant, "bob", []AssignRequest{req("t-1", "ds-1")})
	require.NoError(t, err)
	require.Equal(t, 1, installed.Assigned)
	a := f.assign(t, req("t-1", "ds-2")).AssignedActions[0]

	_, err = f.engine.ForceQuit(ctx, tenant, a.ID, "alice")
	require.ErrorIs(t, err, model.ErrForceQuitNotAllowed)

	_, err = f.engine.Cancel(ctx, tenant, a.ID, "alice")
	require.NoError(t, err)
	got, err := f.engine.ForceQuit(ctx, tenant, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.False(t, got.Active)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetInSync, target.UpdateStatus)
	assert.Equal(t, "ds-1", target.AssignedDS)
}

func TestForceTargetAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	r := req("t-1", "ds-1")
	r.Type = model.ActionSoft
	a := f.assign(t, r).AssignedActions[0]

	got, err := f.engine.ForceTargetAction(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionForced, got.Type)

	got, err = f.engine.ForceTargetAction(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionForced, got.Type)
	assert.Equal(t, 1, f.events.Count(events.ActionForced))
}

// ---------------------------------------------------------------------------
// Targets and distribution sets
// ---------------------------------------------------------------------------

func TestPoll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	assert.Equal(t, model.TargetUnknown, f.target(t, "t-1").UpdateStatus)

	active, err := f.engine.Poll(ctx, tenant, "t-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	target := f.target(t, "t-1")
	assert.Equal(t, model.TargetRegistered, target.UpdateStatus)
	require.NotNil(t, target.LastContact)
	assert.Equal(t, f.clock.Now(), *target.LastContact)

	_, err = f.engine.Poll(ctx, tenant, "ghost")
	require.ErrorIs(t, err, model.ErrEntityNotFound)
}

func TestDeleteTarget_Cascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	a := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]
	require.NoError(t, f.store.RolloutGroups().Create(ctx, tenant, &model.RolloutGroup{ID: "g-1", RolloutID: "r-1"}))
	require.NoError(t, f.store.RolloutGroups().AddTargets(ctx, tenant, "g-1", []string{"t-1", "t-2"}))

	require.NoError(t, f.engine.DeleteTarget(ctx, tenant, "t-1"))

	_, err := f.store.Actions().Get(ctx, tenant, a.ID)
	require.ErrorIs(t, err, model.ErrEntityNotFound)
	hist, err := f.store.ActionStatuses().List(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
	members, err := f.store.RolloutGroups().Targets(ctx, tenant, "g-1", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-2"}, members)
	assert.Equal(t, 1, f.events.Count(events.TargetDeleted))

	require.ErrorIs(t, f.engine.DeleteTarget(ctx, tenant, "t-1"), model.ErrEntityNotFound)
}

func TestFindTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	_, err := f.engine.UpdateTarget(ctx, tenant, &model.Target{ID: "t-2", Attributes: map[string]string{"hw": "v2"}})
	require.NoError(t, err)

	found, err := f.engine.FindTargets(ctx, tenant, "attribute.hw==v2,id==t-3", model.Page{})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "t-2", found[0].ID)

	_, err = f.engine.FindTargets(ctx, tenant, "color==red", model.Page{})
	require.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestDistributionSet_LockAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)

	ds, err := f.engine.GetDistributionSet(ctx, tenant, "ds-1")
	require.NoError(t, err)
	assert.True(t, ds.Complete)
	assert.False(t, ds.Locked)

	// Unlocked sets may change composition.
	ds.Modules = append(ds.Modules, model.SoftwareModule{Type: "app", Name: "agent", Version: "2.0"})
	_, err = f.engine.UpdateDistributionSet(ctx, tenant, ds)
	require.NoError(t, err)

	f.assign(t, req("t-1", "ds-1"))

	ds, err = f.engine.GetDistributionSet(ctx, tenant, "ds-1")
	require.NoError(t, err)
	ds.Description = "spring release"
	updated, err := f.engine.UpdateDistributionSet(ctx, tenant, ds)
	require.NoError(t, err)
	assert.Equal(t, "spring release", updated.Description)
	assert.True(t, updated.Locked)

	ds.Modules = ds.Modules[:1]
	_, err = f.engine.UpdateDistributionSet(ctx, tenant, ds)
	require.ErrorIs(t, err, model.ErrEntityLocked)

	require.NoError(t, f.engine.DeleteDistributionSet(ctx, tenant, "ds-1"))
	soft, err := f.engine.GetDistributionSet(ctx, tenant, "ds-1")
	require.NoError(t, err)
	assert.True(t, soft.Deleted)

	soft.Description = "again"
	_, err = f.engine.UpdateDistributionSet(ctx, tenant, soft)
	require.ErrorIs(t, err, model.ErrEntityReadOnly)

	require.NoError(t, f.engine.DeleteDistributionSet(ctx, tenant, "ds-2"))
	_, err = f.engine.GetDistributionSet(ctx, tenant, "ds-2")
	require.ErrorIs(t, err, model.ErrEntityNotFound)

	visible, err := f.engine.ListDistributionSets(ctx, tenant, model.Page{}, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "ds-3", visible[0].ID)
	all, err := f.engine.ListDistributionSets(ctx, tenant, model.Page{}, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// ---------------------------------------------------------------------------
// Rollout actions
// ---------------------------------------------------------------------------

func TestRolloutGroupActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	manual := f.assign(t, req("t-1", "ds-1")).AssignedActions[0]

	r := &model.Rollout{ID: "r-1", Name: "spring", DistributionSetID: "ds-2", CreatedBy: "carol"}
	n, err := f.engine.ScheduleRolloutGroup(ctx, tenant, r, "g-1", []string{"t-1", "t-2", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = f.engine.ScheduleRolloutGroup(ctx, tenant, r, "g-2", []string{"t-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	started, err := f.engine.RolloutActionsStarted(ctx, tenant, "r-1")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, "ds-1", f.target(t, "t-1").AssignedDS)

	n, err = f.engine.StartRolloutGroup(ctx, tenant, "r-1", "g-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.StatusCanceling, f.action(t, manual.ID).Status)
	assert.Equal(t, "ds-2", f.target(t, "t-1").AssignedDS)
	assert.Equal(t, model.TargetPending, f.target(t, "t-2").UpdateStatus)

	// Starting again is a no-op.
	n, err = f.engine.StartRolloutGroup(ctx, tenant, "r-1", "g-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	// A manual assignment wins over the never-started group.
	f.assign(t, req("t-3", "ds-3"))
	pending, err := f.store.Actions().Find(ctx, tenant, store.ActionQuery{RolloutGroupID: "g-2"}, model.Page{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.StatusCanceled, pending[0].Status)

	started, err = f.engine.RolloutActionsStarted(ctx, tenant, "r-1")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestCancelAndDeleteRolloutActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.TenantSettings{}, nil)
	r := &model.Rollout{ID: "r-1", Name: "spring", DistributionSetID: "ds-1"}
	_, err := f.engine.ScheduleRolloutGroup(ctx, tenant, r, "g-1", []string{"t-1", "t-2"})
	require.NoError(t, err)

	n, err := f.engine.CancelRolloutActions(ctx, tenant, "r-1", "rollout stopped")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.engine.DeleteRolloutActions(ctx, tenant, "r-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, f.actionCount(t))
}

func ptr[T any](v T) *T { return &v }
