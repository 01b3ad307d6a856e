package rollout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

const tenant = "acme"

type fixture struct {
	sched  *Scheduler
	engine *deploy.Engine
	store  *store.MemoryStore
	events *events.Recorder
	clock  *clock.Fake
}

// newFixture seeds n targets t-01..t-nn. Odd targets carry hw=v1, even
// ones hw=v2.
func newFixture(t *testing.T, n int, settings model.TenantSettings, limits *model.Quota) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := events.NewRecorder()
	emitter := events.NewEmitter(rec, clk, nil)
	engine := deploy.New(s, deploy.Options{Clock: clk, Events: emitter})
	sched := New(s, engine, Options{Clock: clk, Events: emitter, BatchSize: 3})

	require.NoError(t, s.Tenants().Create(ctx, &model.Tenant{ID: tenant, Plan: "starter", Settings: settings, Quota: limits}))
	for _, id := range []string{"ds-1", "ds-2"} {
		require.NoError(t, engine.CreateDistributionSet(ctx, tenant, &model.DistributionSet{
			ID: id, Name: id, Version: "1.0",
			Modules: []model.SoftwareModule{{Type: "os", Name: "os", Version: "1.0", Mandatory: true}},
		}))
	}
	for i := 1; i <= n; i++ {
		hw := "v1"
		if i%2 == 0 {
			hw = "v2"
		}
		require.NoError(t, engine.CreateTarget(ctx, tenant, &model.Target{
			ID:         fmt.Sprintf("t-%02d", i),
			Attributes: map[string]string{"hw": hw},
		}))
	}
	return &fixture{sched: sched, engine: engine, store: s, events: rec, clock: clk}
}

func (f *fixture) create(t *testing.T, req CreateRequest) *model.Rollout {
	t.Helper()
	if req.Name == "" {
		req.Name = "wave"
	}
	if req.DistributionSetID == "" {
		req.DistributionSetID = "ds-1"
	}
	r, err := f.sched.Create(context.Background(), tenant, req)
	require.NoError(t, err)
	return r
}

// ready creates and fills a rollout.
func (f *fixture) ready(t *testing.T, req CreateRequest) *model.Rollout {
	t.Helper()
	r := f.create(t, req)
	r, err := f.sched.Fill(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	return r
}

// running creates, fills and starts a rollout, then runs the starting check.
func (f *fixture) running(t *testing.T, req CreateRequest) *model.Rollout {
	t.Helper()
	r := f.ready(t, req)
	_, err := f.sched.Start(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.CheckStarting(context.Background(), tenant, 0))
	return f.rollout(t, r.ID)
}

func (f *fixture) check(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sched.CheckRunning(context.Background(), tenant, 0))
}

func (f *fixture) rollout(t *testing.T, id string) *model.Rollout {
	t.Helper()
	r, err := f.sched.Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return r
}

func (f *fixture) groups(t *testing.T, rolloutID string) []model.RolloutGroup {
	t.Helper()
	gs, err := f.sched.Groups(context.Background(), tenant, rolloutID)
	require.NoError(t, err)
	return gs
}

func (f *fixture) groupStatuses(t *testing.T, rolloutID string) []model.RolloutGroupStatus {
	t.Helper()
	var out []model.RolloutGroupStatus
	for _, g := range f.groups(t, rolloutID) {
		out = append(out, g.Status)
	}
	return out
}

func (f *fixture) groupActions(t *testing.T, g model.RolloutGroup) []model.Action {
	t.Helper()
	as, err := f.store.Actions().Find(context.Background(), tenant, store.ActionQuery{
		RolloutID:      g.RolloutID,
		RolloutGroupID: g.ID,
	}, model.Page{})
	require.NoError(t, err)
	return as
}

func (f *fixture) report(t *testing.T, actions []model.Action, status model.ActionStatusCode) {
	t.Helper()
	for _, a := range actions {
		_, err := f.engine.AddStatus(context.Background(), tenant, a.ID, status)
		require.NoError(t, err)
	}
}

func thresholds(success, errPct float64) *model.GroupConditions {
	c := &model.GroupConditions{
		Success: model.Condition{Type: model.ConditionThreshold, Threshold: success, Action: model.GroupActionNextGroup},
	}
	if errPct > 0 {
		c.Error = &model.Condition{Type: model.ConditionThreshold, Threshold: errPct, Action: model.GroupActionPause}
	}
	return c
}

func statusesOf(actions []model.Action) []model.ActionStatusCode {
	out := make([]model.ActionStatusCode, len(actions))
	for i, a := range actions {
		out[i] = a.Status
	}
	return out
}

func repeat[T any](v T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Create and fill
// ---------------------------------------------------------------------------

func TestCreate_EqualGroups(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)

	r := f.create(t, CreateRequest{Groups: 2})
	assert.Equal(t, model.RolloutCreating, r.Status)
	assert.Equal(t, model.ActionForced, r.ActionType)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupCreating, model.GroupCreating}, f.groupStatuses(t, r.ID))

	r, err := f.sched.Fill(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutReady, r.Status)
	assert.Equal(t, 10, r.TotalTargets)

	groups := f.groups(t, r.ID)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.Equal(t, model.GroupReady, g.Status)
		assert.Equal(t, 5, g.TotalTargets)
	}
	members, err := f.sched.GroupTargets(context.Background(), tenant, groups[0].ID, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-01", "t-02", "t-03", "t-04", "t-05"}, members)
	members, err = f.sched.GroupTargets(context.Background(), tenant, groups[1].ID, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-06", "t-07", "t-08", "t-09", "t-10"}, members)

	assert.Equal(t, 1, f.events.Count(events.RolloutCreated))
	assert.Equal(t, 1, f.events.Count(events.RolloutReady))
}

func TestFill_MoreGroupsThanTargets(t *testing.T) {
	f := newFixture(t, 3, model.TenantSettings{}, nil)

	r := f.ready(t, CreateRequest{Groups: 5})
	var sizes []int
	for _, g := range f.groups(t, r.ID) {
		sizes = append(sizes, g.TotalTargets)
		assert.Equal(t, model.GroupReady, g.Status)
	}
	assert.Equal(t, []int{1, 1, 0, 1, 0}, sizes)
	assert.Equal(t, 3, r.TotalTargets)
}

func TestFill_OnlyFromCreating(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	r := f.ready(t, CreateRequest{Groups: 1})

	_, err := f.sched.Fill(context.Background(), tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
}

func TestCreate_GroupDefinitions(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)

	r := f.ready(t, CreateRequest{GroupDefinitions: []GroupDefinition{
		{Name: "canary", TargetPercentage: 50, TargetFilter: "attribute.hw==v2"},
		{Name: "rest", TargetPercentage: 100, Conditions: thresholds(80, 20)},
	}})

	groups := f.groups(t, r.ID)
	require.Len(t, groups, 2)
	assert.Equal(t, "canary", groups[0].Name)
	assert.Equal(t, 3, groups[0].TotalTargets)
	assert.Equal(t, 7, groups[1].TotalTargets)
	assert.Equal(t, model.DefaultGroupConditions(), groups[0].Conditions)
	assert.Equal(t, 80.0, groups[1].Conditions.Success.Threshold)

	members, err := f.sched.GroupTargets(context.Background(), tenant, groups[0].ID, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-02", "t-04", "t-06"}, members)
}

func TestFill_TargetsRegisteredAfterCreateStayOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.create(t, CreateRequest{GroupDefinitions: []GroupDefinition{
		{Name: "v1", TargetPercentage: 100, TargetFilter: "attribute.hw==v1"},
		{Name: "v2", TargetPercentage: 100, TargetFilter: "attribute.hw==v2"},
	}})
	require.NoError(t, f.engine.CreateTarget(ctx, tenant, &model.Target{ID: "t-05", Attributes: map[string]string{"hw": "v3"}}))

	r, err := f.sched.Fill(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutReady, r.Status)
	assert.Equal(t, 4, r.TotalTargets)

	sum := 0
	for _, g := range f.groups(t, r.ID) {
		sum += g.TotalTargets
		members, err := f.sched.GroupTargets(ctx, tenant, g.ID, model.Page{})
		require.NoError(t, err)
		assert.NotContains(t, members, "t-05")
	}
	assert.Equal(t, r.TotalTargets, sum)
}

func TestCreate_Verification(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"no name", CreateRequest{DistributionSetID: "ds-1", Groups: 1}, model.ErrRolloutVerification},
		{"no groups", CreateRequest{Name: "r", DistributionSetID: "ds-1"}, model.ErrRolloutVerification},
		{"count and definitions", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 2,
			GroupDefinitions: []GroupDefinition{{TargetPercentage: 100}}}, model.ErrRolloutVerification},
		{"filter matches nothing", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1,
			TargetFilter: "name==nobody"}, model.ErrRolloutVerification},
		{"broken filter", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1,
			TargetFilter: "name=="}, model.ErrInvalidFilter},
		{"zero percentage", CreateRequest{Name: "r", DistributionSetID: "ds-1",
			GroupDefinitions: []GroupDefinition{{TargetPercentage: 0}}}, model.ErrRolloutVerification},
		{"percentage over 100", CreateRequest{Name: "r", DistributionSetID: "ds-1",
			GroupDefinitions: []GroupDefinition{{TargetPercentage: 150}}}, model.ErrRolloutVerification},
		{"targets left over", CreateRequest{Name: "r", DistributionSetID: "ds-1",
			GroupDefinitions: []GroupDefinition{{TargetPercentage: 50}}}, model.ErrRolloutVerification},
		{"success threshold out of range", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1,
			Conditions: thresholds(120, 0)}, model.ErrRolloutVerification},
		{"unknown distribution set", CreateRequest{Name: "r", DistributionSetID: "ds-9", Groups: 1}, model.ErrEntityNotFound},
		{"timeforced without time", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1,
			ActionType: model.ActionTimeForced}, model.ErrInvalidActionType},
		{"weight without multi-assignment", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1,
			Weight: ptr(10)}, model.ErrMultiAssignmentNotEnabled},
		{"too many groups", CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 101}, model.ErrQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 4, model.TenantSettings{}, nil)
			_, err := f.sched.Create(context.Background(), tenant, tt.req)
			assert.ErrorIs(t, err, tt.want)

			rollouts, err := f.sched.List(context.Background(), tenant)
			require.NoError(t, err)
			assert.Empty(t, rollouts)
		})
	}
}

func TestCreate_WeightInMultiAssignmentMode(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{MultiAssignment: true}, nil)

	_, err := f.sched.Create(context.Background(), tenant, CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 1})
	assert.ErrorIs(t, err, model.ErrInvalidWeight)

	r := f.create(t, CreateRequest{Groups: 1, Weight: ptr(500)})
	require.NotNil(t, r.Weight)
	assert.Equal(t, 500, *r.Weight)
}

func TestCreate_TargetsPerGroupQuota(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, &model.Quota{MaxTargetsPerRolloutGroup: 4})

	_, err := f.sched.Create(context.Background(), tenant, CreateRequest{Name: "r", DistributionSetID: "ds-1", Groups: 2})
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)

	f.create(t, CreateRequest{Groups: 3})
}

func TestCreate_DuplicateName(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	f.create(t, CreateRequest{Name: "wave", Groups: 1})

	_, err := f.sched.Create(context.Background(), tenant, CreateRequest{Name: "wave", DistributionSetID: "ds-1", Groups: 1})
	assert.ErrorIs(t, err, model.ErrEntityAlreadyExists)
}

func TestCheckCreating_FillsGroups(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.create(t, CreateRequest{Groups: 2})

	require.NoError(t, f.sched.CheckCreating(context.Background(), tenant, 0))
	assert.Equal(t, model.RolloutReady, f.rollout(t, r.ID).Status)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupReady, model.GroupReady}, f.groupStatuses(t, r.ID))
}

// ---------------------------------------------------------------------------
// Start and advancement
// ---------------------------------------------------------------------------

func TestStart_IllegalWhileCreating(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	r := f.create(t, CreateRequest{Groups: 1})

	_, err := f.sched.Start(context.Background(), tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
	assert.Equal(t, model.RolloutCreating, f.rollout(t, r.ID).Status)
}

func TestStart_ActivatesFirstGroup(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	r := f.ready(t, CreateRequest{Groups: 2})

	r, err := f.sched.Start(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutStarting, r.Status)

	require.NoError(t, f.sched.CheckStarting(context.Background(), tenant, 0))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupRunning, model.GroupScheduled}, f.groupStatuses(t, r.ID))

	groups := f.groups(t, r.ID)
	first := f.groupActions(t, groups[0])
	assert.Equal(t, repeat(model.StatusRunning, 5), statusesOf(first))
	for _, a := range first {
		assert.True(t, a.Active)
	}
	second := f.groupActions(t, groups[1])
	assert.Equal(t, repeat(model.StatusScheduled, 5), statusesOf(second))
	for _, a := range second {
		assert.False(t, a.Active)
	}

	target, err := f.engine.GetTarget(context.Background(), tenant, "t-01")
	require.NoError(t, err)
	assert.Equal(t, model.TargetPending, target.UpdateStatus)
	assert.Equal(t, 1, f.events.Count(events.RolloutStarted))
	assert.Equal(t, 1, f.events.Count(events.RolloutGroupStarted))
}

// failingGroups fails the next n group writes.
type failingGroups struct {
	store.RolloutGroupStore
	n int
}

func (g *failingGroups) Update(ctx context.Context, tenant string, group *model.RolloutGroup) error {
	if g.n > 0 {
		g.n--
		return errors.New("store unavailable")
	}
	return g.RolloutGroupStore.Update(ctx, tenant, group)
}

type failingStore struct {
	*store.MemoryStore
	groups *failingGroups
}

func (s failingStore) RolloutGroups() store.RolloutGroupStore { return s.groups }

func TestCheckStarting_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	r := f.ready(t, CreateRequest{Groups: 2})
	_, err := f.sched.Start(ctx, tenant, r.ID)
	require.NoError(t, err)

	flaky := failingStore{MemoryStore: f.store, groups: &failingGroups{RolloutGroupStore: f.store.RolloutGroups(), n: 1}}
	broken := New(flaky, f.engine, Options{Clock: f.clock, BatchSize: 3})
	require.NoError(t, broken.CheckStarting(ctx, tenant, 0))
	assert.Equal(t, model.RolloutStarting, f.rollout(t, r.ID).Status)

	require.NoError(t, f.sched.CheckStarting(ctx, tenant, 0))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)
	for _, g := range f.groups(t, r.ID) {
		assert.Len(t, f.groupActions(t, g), 5, "group %d", g.Index)
	}
}

func TestCheckRunning_SuccessThresholdAdvances(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2, Conditions: thresholds(50, 80)})
	groups := f.groups(t, r.ID)
	first := f.groupActions(t, groups[0])

	f.report(t, first[:2], model.StatusFinished)
	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupRunning, model.GroupScheduled}, f.groupStatuses(t, r.ID))

	f.report(t, first[2:3], model.StatusFinished)
	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupRunning}, f.groupStatuses(t, r.ID))
	assert.Equal(t, repeat(model.StatusRunning, 5), statusesOf(f.groupActions(t, groups[1])))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)
	assert.Equal(t, 1, f.events.Count(events.RolloutGroupFinished))
	assert.Equal(t, 2, f.events.Count(events.RolloutGroupStarted))
}

func TestCheckRunning_ErrorThresholdPauses(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2, Conditions: thresholds(50, 80)})
	groups := f.groups(t, r.ID)
	first := f.groupActions(t, groups[0])

	f.report(t, first[:3], model.StatusError)
	f.check(t)
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)

	f.report(t, first[3:4], model.StatusError)
	f.check(t)
	assert.Equal(t, model.RolloutPaused, f.rollout(t, r.ID).Status)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupError, model.GroupScheduled}, f.groupStatuses(t, r.ID))
	assert.Equal(t, repeat(model.StatusScheduled, 5), statusesOf(f.groupActions(t, groups[1])))
	assert.Equal(t, 1, f.events.Count(events.RolloutGroupError))
	assert.Equal(t, 1, f.events.Count(events.RolloutPaused))

	// A paused rollout is not advanced.
	f.check(t)
	assert.Equal(t, model.GroupScheduled, f.groups(t, r.ID)[1].Status)

	_, err := f.sched.Resume(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.Count(events.RolloutResumed))
	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupError, model.GroupRunning}, f.groupStatuses(t, r.ID))
}

func TestCheckRunning_SkipsEmptyGroupsAndFinishes(t *testing.T) {
	f := newFixture(t, 3, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 5})

	for range 3 {
		var runningGroup *model.RolloutGroup
		for _, g := range f.groups(t, r.ID) {
			if g.Status == model.GroupRunning {
				runningGroup = &g
				break
			}
		}
		require.NotNil(t, runningGroup)
		f.report(t, f.groupActions(t, *runningGroup), model.StatusFinished)
		f.check(t)
	}

	assert.Equal(t, model.RolloutFinished, f.rollout(t, r.ID).Status)
	assert.Equal(t, repeat(model.GroupFinished, 5), f.groupStatuses(t, r.ID))
	assert.Equal(t, 3, f.events.Count(events.RolloutGroupStarted))
	assert.Equal(t, 5, f.events.Count(events.RolloutGroupFinished))
	assert.Equal(t, 1, f.events.Count(events.RolloutFinished))

	for _, id := range []string{"t-01", "t-02", "t-03"} {
		target, err := f.engine.GetTarget(context.Background(), tenant, id)
		require.NoError(t, err)
		assert.Equal(t, model.TargetInSync, target.UpdateStatus)
		assert.Equal(t, "ds-1", target.InstalledDS)
	}
}

func TestCheckRunning_SuccessActionPause(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	cond := thresholds(100, 0)
	cond.Success.Action = model.GroupActionPause
	r := f.running(t, CreateRequest{Groups: 2, Conditions: cond})

	f.report(t, f.groupActions(t, f.groups(t, r.ID)[0]), model.StatusFinished)
	f.check(t)
	assert.Equal(t, model.RolloutPaused, f.rollout(t, r.ID).Status)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupScheduled}, f.groupStatuses(t, r.ID))

	_, err := f.sched.Resume(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupRunning}, f.groupStatuses(t, r.ID))
}

func TestCheckRunning_DownloadOnlyCountsDownloaded(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 1, ActionType: model.ActionDownloadOnly})

	f.report(t, f.groupActions(t, f.groups(t, r.ID)[0]), model.StatusDownloaded)
	f.check(t)
	assert.Equal(t, model.RolloutFinished, f.rollout(t, r.ID).Status)
}

func TestCheckRunning_Idempotent(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	f.report(t, f.groupActions(t, f.groups(t, r.ID)[0])[:1], model.StatusFinished)

	f.check(t)
	before := len(f.events.Events())
	statuses := f.groupStatuses(t, r.ID)

	f.check(t)
	f.check(t)
	assert.Len(t, f.events.Events(), before)
	assert.Equal(t, statuses, f.groupStatuses(t, r.ID))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)
}

func TestCheckRunning_DelayThrottles(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	ctx := context.Background()

	require.NoError(t, f.sched.CheckRunning(ctx, tenant, time.Minute))
	require.NotNil(t, f.rollout(t, r.ID).LastCheck)

	f.report(t, f.groupActions(t, f.groups(t, r.ID)[0]), model.StatusFinished)
	require.NoError(t, f.sched.CheckRunning(ctx, tenant, time.Minute))
	assert.Equal(t, model.GroupRunning, f.groups(t, r.ID)[0].Status)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.sched.CheckRunning(ctx, tenant, time.Minute))
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupRunning}, f.groupStatuses(t, r.ID))
}

func TestCheckRunning_DeletedAndReassignedTargetsResolve(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	ctx := context.Background()
	first := f.groupActions(t, f.groups(t, r.ID)[0])
	require.Len(t, first, 5)

	f.report(t, first[:3], model.StatusFinished)
	require.NoError(t, f.engine.DeleteTarget(ctx, tenant, first[3].TargetID))
	f.check(t)
	assert.Equal(t, model.GroupRunning, f.groups(t, r.ID)[0].Status)

	_, err := f.engine.Assign(ctx, tenant, "bob", []deploy.AssignRequest{
		{TargetID: first[4].TargetID, DistributionSetID: "ds-2"},
	})
	require.NoError(t, err)
	superseded, err := f.engine.GetAction(ctx, tenant, first[4].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceling, superseded.Status)

	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupRunning}, f.groupStatuses(t, r.ID))
}

func TestCheckRunning_CompetingRolloutCancelsScheduled(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	first := f.running(t, CreateRequest{Name: "first", Groups: 2})
	second := f.running(t, CreateRequest{Name: "second", DistributionSetID: "ds-2", Groups: 1})

	// The second rollout scheduled every target, so the first rollout's
	// never-started group lost its actions.
	laterGroup := f.groups(t, first.ID)[1]
	assert.Equal(t, repeat(model.StatusCanceled, 2), statusesOf(f.groupActions(t, laterGroup)))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, second.ID).Status)
}

// ---------------------------------------------------------------------------
// Pause, stop, delete, autostart
// ---------------------------------------------------------------------------

func TestPauseResume(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	ctx := context.Background()

	_, err := f.sched.Resume(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)

	paused, err := f.sched.Pause(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutPaused, paused.Status)

	f.report(t, f.groupActions(t, f.groups(t, r.ID)[0]), model.StatusFinished)
	f.check(t)
	assert.Equal(t, model.GroupRunning, f.groups(t, r.ID)[0].Status)

	_, err = f.sched.Pause(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)

	_, err = f.sched.Resume(ctx, tenant, r.ID)
	require.NoError(t, err)
	f.check(t)
	assert.Equal(t, []model.RolloutGroupStatus{model.GroupFinished, model.GroupRunning}, f.groupStatuses(t, r.ID))
}

func TestStop(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	ctx := context.Background()

	stopping, err := f.sched.Stop(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutStopping, stopping.Status)

	require.NoError(t, f.sched.CheckStopping(ctx, tenant, 0))
	assert.Equal(t, model.RolloutFinished, f.rollout(t, r.ID).Status)
	assert.Equal(t, repeat(model.GroupFinished, 2), f.groupStatuses(t, r.ID))

	groups := f.groups(t, r.ID)
	assert.Equal(t, repeat(model.StatusRunning, 2), statusesOf(f.groupActions(t, groups[0])))
	assert.Equal(t, repeat(model.StatusCanceled, 2), statusesOf(f.groupActions(t, groups[1])))
	assert.Equal(t, 1, f.events.Count(events.RolloutStopped))

	_, err = f.sched.Stop(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
}

func TestDelete_NeverStartedIsRemoved(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.ready(t, CreateRequest{Groups: 2})
	ctx := context.Background()

	deleting, err := f.sched.Delete(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutDeleting, deleting.Status)

	require.NoError(t, f.sched.CheckDeleting(ctx, tenant, 0))
	_, err = f.sched.Get(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrEntityNotFound)
	groups, err := f.store.RolloutGroups().ListByRollout(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, 1, f.events.Count(events.RolloutDeleted))

	// The name is free again.
	f.create(t, CreateRequest{Name: r.Name, Groups: 1})
}

func TestDelete_StartedIsKept(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	r := f.running(t, CreateRequest{Groups: 2})
	ctx := context.Background()

	_, err := f.sched.Delete(ctx, tenant, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.CheckDeleting(ctx, tenant, 0))

	assert.Equal(t, model.RolloutDeleted, f.rollout(t, r.ID).Status)
	groups := f.groups(t, r.ID)
	assert.Equal(t, repeat(model.StatusRunning, 2), statusesOf(f.groupActions(t, groups[0])))
	assert.Equal(t, repeat(model.StatusCanceled, 2), statusesOf(f.groupActions(t, groups[1])))

	_, err = f.sched.Delete(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
}

func TestApprove(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{ApprovalRequired: true}, nil)
	ctx := context.Background()
	r := f.ready(t, CreateRequest{Groups: 2})
	assert.Equal(t, model.RolloutWaitingForApproval, r.Status)
	assert.Equal(t, 4, r.TotalTargets)
	assert.Equal(t, 1, f.events.Count(events.RolloutApproval))
	assert.Zero(t, f.events.Count(events.RolloutReady))

	_, err := f.sched.Start(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)

	approved, err := f.sched.Approve(ctx, tenant, r.ID, true, "ops", "canary looked fine")
	require.NoError(t, err)
	assert.Equal(t, model.RolloutReady, approved.Status)
	assert.Equal(t, "ops", approved.ApprovalDecidedBy)
	assert.Equal(t, "canary looked fine", approved.ApprovalRemark)
	assert.Equal(t, 1, f.events.Count(events.RolloutApproved))

	_, err = f.sched.Approve(ctx, tenant, r.ID, false, "ops", "")
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)

	_, err = f.sched.Start(ctx, tenant, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.CheckStarting(ctx, tenant, 0))
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)
}

func TestApprove_DeniedRolloutCanOnlyBeDeleted(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{ApprovalRequired: true}, nil)
	ctx := context.Background()
	r := f.ready(t, CreateRequest{Groups: 1})

	denied, err := f.sched.Approve(ctx, tenant, r.ID, false, "ops", "wrong firmware")
	require.NoError(t, err)
	assert.Equal(t, model.RolloutApprovalDenied, denied.Status)
	assert.Equal(t, 1, f.events.Count(events.RolloutDenied))

	_, err = f.sched.Start(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
	_, err = f.sched.Stop(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)

	_, err = f.sched.Delete(ctx, tenant, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.CheckDeleting(ctx, tenant, 0))
	_, err = f.sched.Get(ctx, tenant, r.ID)
	assert.ErrorIs(t, err, model.ErrEntityNotFound)
}

func TestApprove_NotRequired(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	r := f.ready(t, CreateRequest{Groups: 1})
	assert.Equal(t, model.RolloutReady, r.Status)

	_, err := f.sched.Approve(context.Background(), tenant, r.ID, true, "ops", "")
	assert.ErrorIs(t, err, model.ErrRolloutIllegalState)
}

func TestCheckReady_Autostart(t *testing.T) {
	f := newFixture(t, 2, model.TenantSettings{}, nil)
	ctx := context.Background()
	startAt := f.clock.Now().Add(time.Hour)
	r := f.ready(t, CreateRequest{Groups: 1, StartAt: &startAt})
	manual := f.ready(t, CreateRequest{Name: "manual", Groups: 1})

	require.NoError(t, f.sched.CheckReady(ctx, tenant, 0))
	assert.Equal(t, model.RolloutReady, f.rollout(t, r.ID).Status)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.sched.CheckReady(ctx, tenant, 0))
	assert.Equal(t, model.RolloutStarting, f.rollout(t, r.ID).Status)
	assert.Equal(t, model.RolloutReady, f.rollout(t, manual.ID).Status)
}

func TestChecks_FullLifecycle(t *testing.T) {
	f := newFixture(t, 4, model.TenantSettings{}, nil)
	ctx := context.Background()
	now := f.clock.Now()
	r := f.create(t, CreateRequest{Groups: 2, StartAt: &now})

	runAll := func() {
		for _, check := range f.sched.Checks() {
			require.NoError(t, check(ctx, tenant, 0))
		}
	}
	runAll()
	assert.Equal(t, model.RolloutRunning, f.rollout(t, r.ID).Status)

	for range 2 {
		for _, g := range f.groups(t, r.ID) {
			if g.Status == model.GroupRunning {
				f.report(t, f.groupActions(t, g), model.StatusFinished)
			}
		}
		runAll()
	}
	assert.Equal(t, model.RolloutFinished, f.rollout(t, r.ID).Status)
}

// ---------------------------------------------------------------------------
// Counts
// ---------------------------------------------------------------------------

func TestTotalTargetCountByStatus(t *testing.T) {
	f := newFixture(t, 10, model.TenantSettings{}, nil)
	ctx := context.Background()
	r := f.ready(t, CreateRequest{Groups: 2})

	c, err := f.sched.TotalTargetCountByStatus(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, &TargetCounts{NotStarted: 10, Total: 10}, c)

	_, err = f.sched.Start(ctx, tenant, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.CheckStarting(ctx, tenant, 0))
	groups := f.groups(t, r.ID)
	first := f.groupActions(t, groups[0])
	f.report(t, first[:2], model.StatusFinished)
	f.report(t, first[2:3], model.StatusError)

	c, err = f.sched.TotalTargetCountByStatus(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, &TargetCounts{Running: 2, Scheduled: 5, Finished: 2, Error: 1, Total: 10}, c)

	c, err = f.sched.GroupTargetCountByStatus(ctx, tenant, groups[1].ID)
	require.NoError(t, err)
	assert.Equal(t, &TargetCounts{Scheduled: 5, Total: 5}, c)
}

func TestBucket_DownloadedDependsOnActionType(t *testing.T) {
	byStatus := map[model.ActionStatusCode]int{
		model.StatusDownloaded: 2,
		model.StatusCanceling:  1,
		model.StatusCanceled:   1,
	}
	assert.Equal(t, &TargetCounts{Running: 3, Canceled: 1, NotStarted: 1, Total: 5},
		bucket(byStatus, 5, model.ActionForced))
	assert.Equal(t, &TargetCounts{Running: 1, Finished: 2, Canceled: 1, NotStarted: 1, Total: 5},
		bucket(byStatus, 5, model.ActionDownloadOnly))
}

func TestPartition(t *testing.T) {
	targets := make([]model.Target, 7)
	for i := range targets {
		targets[i] = model.Target{ID: fmt.Sprintf("t-%d", i)}
	}
	groups := []model.RolloutGroup{{TargetPercentage: 100.0 / 3}, {TargetPercentage: 50}, {TargetPercentage: 100}}

	parts, left, err := partition(targets, groups)
	require.NoError(t, err)
	assert.Zero(t, left)
	assert.Equal(t, []string{"t-0", "t-1"}, parts[0])
	assert.Equal(t, []string{"t-2", "t-3", "t-4"}, parts[1])
	assert.Equal(t, []string{"t-5", "t-6"}, parts[2])
}

func ptr[T any](v T) *T { return &v }
