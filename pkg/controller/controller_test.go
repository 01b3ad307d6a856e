package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/clock"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

func setup(t *testing.T, tenants ...string) (*store.MemoryStore, *deploy.Engine, *rollout.Scheduler) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	engine := deploy.New(s, deploy.Options{Clock: clk})
	sched := rollout.New(s, engine, rollout.Options{Clock: clk})

	for _, tenant := range tenants {
		require.NoError(t, s.Tenants().Create(ctx, &model.Tenant{ID: tenant, Plan: "starter"}))
		require.NoError(t, engine.CreateDistributionSet(ctx, tenant, &model.DistributionSet{
			ID: "ds-1", Name: "base", Version: "1.0",
			Modules: []model.SoftwareModule{{Type: "os", Name: "os", Version: "1.0", Mandatory: true}},
		}))
		for i := 1; i <= 2; i++ {
			require.NoError(t, engine.CreateTarget(ctx, tenant, &model.Target{ID: fmt.Sprintf("t-%d", i)}))
		}
	}
	return s, engine, sched
}

func TestNew_InvalidSchedule(t *testing.T) {
	s, _, sched := setup(t)
	_, err := New(s.Tenants(), sched, Options{Schedule: "every now and then"})
	assert.Error(t, err)

	c, err := New(s.Tenants(), sched, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, c.workers)
}

func TestRunOnce_DrivesEveryTenant(t *testing.T) {
	s, engine, sched := setup(t, "acme", "globex")
	ctx := context.Background()

	ids := map[string]string{}
	for _, tenant := range []string{"acme", "globex"} {
		r, err := sched.Create(ctx, tenant, rollout.CreateRequest{
			Name: "wave", DistributionSetID: "ds-1", Groups: 2,
		})
		require.NoError(t, err)
		ids[tenant] = r.ID
	}

	c, err := New(s.Tenants(), sched, Options{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, c.RunOnce(ctx))

	for tenant, id := range ids {
		r, err := sched.Get(ctx, tenant, id)
		require.NoError(t, err)
		assert.Equal(t, model.RolloutReady, r.Status, tenant)
	}

	_, err = sched.Start(ctx, "acme", ids["acme"])
	require.NoError(t, err)
	require.NoError(t, c.RunOnce(ctx))

	acme, err := sched.Get(ctx, "acme", ids["acme"])
	require.NoError(t, err)
	assert.Equal(t, model.RolloutRunning, acme.Status)
	globex, err := sched.Get(ctx, "globex", ids["globex"])
	require.NoError(t, err)
	assert.Equal(t, model.RolloutReady, globex.Status)

	active, err := engine.TargetActions(ctx, "acme", "t-1", true, model.Page{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids["acme"], active[0].RolloutID)
}

func TestRunOnce_SkipsTenantInFlight(t *testing.T) {
	s, _, sched := setup(t, "acme")
	ctx := context.Background()
	r, err := sched.Create(ctx, "acme", rollout.CreateRequest{Name: "wave", DistributionSetID: "ds-1", Groups: 1})
	require.NoError(t, err)

	c, err := New(s.Tenants(), sched, Options{})
	require.NoError(t, err)
	c.inFlight.Store("acme", struct{}{})
	require.NoError(t, c.RunOnce(ctx))

	got, err := sched.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RolloutCreating, got.Status)
}

func TestStart_StopsOnCancel(t *testing.T) {
	s, _, sched := setup(t)
	c, err := New(s.Tenants(), sched, Options{Schedule: "@every 1h"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}
