package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

func TestForEachBatch(t *testing.T) {
	var sizes []int
	err := ForEachBatch([]int{1, 2, 3, 4, 5, 6, 7}, 3, func(b []int) error {
		sizes = append(sizes, len(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)

	stop := errors.New("stop")
	calls := 0
	err = ForEachBatch([]int{1, 2, 3}, 1, func([]int) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPageThrough_VisitsEveryTargetOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Targets().Create(ctx, tenant, &model.Target{ID: fmt.Sprintf("dev-%02d", i)}))
	}

	var seen []string
	var pages int
	err := PageThrough(ctx, 4, func(ctx context.Context, p model.Page) ([]model.Target, error) {
		return s.Targets().List(ctx, tenant, p)
	}, func(ts []model.Target) error {
		pages++
		for _, t := range ts {
			seen = append(seen, t.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 10)
	assert.Equal(t, "dev-09", seen[9])
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := RetryOnConflict(ctx, 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return model.Conflict("target", "dev-1")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryOnConflict(ctx, 2, func(context.Context) error {
		calls++
		return model.Conflict("target", "dev-1")
	})
	require.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, 2, calls)

	calls = 0
	err = RetryOnConflict(ctx, 0, func(context.Context) error {
		calls++
		return model.NotFound("target", "dev-1")
	})
	require.ErrorIs(t, err, model.ErrEntityNotFound)
	assert.Equal(t, 1, calls)
}
