package deploy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// complete reports whether a set has modules and every mandatory one is
// versioned.
func complete(modules []model.SoftwareModule) bool {
	if len(modules) == 0 {
		return false
	}
	for _, m := range modules {
		if m.Mandatory && m.Version == "" {
			return false
		}
	}
	return true
}

// CreateDistributionSet stores a new distribution set. The id is generated
// when empty; Complete is derived from the modules.
func (e *Engine) CreateDistributionSet(ctx context.Context, tenant string, ds *model.DistributionSet) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	now := e.now()
	ds.Complete = complete(ds.Modules)
	ds.Locked = false
	ds.Deleted = false
	ds.CreatedAt = now
	ds.UpdatedAt = now
	return e.store.DistributionSets().Create(ctx, tenant, ds)
}

// UpdateDistributionSet replaces the editable fields of a distribution
// set. Soft-deleted sets are read-only and the module list of a locked set
// cannot change.
func (e *Engine) UpdateDistributionSet(ctx context.Context, tenant string, ds *model.DistributionSet) (*model.DistributionSet, error) {
	var out *model.DistributionSet
	err := store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		cur, err := e.store.DistributionSets().Get(ctx, tenant, ds.ID)
		if err != nil {
			return err
		}
		if cur.Deleted {
			return fmt.Errorf("distribution set %q: %w", ds.ID, model.ErrEntityReadOnly)
		}
		if cur.Locked && !slices.Equal(cur.Modules, ds.Modules) {
			return fmt.Errorf("distribution set %q modules: %w", ds.ID, model.ErrEntityLocked)
		}
		if ds.Name != "" {
			cur.Name = ds.Name
		}
		if ds.Version != "" {
			cur.Version = ds.Version
		}
		cur.Description = ds.Description
		cur.Metadata = ds.Metadata
		cur.Modules = ds.Modules
		cur.Complete = complete(cur.Modules)
		cur.UpdatedAt = e.now()
		if err := e.store.DistributionSets().Update(ctx, tenant, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// DeleteDistributionSet removes a distribution set. A set that is locked or
// still referenced by actions is only marked deleted and stays readable.
func (e *Engine) DeleteDistributionSet(ctx context.Context, tenant, id string) error {
	ds, err := e.store.DistributionSets().Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	used, err := e.store.Actions().Count(ctx, tenant, store.ActionQuery{DistributionSetID: id})
	if err != nil {
		return err
	}
	if used == 0 && !ds.Locked {
		return e.store.DistributionSets().Delete(ctx, tenant, id)
	}
	if ds.Deleted {
		return nil
	}
	return store.RetryOnConflict(ctx, store.DefaultMaxAttempts, func(ctx context.Context) error {
		cur, err := e.store.DistributionSets().Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		cur.Deleted = true
		cur.UpdatedAt = e.now()
		return e.store.DistributionSets().Update(ctx, tenant, cur)
	})
}

// GetDistributionSet returns one distribution set.
func (e *Engine) GetDistributionSet(ctx context.Context, tenant, id string) (*model.DistributionSet, error) {
	return e.store.DistributionSets().Get(ctx, tenant, id)
}

// ListDistributionSets returns a page of distribution sets, including soft
// deleted ones when withDeleted is set.
func (e *Engine) ListDistributionSets(ctx context.Context, tenant string, page model.Page, withDeleted bool) ([]model.DistributionSet, error) {
	if withDeleted {
		return e.store.DistributionSets().List(ctx, tenant, page)
	}
	var out []model.DistributionSet
	skipped := 0
	err := store.PageThrough(ctx, e.batchSize, func(ctx context.Context, p model.Page) ([]model.DistributionSet, error) {
		return e.store.DistributionSets().List(ctx, tenant, p)
	}, func(items []model.DistributionSet) error {
		for _, ds := range items {
			if ds.Deleted {
				continue
			}
			if skipped < page.Offset {
				skipped++
				continue
			}
			if page.Limit > 0 && len(out) >= page.Limit {
				return errPageFull
			}
			out = append(out, ds)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		return nil, err
	}
	return out, nil
}

var errPageFull = errors.New("page full")
