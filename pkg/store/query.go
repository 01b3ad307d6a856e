package store

import (
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Matches reports whether a satisfies q.
func (q ActionQuery) Matches(a *model.Action) bool {
	if q.TargetID != "" && a.TargetID != q.TargetID {
		return false
	}
	if q.DistributionSetID != "" && a.DistributionSetID != q.DistributionSetID {
		return false
	}
	if q.RolloutID != "" && a.RolloutID != q.RolloutID {
		return false
	}
	if q.RolloutGroupID != "" && a.RolloutGroupID != q.RolloutGroupID {
		return false
	}
	if q.Active != nil && a.Active != *q.Active {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, a.Status) {
		return false
	}
	return true
}

// paginate returns the window of items selected by page.
func paginate[T any](items []T, page model.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

func sortTargets(ts []model.Target) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}

func sortActions(as []model.Action) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}

func sortGroups(gs []model.RolloutGroup) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].Index < gs[j].Index })
}

func sortByName[T any](items []T, name func(*T) string) {
	sort.Slice(items, func(i, j int) bool {
		return strings.Compare(name(&items[i]), name(&items[j])) < 0
	})
}

func cloneTarget(t model.Target) model.Target {
	t.Attributes = maps.Clone(t.Attributes)
	return t
}

func cloneDistributionSet(ds model.DistributionSet) model.DistributionSet {
	ds.Modules = slices.Clone(ds.Modules)
	ds.Metadata = maps.Clone(ds.Metadata)
	return ds
}

func cloneEvent(e model.Event) model.Event {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrEntityNotFound) }
