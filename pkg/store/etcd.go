package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Key-space constants. All keys live under /rollout/v1/ to avoid collisions
// with other etcd users. Tenant-scoped records live under
// /rollout/v1/t/<tenant>/<kind>/<id>.
const keyPrefix = "/rollout/v1"

const (
	kindTargets      = "targets"
	kindDistSets     = "distsets"
	kindActions      = "actions"
	kindStatuses     = "statuses"
	kindRollouts     = "rollouts"
	kindRolloutNames = "rollout-names"
	kindGroups       = "groups"
	kindMembers      = "members"
	kindEvents       = "events"
)

// key builds a fully-qualified etcd key for a tenant-scoped record.
func key(tenant, kind, id string) string {
	return fmt.Sprintf("%s/t/%s/%s/%s", keyPrefix, tenant, kind, id)
}

// prefix builds the etcd key prefix for listing a tenant's records of a kind.
func prefix(tenant, kind string) string {
	return fmt.Sprintf("%s/t/%s/%s/", keyPrefix, tenant, kind)
}

func tenantKey(id string) string { return keyPrefix + "/tenants/" + id }

const tenantPrefix = keyPrefix + "/tenants/"

// sortableKey orders keys by time when listed by prefix.
func sortableKey(t time.Time, id string) string {
	return fmt.Sprintf("%020d-%s", t.UnixNano(), id)
}

// ---------------------------------------------------------------------------
// EtcdStore
// ---------------------------------------------------------------------------

// EtcdStore is an etcd-backed implementation of the Store interface suitable
// for production multi-node deployments. Revision checks are enforced with
// etcd transactions comparing the key's ModRevision, so concurrent writers
// from multiple control plane replicas detect lost updates.
type EtcdStore struct {
	client   *clientv3.Client
	targets  *EtcdTargetStore
	distSets *EtcdDistributionSetStore
	actions  *EtcdActionStore
	statuses *EtcdActionStatusStore
	rollouts *EtcdRolloutStore
	groups   *EtcdRolloutGroupStore
	tenants  *EtcdTenantStore
	events   *EtcdEventLogStore
}

// NewEtcdStore dials the etcd cluster at endpoints and returns a ready
// EtcdStore. The caller must call Close when finished.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	return NewEtcdStoreFromClient(client), nil
}

// NewEtcdStoreFromClient wraps an existing client.
func NewEtcdStoreFromClient(client *clientv3.Client) *EtcdStore {
	return &EtcdStore{
		client:   client,
		targets:  &EtcdTargetStore{client: client},
		distSets: &EtcdDistributionSetStore{client: client},
		actions:  &EtcdActionStore{client: client},
		statuses: &EtcdActionStatusStore{client: client},
		rollouts: &EtcdRolloutStore{client: client},
		groups:   &EtcdRolloutGroupStore{client: client},
		tenants:  &EtcdTenantStore{client: client},
		events:   &EtcdEventLogStore{client: client},
	}
}

func (s *EtcdStore) Targets() TargetStore                   { return s.targets }
func (s *EtcdStore) DistributionSets() DistributionSetStore { return s.distSets }
func (s *EtcdStore) Actions() ActionStore                   { return s.actions }
func (s *EtcdStore) ActionStatuses() ActionStatusStore      { return s.statuses }
func (s *EtcdStore) Rollouts() RolloutStore                 { return s.rollouts }
func (s *EtcdStore) RolloutGroups() RolloutGroupStore       { return s.groups }
func (s *EtcdStore) Tenants() TenantStore                   { return s.tenants }
func (s *EtcdStore) Events() EventLogStore                  { return s.events }

// Close releases the underlying etcd client connection.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// etcdPut serialises v as JSON and writes it to the given key.
func etcdPut(ctx context.Context, client *clientv3.Client, k string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := client.Put(ctx, k, string(data)); err != nil {
		return fmt.Errorf("etcd put %q: %w", k, err)
	}
	return nil
}

// etcdGet retrieves the value at key k and deserialises it into v. It
// returns the key's ModRevision, or 0 if the key does not exist.
func etcdGet(ctx context.Context, client *clientv3.Client, k string, v any) (int64, error) {
	resp, err := client.Get(ctx, k)
	if err != nil {
		return 0, fmt.Errorf("etcd get %q: %w", k, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	if err := json.Unmarshal(resp.Kvs[0].Value, v); err != nil {
		return 0, fmt.Errorf("unmarshal %q: %w", k, err)
	}
	return resp.Kvs[0].ModRevision, nil
}

// etcdList retrieves all values with the given prefix, in key order.
func etcdList[T any](ctx context.Context, client *clientv3.Client, pfx string) ([]T, error) {
	resp, err := client.Get(ctx, pfx, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd list %q: %w", pfx, err)
	}
	out := make([]T, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var item T
		if err := json.Unmarshal(kv.Value, &item); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", string(kv.Key), err)
		}
		out = append(out, item)
	}
	return out, nil
}

// etcdCreateIfNotExists atomically writes value v at key k only if k does
// not already exist. It reports false if the key is present.
func etcdCreateIfNotExists(ctx context.Context, client *clientv3.Client, k string, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}
	txn := client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), "=", 0)).
		Then(clientv3.OpPut(k, string(data)))
	resp, err := txn.Commit()
	if err != nil {
		return false, fmt.Errorf("etcd txn create %q: %w", k, err)
	}
	return resp.Succeeded, nil
}

// etcdCreate sets the revision to 1 and creates the record.
func etcdCreate[T any](ctx context.Context, client *clientv3.Client, k, kind, id string, v *T, rev func(*T) *int64) error {
	*rev(v) = 1
	ok, err := etcdCreateIfNotExists(ctx, client, k, v)
	if err != nil {
		return err
	}
	if !ok {
		return model.AlreadyExists(kind, id)
	}
	return nil
}

// etcdUpdate writes v if its revision matches the stored record and the key
// was not modified since it was read.
func etcdUpdate[T any](ctx context.Context, client *clientv3.Client, k, kind, id string, v *T, rev func(*T) *int64) error {
	var cur T
	modRev, err := etcdGet(ctx, client, k, &cur)
	if err != nil {
		return err
	}
	if modRev == 0 {
		return model.NotFound(kind, id)
	}
	if *rev(&cur) != *rev(v) {
		return model.Conflict(kind, id)
	}
	*rev(v)++
	data, err := json.Marshal(v)
	if err != nil {
		*rev(v)--
		return fmt.Errorf("marshal: %w", err)
	}
	resp, err := client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(k), "=", modRev)).
		Then(clientv3.OpPut(k, string(data))).
		Commit()
	if err != nil {
		*rev(v)--
		return fmt.Errorf("etcd txn update %q: %w", k, err)
	}
	if !resp.Succeeded {
		*rev(v)--
		return model.Conflict(kind, id)
	}
	return nil
}

// etcdGetRecord loads the record at k or returns a NotFoundError.
func etcdGetRecord[T any](ctx context.Context, client *clientv3.Client, k, kind, id string) (*T, error) {
	var v T
	modRev, err := etcdGet(ctx, client, k, &v)
	if err != nil {
		return nil, err
	}
	if modRev == 0 {
		return nil, model.NotFound(kind, id)
	}
	return &v, nil
}

// etcdDelete removes key k. Returns a NotFoundError if the key is not present.
func etcdDelete(ctx context.Context, client *clientv3.Client, k, kind, id string) error {
	resp, err := client.Delete(ctx, k)
	if err != nil {
		return fmt.Errorf("etcd delete %q: %w", k, err)
	}
	if resp.Deleted == 0 {
		return model.NotFound(kind, id)
	}
	return nil
}

func etcdDeletePrefix(ctx context.Context, client *clientv3.Client, pfx string) error {
	if _, err := client.Delete(ctx, pfx, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("etcd delete %q: %w", pfx, err)
	}
	return nil
}

func revTarget(t *model.Target) *int64            { return &t.Revision }
func revDistSet(ds *model.DistributionSet) *int64 { return &ds.Revision }
func revAction(a *model.Action) *int64            { return &a.Revision }
func revRollout(r *model.Rollout) *int64          { return &r.Revision }
func revGroup(g *model.RolloutGroup) *int64       { return &g.Revision }
func revTenant(t *model.Tenant) *int64            { return &t.Revision }

// ---------------------------------------------------------------------------
// EtcdTargetStore
// ---------------------------------------------------------------------------

// EtcdTargetStore implements TargetStore against etcd.
type EtcdTargetStore struct {
	client *clientv3.Client
}

// List returns a page of the tenant's targets ordered by id.
func (s *EtcdTargetStore) List(ctx context.Context, tenant string, page model.Page) ([]model.Target, error) {
	return s.FindByFilter(ctx, tenant, nil, page)
}

// FindByFilter returns a page of the tenant's targets matching pred.
func (s *EtcdTargetStore) FindByFilter(ctx context.Context, tenant string, pred TargetPredicate, page model.Page) ([]model.Target, error) {
	all, err := etcdList[model.Target](ctx, s.client, prefix(tenant, kindTargets))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for i := range all {
		if pred == nil || pred(&all[i]) {
			out = append(out, all[i])
		}
	}
	sortTargets(out)
	return paginate(out, page), nil
}

// Count returns the number of targets of the tenant.
func (s *EtcdTargetStore) Count(ctx context.Context, tenant string) (int, error) {
	resp, err := s.client.Get(ctx, prefix(tenant, kindTargets), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("etcd count targets: %w", err)
	}
	return int(resp.Count), nil
}

// Get returns the Target with the given id.
func (s *EtcdTargetStore) Get(ctx context.Context, tenant, id string) (*model.Target, error) {
	return etcdGetRecord[model.Target](ctx, s.client, key(tenant, kindTargets, id), "target", id)
}

// Create writes a new Target record.
func (s *EtcdTargetStore) Create(ctx context.Context, tenant string, target *model.Target) error {
	return etcdCreate(ctx, s.client, key(tenant, kindTargets, target.ID), "target", target.ID, target, revTarget)
}

// Update overwrites an existing Target record if its revision is current.
func (s *EtcdTargetStore) Update(ctx context.Context, tenant string, target *model.Target) error {
	return etcdUpdate(ctx, s.client, key(tenant, kindTargets, target.ID), "target", target.ID, target, revTarget)
}

// Delete removes the Target record with the given id.
func (s *EtcdTargetStore) Delete(ctx context.Context, tenant, id string) error {
	return etcdDelete(ctx, s.client, key(tenant, kindTargets, id), "target", id)
}

// ---------------------------------------------------------------------------
// EtcdDistributionSetStore
// ---------------------------------------------------------------------------

// EtcdDistributionSetStore implements DistributionSetStore against etcd.
type EtcdDistributionSetStore struct {
	client *clientv3.Client
}

// List returns a page of the tenant's distribution sets ordered by name.
func (s *EtcdDistributionSetStore) List(ctx context.Context, tenant string, page model.Page) ([]model.DistributionSet, error) {
	all, err := etcdList[model.DistributionSet](ctx, s.client, prefix(tenant, kindDistSets))
	if err != nil {
		return nil, err
	}
	sortByName(all, func(ds *model.DistributionSet) string { return ds.Name + "\x00" + ds.Version + "\x00" + ds.ID })
	return paginate(all, page), nil
}

// Get returns the DistributionSet with the given id.
func (s *EtcdDistributionSetStore) Get(ctx context.Context, tenant, id string) (*model.DistributionSet, error) {
	return etcdGetRecord[model.DistributionSet](ctx, s.client, key(tenant, kindDistSets, id), "distribution set", id)
}

// Create writes a new DistributionSet record.
func (s *EtcdDistributionSetStore) Create(ctx context.Context, tenant string, ds *model.DistributionSet) error {
	return etcdCreate(ctx, s.client, key(tenant, kindDistSets, ds.ID), "distribution set", ds.ID, ds, revDistSet)
}

// Update overwrites an existing DistributionSet record.
func (s *EtcdDistributionSetStore) Update(ctx context.Context, tenant string, ds *model.DistributionSet) error {
	return etcdUpdate(ctx, s.client, key(tenant, kindDistSets, ds.ID), "distribution set", ds.ID, ds, revDistSet)
}

// Delete removes the DistributionSet record with the given id.
func (s *EtcdDistributionSetStore) Delete(ctx context.Context, tenant, id string) error {
	return etcdDelete(ctx, s.client, key(tenant, kindDistSets, id), "distribution set", id)
}

// ---------------------------------------------------------------------------
// EtcdActionStore
// ---------------------------------------------------------------------------

// EtcdActionStore implements ActionStore against etcd. Queries scan the
// tenant's action prefix.
type EtcdActionStore struct {
	client *clientv3.Client
}

func (s *EtcdActionStore) find(ctx context.Context, tenant string, q ActionQuery) ([]model.Action, error) {
	all, err := etcdList[model.Action](ctx, s.client, prefix(tenant, kindActions))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for i := range all {
		if q.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	sortActions(out)
	return out, nil
}

// Get returns the Action with the given id.
func (s *EtcdActionStore) Get(ctx context.Context, tenant, id string) (*model.Action, error) {
	return etcdGetRecord[model.Action](ctx, s.client, key(tenant, kindActions, id), "action", id)
}

// Find returns a page of actions matching q.
func (s *EtcdActionStore) Find(ctx context.Context, tenant string, q ActionQuery, page model.Page) ([]model.Action, error) {
	out, err := s.find(ctx, tenant, q)
	if err != nil {
		return nil, err
	}
	return paginate(out, page), nil
}

// Count returns the number of actions matching q.
func (s *EtcdActionStore) Count(ctx context.Context, tenant string, q ActionQuery) (int, error) {
	out, err := s.find(ctx, tenant, q)
	return len(out), err
}

// CountByStatus returns the number of actions matching q per status.
func (s *EtcdActionStore) CountByStatus(ctx context.Context, tenant string, q ActionQuery) (map[model.ActionStatusCode]int, error) {
	out, err := s.find(ctx, tenant, q)
	if err != nil {
		return nil, err
	}
	counts := make(map[model.ActionStatusCode]int)
	for _, a := range out {
		counts[a.Status]++
	}
	return counts, nil
}

// Create writes a new Action record.
func (s *EtcdActionStore) Create(ctx context.Context, tenant string, action *model.Action) error {
	return etcdCreate(ctx, s.client, key(tenant, kindActions, action.ID), "action", action.ID, action, revAction)
}

// Update overwrites an existing Action record if its revision is current.
func (s *EtcdActionStore) Update(ctx context.Context, tenant string, action *model.Action) error {
	return etcdUpdate(ctx, s.client, key(tenant, kindActions, action.ID), "action", action.ID, action, revAction)
}

// UpdateStatusForIDs moves each listed action still inactive and in status
// from to status to. Every write is guarded by the revision that was read,
// so an action another writer changed meanwhile is re-read and re-checked.
func (s *EtcdActionStore) UpdateStatusForIDs(ctx context.Context, tenant string, ids []string, from, to model.ActionStatusCode) ([]string, error) {
	var changed []string
	for _, id := range ids {
		updated := false
		err := RetryOnConflict(ctx, DefaultMaxAttempts, func(ctx context.Context) error {
			updated = false
			a, err := s.Get(ctx, tenant, id)
			if err != nil {
				if isNotFound(err) {
					return nil
				}
				return err
			}
			if a.Active || a.Status != from {
				return nil
			}
			a.Status = to
			if err := s.Update(ctx, tenant, a); err != nil {
				return err
			}
			updated = true
			return nil
		})
		if err != nil {
			return changed, err
		}
		if updated {
			changed = append(changed, id)
		}
	}
	return changed, nil
}

// Delete removes an action and its status history.
func (s *EtcdActionStore) Delete(ctx context.Context, tenant, id string) error {
	if err := etcdDelete(ctx, s.client, key(tenant, kindActions, id), "action", id); err != nil {
		return err
	}
	return etcdDeletePrefix(ctx, s.client, key(tenant, kindStatuses, id)+"/")
}

// DeleteByTarget removes every action of the target and its history.
func (s *EtcdActionStore) DeleteByTarget(ctx context.Context, tenant, targetID string) (int, error) {
	actions, err := s.find(ctx, tenant, ActionQuery{TargetID: targetID})
	if err != nil {
		return 0, err
	}
	for _, a := range actions {
		if err := s.Delete(ctx, tenant, a.ID); err != nil && !isNotFound(err) {
			return 0, err
		}
	}
	return len(actions), nil
}

// ---------------------------------------------------------------------------
// EtcdActionStatusStore
// ---------------------------------------------------------------------------

// EtcdActionStatusStore implements ActionStatusStore against etcd.
type EtcdActionStatusStore struct {
	client *clientv3.Client
}

// Append stores a status entry under a time-ordered key.
func (s *EtcdActionStatusStore) Append(ctx context.Context, tenant string, status *model.ActionStatus) error {
	k := key(tenant, kindStatuses, status.ActionID) + "/" + sortableKey(status.OccurredAt, status.ID)
	return etcdPut(ctx, s.client, k, status)
}

// List returns the history of an action in occurrence order.
func (s *EtcdActionStatusStore) List(ctx context.Context, tenant, actionID string) ([]model.ActionStatus, error) {
	return etcdList[model.ActionStatus](ctx, s.client, key(tenant, kindStatuses, actionID)+"/")
}

// ---------------------------------------------------------------------------
// EtcdRolloutStore
// ---------------------------------------------------------------------------

// EtcdRolloutStore implements RolloutStore against etcd. A name index key
// is written in the same transaction as the rollout to keep names unique.
type EtcdRolloutStore struct {
	client *clientv3.Client
}

// List returns the tenant's rollouts, optionally filtered by status.
func (s *EtcdRolloutStore) List(ctx context.Context, tenant string, statuses ...model.RolloutStatus) ([]model.Rollout, error) {
	all, err := etcdList[model.Rollout](ctx, s.client, prefix(tenant, kindRollouts))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if len(statuses) == 0 || slices.Contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	sortByName(out, func(r *model.Rollout) string { return r.Name })
	return out, nil
}

// Get returns the Rollout with the given id.
func (s *EtcdRolloutStore) Get(ctx context.Context, tenant, id string) (*model.Rollout, error) {
	return etcdGetRecord[model.Rollout](ctx, s.client, key(tenant, kindRollouts, id), "rollout", id)
}

// GetByName resolves the name index and returns the Rollout.
func (s *EtcdRolloutStore) GetByName(ctx context.Context, tenant, name string) (*model.Rollout, error) {
	resp, err := s.client.Get(ctx, key(tenant, kindRolloutNames, name))
	if err != nil {
		return nil, fmt.Errorf("etcd get rollout name %q: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, model.NotFound("rollout", name)
	}
	return s.Get(ctx, tenant, string(resp.Kvs[0].Value))
}

// Create writes the rollout and its name index atomically.
func (s *EtcdRolloutStore) Create(ctx context.Context, tenant string, rollout *model.Rollout) error {
	rollout.Revision = 1
	data, err := json.Marshal(rollout)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	k := key(tenant, kindRollouts, rollout.ID)
	nk := key(tenant, kindRolloutNames, rollout.Name)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), "=", 0), clientv3.Compare(clientv3.Version(nk), "=", 0)).
		Then(clientv3.OpPut(k, string(data)), clientv3.OpPut(nk, rollout.ID)).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd txn create rollout %q: %w", rollout.Name, err)
	}
	if !resp.Succeeded {
		return model.AlreadyExists("rollout", rollout.Name)
	}
	return nil
}

// Update overwrites an existing Rollout record if its revision is current.
// Names are immutable after creation.
func (s *EtcdRolloutStore) Update(ctx context.Context, tenant string, rollout *model.Rollout) error {
	return etcdUpdate(ctx, s.client, key(tenant, kindRollouts, rollout.ID), "rollout", rollout.ID, rollout, revRollout)
}

// Delete removes the rollout and its name index.
func (s *EtcdRolloutStore) Delete(ctx context.Context, tenant, id string) error {
	r, err := s.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	_, err = s.client.Txn(ctx).
		Then(clientv3.OpDelete(key(tenant, kindRollouts, id)), clientv3.OpDelete(key(tenant, kindRolloutNames, r.Name))).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd delete rollout %q: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// EtcdRolloutGroupStore
// ---------------------------------------------------------------------------

// EtcdRolloutGroupStore implements RolloutGroupStore against etcd. Each
// membership is an empty key /members/<group>/<target>.
type EtcdRolloutGroupStore struct {
	client *clientv3.Client
}

// ListByRollout returns the groups of a rollout ordered by index.
func (s *EtcdRolloutGroupStore) ListByRollout(ctx context.Context, tenant, rolloutID string) ([]model.RolloutGroup, error) {
	all, err := etcdList[model.RolloutGroup](ctx, s.client, prefix(tenant, kindGroups))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if g.RolloutID == rolloutID {
			out = append(out, g)
		}
	}
	sortGroups(out)
	return out, nil
}

// Get returns the RolloutGroup with the given id.
func (s *EtcdRolloutGroupStore) Get(ctx context.Context, tenant, id string) (*model.RolloutGroup, error) {
	return etcdGetRecord[model.RolloutGroup](ctx, s.client, key(tenant, kindGroups, id), "rollout group", id)
}

// Create writes a new RolloutGroup record.
func (s *EtcdRolloutGroupStore) Create(ctx context.Context, tenant string, group *model.RolloutGroup) error {
	return etcdCreate(ctx, s.client, key(tenant, kindGroups, group.ID), "rollout group", group.ID, group, revGroup)
}

// Update overwrites an existing RolloutGroup record if its revision is current.
func (s *EtcdRolloutGroupStore) Update(ctx context.Context, tenant string, group *model.RolloutGroup) error {
	return etcdUpdate(ctx, s.client, key(tenant, kindGroups, group.ID), "rollout group", group.ID, group, revGroup)
}

// DeleteByRollout removes the groups of a rollout and their memberships.
func (s *EtcdRolloutGroupStore) DeleteByRollout(ctx context.Context, tenant, rolloutID string) error {
	groups, err := s.ListByRollout(ctx, tenant, rolloutID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := etcdDeletePrefix(ctx, s.client, key(tenant, kindMembers, g.ID)+"/"); err != nil {
			return err
		}
		if err := etcdDelete(ctx, s.client, key(tenant, kindGroups, g.ID), "rollout group", g.ID); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

// maxTxnOps bounds the number of puts per membership transaction.
const maxTxnOps = 128

// AddTargets writes membership keys in bounded transactions.
func (s *EtcdRolloutGroupStore) AddTargets(ctx context.Context, tenant, groupID string, targetIDs []string) error {
	if _, err := s.Get(ctx, tenant, groupID); err != nil {
		return err
	}
	for chunk := range slices.Chunk(targetIDs, maxTxnOps) {
		ops := make([]clientv3.Op, 0, len(chunk))
		for _, id := range chunk {
			ops = append(ops, clientv3.OpPut(key(tenant, kindMembers, groupID)+"/"+id, ""))
		}
		if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
			return fmt.Errorf("etcd add members to %q: %w", groupID, err)
		}
	}
	return nil
}

// Targets returns a page of member target ids ordered by id.
func (s *EtcdRolloutGroupStore) Targets(ctx context.Context, tenant, groupID string, page model.Page) ([]string, error) {
	pfx := key(tenant, kindMembers, groupID) + "/"
	resp, err := s.client.Get(ctx, pfx, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("etcd list members of %q: %w", groupID, err)
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Key)[len(pfx):])
	}
	return paginate(out, page), nil
}

// CountTargets returns the number of members of a group.
func (s *EtcdRolloutGroupStore) CountTargets(ctx context.Context, tenant, groupID string) (int, error) {
	resp, err := s.client.Get(ctx, key(tenant, kindMembers, groupID)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("etcd count members of %q: %w", groupID, err)
	}
	return int(resp.Count), nil
}

// RemoveTarget deletes the target's membership keys in every group.
func (s *EtcdRolloutGroupStore) RemoveTarget(ctx context.Context, tenant, targetID string) error {
	pfx := prefix(tenant, kindMembers)
	resp, err := s.client.Get(ctx, pfx, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return fmt.Errorf("etcd list members: %w", err)
	}
	suffix := "/" + targetID
	for _, kv := range resp.Kvs {
		k := string(kv.Key)
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			if _, err := s.client.Delete(ctx, k); err != nil {
				return fmt.Errorf("etcd delete member %q: %w", k, err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// EtcdTenantStore
// ---------------------------------------------------------------------------

// EtcdTenantStore implements TenantStore against etcd.
type EtcdTenantStore struct {
	client *clientv3.Client
}

// List returns all tenants ordered by id.
func (s *EtcdTenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	return etcdList[model.Tenant](ctx, s.client, tenantPrefix)
}

// Get returns the Tenant with the given id.
func (s *EtcdTenantStore) Get(ctx context.Context, id string) (*model.Tenant, error) {
	return etcdGetRecord[model.Tenant](ctx, s.client, tenantKey(id), "tenant", id)
}

// Create writes a new Tenant record.
func (s *EtcdTenantStore) Create(ctx context.Context, tenant *model.Tenant) error {
	return etcdCreate(ctx, s.client, tenantKey(tenant.ID), "tenant", tenant.ID, tenant, revTenant)
}

// Update overwrites an existing Tenant record if its revision is current.
func (s *EtcdTenantStore) Update(ctx context.Context, tenant *model.Tenant) error {
	return etcdUpdate(ctx, s.client, tenantKey(tenant.ID), "tenant", tenant.ID, tenant, revTenant)
}

// Delete removes the Tenant record with the given id.
func (s *EtcdTenantStore) Delete(ctx context.Context, id string) error {
	return etcdDelete(ctx, s.client, tenantKey(id), "tenant", id)
}

// ---------------------------------------------------------------------------
// EtcdEventLogStore
// ---------------------------------------------------------------------------

// EtcdEventLogStore implements EventLogStore against etcd.
type EtcdEventLogStore struct {
	client *clientv3.Client
}

// Append stores the event under a time-ordered key.
func (s *EtcdEventLogStore) Append(ctx context.Context, event *model.Event) error {
	return etcdPut(ctx, s.client, key(event.TenantID, kindEvents, sortableKey(event.CreatedAt, event.ID)), event)
}

// List returns the newest events of a tenant first.
func (s *EtcdEventLogStore) List(ctx context.Context, tenant string, limit int) ([]model.Event, error) {
	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortDescend),
	}
	if limit > 0 {
		opts = append(opts, clientv3.WithLimit(int64(limit)))
	}
	resp, err := s.client.Get(ctx, prefix(tenant, kindEvents), opts...)
	if err != nil {
		return nil, fmt.Errorf("etcd list events: %w", err)
	}
	out := make([]model.Event, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var e model.Event
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", string(kv.Key), err)
		}
		out = append(out, e)
	}
	return out, nil
}
