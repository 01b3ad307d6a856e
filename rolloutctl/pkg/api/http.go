package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
)

// HTTPClient implements APIClient against the REST API.
type HTTPClient struct {
	BaseURL string
	Token   string
	Tenant  string
	Client  *http.Client
}

var _ APIClient = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the server at baseURL.
func NewHTTPClient(baseURL, token, tenant string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Tenant:  tenant,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Error is returned for non-2xx responses. Message carries the server's
// error text when the body had one.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

func (c *HTTPClient) ListTargets(ctx context.Context, query string, page model.Page) ([]model.Target, error) {
	v := pageValues(page)
	if query != "" {
		v.Set("q", query)
	}
	var out []model.Target
	return out, c.do(ctx, http.MethodGet, "/api/v1/targets?"+v.Encode(), nil, &out)
}

func (c *HTTPClient) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	var out model.Target
	if err := c.do(ctx, http.MethodGet, "/api/v1/targets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateTarget(ctx context.Context, t *model.Target) (*model.Target, error) {
	var out model.Target
	if err := c.do(ctx, http.MethodPost, "/api/v1/targets", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteTarget(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/targets/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) TargetActions(ctx context.Context, id string, activeOnly bool) ([]model.Action, error) {
	path := "/api/v1/targets/" + url.PathEscape(id) + "/actions"
	if activeOnly {
		path += "?active=true"
	}
	var out []model.Action
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *HTTPClient) ListDistributionSets(ctx context.Context, withDeleted bool) ([]model.DistributionSet, error) {
	path := "/api/v1/distributionsets"
	if withDeleted {
		path += "?deleted=true"
	}
	var out []model.DistributionSet
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *HTTPClient) GetDistributionSet(ctx context.Context, id string) (*model.DistributionSet, error) {
	var out model.DistributionSet
	if err := c.do(ctx, http.MethodGet, "/api/v1/distributionsets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateDistributionSet(ctx context.Context, ds *model.DistributionSet) (*model.DistributionSet, error) {
	var out model.DistributionSet
	if err := c.do(ctx, http.MethodPost, "/api/v1/distributionsets", ds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteDistributionSet(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/distributionsets/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) Assign(ctx context.Context, reqs []deploy.AssignRequest, offline bool) (*deploy.AssignmentResult, error) {
	path := "/api/v1/assignments"
	if offline {
		path += "/offline"
	}
	var out deploy.AssignmentResult
	if err := c.do(ctx, http.MethodPost, path, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetAction(ctx context.Context, id string) (*model.Action, error) {
	return c.action(ctx, http.MethodGet, id, "")
}

func (c *HTTPClient) ActionHistory(ctx context.Context, id string) ([]model.ActionStatus, error) {
	var out []model.ActionStatus
	return out, c.do(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id)+"/history", nil, &out)
}

func (c *HTTPClient) CancelAction(ctx context.Context, id string) (*model.Action, error) {
	return c.action(ctx, http.MethodPost, id, "/cancel")
}

func (c *HTTPClient) ForceQuitAction(ctx context.Context, id string) (*model.Action, error) {
	return c.action(ctx, http.MethodPost, id, "/forcequit")
}

func (c *HTTPClient) ForceAction(ctx context.Context, id string) (*model.Action, error) {
	return c.action(ctx, http.MethodPost, id, "/force")
}

func (c *HTTPClient) action(ctx context.Context, method, id, suffix string) (*model.Action, error) {
	var out model.Action
	if err := c.do(ctx, method, "/api/v1/actions/"+url.PathEscape(id)+suffix, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListRollouts(ctx context.Context, statuses ...string) ([]model.Rollout, error) {
	path := "/api/v1/rollouts"
	if len(statuses) > 0 {
		path += "?" + url.Values{"status": {strings.Join(statuses, ",")}}.Encode()
	}
	var out []model.Rollout
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *HTTPClient) GetRollout(ctx context.Context, id string) (*RolloutDetail, error) {
	var out RolloutDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/rollouts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateRollout(ctx context.Context, req rollout.CreateRequest) (*model.Rollout, error) {
	var out model.Rollout
	if err := c.do(ctx, http.MethodPost, "/api/v1/rollouts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) TransitionRollout(ctx context.Context, id string, op Transition) (*model.Rollout, error) {
	var out model.Rollout
	if err := c.do(ctx, http.MethodPost, "/api/v1/rollouts/"+url.PathEscape(id)+"/"+string(op), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ApproveRollout(ctx context.Context, id string, approved bool, remark string) (*model.Rollout, error) {
	body := map[string]any{"approved": approved, "remark": remark}
	var out model.Rollout
	if err := c.do(ctx, http.MethodPost, "/api/v1/rollouts/"+url.PathEscape(id)+"/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteRollout(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rollouts/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListRolloutGroups(ctx context.Context, id string) ([]model.RolloutGroup, error) {
	var out []model.RolloutGroup
	return out, c.do(ctx, http.MethodGet, "/api/v1/rollouts/"+url.PathEscape(id)+"/groups", nil, &out)
}

func (c *HTTPClient) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	return out, c.do(ctx, http.MethodGet, "/api/v1/tenants", nil, &out)
}

func (c *HTTPClient) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var out model.Tenant
	if err := c.do(ctx, http.MethodGet, "/api/v1/tenants/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateTenant(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	var out model.Tenant
	if err := c.do(ctx, http.MethodPost, "/api/v1/tenants", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) TenantUsage(ctx context.Context, id string) (*TenantUsage, error) {
	var out TenantUsage
	if err := c.do(ctx, http.MethodGet, "/api/v1/tenants/"+url.PathEscape(id)+"/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	path := "/api/v1/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.Event
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *HTTPClient) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func pageValues(p model.Page) url.Values {
	v := url.Values{}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}

// do sends a JSON request and decodes a 2xx response into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	body := io.Reader(http.NoBody)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.Tenant != "" {
		req.Header.Set("X-Tenant-ID", c.Tenant)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(b, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
