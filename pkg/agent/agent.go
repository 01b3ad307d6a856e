// Package agent implements a simulated device that talks to the rollout
// control plane via its REST API: it registers as a target, polls for
// actions and reports their progress.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// Options configures a DeviceAgent. Zero values select defaults.
type Options struct {
	// Token is sent as a Bearer token when set.
	Token string
	// Tenant is sent as X-Tenant-ID when set.
	Tenant string
	// FailureRate is the probability in [0, 1] that an update fails.
	FailureRate float64
	// Seed makes the failure sequence reproducible.
	Seed   uint64
	Client *http.Client
	Logger *zap.Logger
}

// DeviceAgent simulates one device.
type DeviceAgent struct {
	TargetID  string
	ServerURL string

	token       string
	tenant      string
	failureRate float64
	rng         *rand.Rand
	client      *http.Client
	logger      *zap.Logger
}

// StatusError is returned when the server answers with an unexpected
// status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// NewDeviceAgent creates a DeviceAgent for targetID against the given
// control plane URL.
func NewDeviceAgent(targetID, serverURL string, opts Options) *DeviceAgent {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &DeviceAgent{
		TargetID:    targetID,
		ServerURL:   serverURL,
		token:       opts.Token,
		tenant:      opts.Tenant,
		failureRate: opts.FailureRate,
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		client:      opts.Client,
		logger:      opts.Logger.With(zap.String("target", targetID)),
	}
}

// Register creates the target. A target that already exists is not an
// error.
func (a *DeviceAgent) Register(ctx context.Context, attributes map[string]string) error {
	target := model.Target{ID: a.TargetID, Attributes: attributes}
	err := a.do(ctx, http.MethodPost, "/api/v1/targets", target, nil, http.StatusCreated)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("register target: %w", err)
	}
	a.logger.Info("target registered")
	return nil
}

// Poll records contact and returns the actions to work on, in order.
func (a *DeviceAgent) Poll(ctx context.Context) ([]model.Action, error) {
	var actions []model.Action
	if err := a.do(ctx, http.MethodPost, "/api/v1/targets/"+a.TargetID+"/poll", nil, &actions, http.StatusOK); err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return actions, nil
}

// Report sends a status report for an action.
func (a *DeviceAgent) Report(ctx context.Context, actionID string, status model.ActionStatusCode, messages ...string) (*model.Action, error) {
	body := map[string]any{"status": status, "messages": messages}
	var action model.Action
	if err := a.do(ctx, http.MethodPost, "/api/v1/actions/"+actionID+"/status", body, &action, http.StatusOK); err != nil {
		return nil, fmt.Errorf("report %s for action %s: %w", status, actionID, err)
	}
	return &action, nil
}

// Step polls once and works off every returned action: cancellations are
// confirmed, updates are downloaded and installed, failing with the
// configured probability. It returns the number of handled actions.
func (a *DeviceAgent) Step(ctx context.Context) (int, error) {
	actions, err := a.Poll(ctx)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, action := range actions {
		if err := a.apply(ctx, action); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (a *DeviceAgent) apply(ctx context.Context, action model.Action) error {
	switch action.Status {
	case model.StatusCanceling:
		_, err := a.Report(ctx, action.ID, model.StatusCanceled, "cancellation confirmed")
		return err
	case model.StatusScheduled:
		return nil
	}
	if _, err := a.Report(ctx, action.ID, model.StatusRetrieved); err != nil {
		return err
	}
	if _, err := a.Report(ctx, action.ID, model.StatusDownloaded, "artifacts downloaded"); err != nil {
		return err
	}
	if action.Type == model.ActionDownloadOnly {
		return nil
	}
	if _, err := a.Report(ctx, action.ID, model.StatusRunning, "installing"); err != nil {
		return err
	}
	if a.failureRate > 0 && a.rng.Float64() < a.failureRate {
		a.logger.Info("update failed", zap.String("action", action.ID))
		_, err := a.Report(ctx, action.ID, model.StatusError, "installation failed")
		return err
	}
	_, err := a.Report(ctx, action.ID, model.StatusFinished, "installed "+action.DistributionSetID)
	return err
}

// do sends a JSON request and decodes the response into out when the
// status matches want.
func (a *DeviceAgent) do(ctx context.Context, method, path string, in, out any, want int) error {
	body := io.Reader(http.NoBody)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.ServerURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.tenant != "" {
		req.Header.Set("X-Tenant-ID", a.tenant)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
