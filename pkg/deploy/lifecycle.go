package deploy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// AddStatus applies a status reported for an action and appends it to the
// action's history. Reports are always accepted for known actions:
//
//   - on a CANCELING action, CANCELED or FINISHED confirms the cancellation
//     and ERROR rejects it (the action resumes RUNNING);
//   - on an active action, FINISHED and ERROR close it, as does DOWNLOADED
//     for a DOWNLOAD_ONLY action; other values replace the status;
//   - on an inactive action, the report is only recorded.
//
// The target's update status and installed set follow the action.
func (e *Engine) AddStatus(ctx context.Context, tenant, actionID string, status model.ActionStatusCode, messages ...string) (*model.Action, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, model.ErrInvalidActionStatus)
	}
	before, err := e.store.Actions().Get(ctx, tenant, actionID)
	if err != nil {
		return nil, err
	}
	if err := e.appendStatus(ctx, tenant, actionID, status, messages...); err != nil {
		return nil, err
	}
	e.metrics.StatusReported(string(status))
	if !before.Active {
		return before, nil
	}

	var outcome reportOutcome
	action, err := e.updateAction(ctx, tenant, actionID, func(a *model.Action) error {
		outcome = applyReport(a, status)
		if outcome == outcomeNone {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return e.store.Actions().Get(ctx, tenant, actionID)
	}
	if err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("tenant", tenant), zap.String("action", actionID), zap.String("target", action.TargetID))
	switch outcome {
	case outcomeCanceled:
		log.Info("cancellation confirmed")
		e.emit(ctx, tenant, events.ActionCanceled, events.ResourceAction, actionID, "", nil)
		err = e.settleTarget(ctx, tenant, action.TargetID)
	case outcomeCancelRejected:
		log.Info("cancellation rejected by device")
		e.emit(ctx, tenant, events.ActionUpdated, events.ResourceAction, actionID, "cancellation rejected",
			map[string]string{"status": string(action.Status)})
	case outcomeFinished:
		log.Info("action finished")
		e.emit(ctx, tenant, events.ActionUpdated, events.ResourceAction, actionID, "", map[string]string{"status": string(status)})
		err = e.finishTarget(ctx, tenant, action)
	case outcomeDownloaded:
		e.emit(ctx, tenant, events.ActionUpdated, events.ResourceAction, actionID, "", map[string]string{"status": string(status)})
		err = e.downloadedTarget(ctx, tenant, action.TargetID)
	case outcomeError:
		log.Warn("action failed", zap.Strings("messages", messages))
		e.emit(ctx, tenant, events.ActionUpdated, events.ResourceAction, actionID, "", map[string]string{"status": string(status)})
		err = e.failTarget(ctx, tenant, action.TargetID)
	case outcomeProgress:
		e.emit(ctx, tenant, events.ActionUpdated, events.ResourceAction, actionID, "", map[string]string{"status": string(status)})
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}

type reportOutcome int

const (
	outcomeNone reportOutcome = iota
	outcomeProgress
	outcomeCanceled
	outcomeCancelRejected
	outcomeFinished
	outcomeDownloaded
	outcomeError
)

// applyReport moves an active action according to a device report.
func applyReport(a *model.Action, status model.ActionStatusCode) reportOutcome {
	if !a.Active {
		return outcomeNone
	}
	if a.Status == model.StatusCanceling {
		switch status {
		case model.StatusCanceled, model.StatusFinished:
			a.Status = model.StatusCanceled
			a.Active = false
			return outcomeCanceled
		case model.StatusError:
			a.Status = model.StatusRunning
			return outcomeCancelRejected
		}
		return outcomeNone
	}
	switch status {
	case model.StatusFinished:
		a.Status = status
		a.Active = false
		return outcomeFinished
	case model.StatusError:
		a.Status = status
		a.Active = false
		return outcomeError
	case model.StatusCanceled:
		a.Status = status
		a.Active = false
		return outcomeCanceled
	case model.StatusDownloaded:
		a.Status = status
		if a.Type == model.ActionDownloadOnly {
			a.Active = false
			return outcomeDownloaded
		}
		return outcomeProgress
	case model.StatusCanceling, model.StatusScheduled:
		// Only the server moves actions into these states.
		return outcomeNone
	}
	if a.Status == status {
		return outcomeNone
	}
	a.Status = status
	return outcomeProgress
}

// Cancel requests cancellation of an active action. A SCHEDULED action is
// canceled at once; any other one moves to CANCELING and stays active
// until the device confirms or the action is force-quit.
func (e *Engine) Cancel(ctx context.Context, tenant, actionID, initiatedBy string) (*model.Action, error) {
	var immediate, wasActive bool
	action, err := e.updateAction(ctx, tenant, actionID, func(a *model.Action) error {
		if a.Status == model.StatusScheduled {
			immediate, wasActive = true, a.Active
			a.Status = model.StatusCanceled
			a.Active = false
			return nil
		}
		if !a.Active || a.IsCancelingOrCanceled() {
			return fmt.Errorf("action %q is %s: %w", a.ID, a.Status, model.ErrCancelNotAllowed)
		}
		a.Status = model.StatusCanceling
		return nil
	})
	if err != nil {
		return nil, err
	}
	if immediate {
		if err := e.appendStatus(ctx, tenant, actionID, model.StatusCanceled, "canceled before start by "+initiatedBy); err != nil {
			return nil, err
		}
		e.emit(ctx, tenant, events.ActionCanceled, events.ResourceAction, actionID, "", nil)
		if wasActive {
			if err := e.settleTarget(ctx, tenant, action.TargetID); err != nil {
				return nil, err
			}
		}
		return action, nil
	}
	if err := e.appendStatus(ctx, tenant, actionID, model.StatusCanceling, "cancellation requested by "+initiatedBy); err != nil {
		return nil, err
	}
	e.emit(ctx, tenant, events.ActionCancelRequest, events.ResourceAction, actionID, "", nil)
	return action, nil
}

// ForceQuit closes a CANCELING action without waiting for the device.
func (e *Engine) ForceQuit(ctx context.Context, tenant, actionID, initiatedBy string) (*model.Action, error) {
	action, err := e.updateAction(ctx, tenant, actionID, func(a *model.Action) error {
		if a.Status != model.StatusCanceling {
			return fmt.Errorf("action %q is %s: %w", a.ID, a.Status, model.ErrForceQuitNotAllowed)
		}
		a.Status = model.StatusCanceled
		a.Active = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.appendStatus(ctx, tenant, actionID, model.StatusCanceled, "force quit by "+initiatedBy); err != nil {
		return nil, err
	}
	e.logger.Info("action force quit", zap.String("tenant", tenant), zap.String("action", actionID))
	e.emit(ctx, tenant, events.ActionCanceled, events.ResourceAction, actionID, "force quit", nil)
	if err := e.settleTarget(ctx, tenant, action.TargetID); err != nil {
		return nil, err
	}
	return action, nil
}

// ForceTargetAction switches a SOFT or TIMEFORCED action to FORCED.
func (e *Engine) ForceTargetAction(ctx context.Context, tenant, actionID string) (*model.Action, error) {
	action, err := e.updateAction(ctx, tenant, actionID, func(a *model.Action) error {
		switch a.Type {
		case model.ActionDownloadOnly:
			return fmt.Errorf("action %q is %s: %w", a.ID, a.Type, model.ErrActionTypeNotChangeable)
		case model.ActionForced:
			return errUnchanged
		}
		a.Type = model.ActionForced
		a.ForcedTime = nil
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return e.store.Actions().Get(ctx, tenant, actionID)
	}
	if err != nil {
		return nil, err
	}
	e.emit(ctx, tenant, events.ActionForced, events.ResourceAction, actionID, "", nil)
	return action, nil
}

// Poll records device contact and returns the target's active actions in
// the order the device should process them.
func (e *Engine) Poll(ctx context.Context, tenant, targetID string) ([]model.Action, error) {
	now := e.now()
	if _, err := e.updateTarget(ctx, tenant, targetID, func(t *model.Target) bool {
		t.LastContact = &now
		if t.UpdateStatus == model.TargetUnknown || t.UpdateStatus == "" {
			t.UpdateStatus = model.TargetRegistered
		}
		return true
	}); err != nil {
		return nil, err
	}
	actions, err := e.activeActions(ctx, tenant, targetID)
	if err != nil {
		return nil, err
	}
	sortByWeight(actions)
	return actions, nil
}

// GetAction returns one action.
func (e *Engine) GetAction(ctx context.Context, tenant, actionID string) (*model.Action, error) {
	return e.store.Actions().Get(ctx, tenant, actionID)
}

// History returns the status log of an action, oldest first.
func (e *Engine) History(ctx context.Context, tenant, actionID string) ([]model.ActionStatus, error) {
	if _, err := e.store.Actions().Get(ctx, tenant, actionID); err != nil {
		return nil, err
	}
	return e.store.ActionStatuses().List(ctx, tenant, actionID)
}

// finishTarget records a successful installation.
func (e *Engine) finishTarget(ctx context.Context, tenant string, action *model.Action) error {
	remaining, err := e.activeActions(ctx, tenant, action.TargetID)
	if err != nil {
		return err
	}
	now := e.now()
	_, err = e.updateTarget(ctx, tenant, action.TargetID, func(t *model.Target) bool {
		t.InstalledDS = action.DistributionSetID
		t.InstalledAt = &now
		if len(remaining) == 0 {
			t.UpdateStatus = model.TargetInSync
			t.AssignedDS = action.DistributionSetID
		} else {
			t.UpdateStatus = model.TargetPending
		}
		return true
	})
	return err
}

// downloadedTarget closes a download-only assignment. The installed set is
// left as it was.
func (e *Engine) downloadedTarget(ctx context.Context, tenant, targetID string) error {
	remaining, err := e.activeActions(ctx, tenant, targetID)
	if err != nil {
		return err
	}
	_, err = e.updateTarget(ctx, tenant, targetID, func(t *model.Target) bool {
		if len(remaining) > 0 {
			t.UpdateStatus = model.TargetPending
		} else {
			t.UpdateStatus = model.TargetInSync
		}
		return true
	})
	return err
}

// failTarget marks the target failed unless other actions are still open.
func (e *Engine) failTarget(ctx context.Context, tenant, targetID string) error {
	remaining, err := e.activeActions(ctx, tenant, targetID)
	if err != nil {
		return err
	}
	_, err = e.updateTarget(ctx, tenant, targetID, func(t *model.Target) bool {
		if len(remaining) > 0 {
			t.UpdateStatus = model.TargetPending
		} else {
			t.UpdateStatus = model.TargetError
		}
		return true
	})
	return err
}

// settleTarget recomputes a target after an action closed without an
// installation: the newest open assignment becomes the assigned set, or
// the installed set when nothing is open.
func (e *Engine) settleTarget(ctx context.Context, tenant, targetID string) error {
	remaining, err := e.activeActions(ctx, tenant, targetID)
	if err != nil {
		return err
	}
	_, err = e.updateTarget(ctx, tenant, targetID, func(t *model.Target) bool {
		if next := newestAssignable(remaining); next != nil {
			t.AssignedDS = next.DistributionSetID
			t.UpdateStatus = model.TargetPending
			return true
		}
		t.AssignedDS = t.InstalledDS
		if t.InstalledDS == "" {
			t.UpdateStatus = model.TargetRegistered
		} else {
			t.UpdateStatus = model.TargetInSync
		}
		return true
	})
	if errors.Is(err, model.ErrEntityNotFound) {
		return nil
	}
	return err
}
