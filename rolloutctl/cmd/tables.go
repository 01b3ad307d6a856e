package cmd

import (
	"fmt"
	"strconv"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/output"
)

// Table views for the table formatter. JSON and YAML output marshal the
// underlying slices unchanged.

type targetTable []model.Target

func (t targetTable) Header() []string {
	return []string{"ID", "NAME", "STATUS", "ASSIGNED", "INSTALLED", "LAST CONTACT", "ATTRIBUTES"}
}

func (t targetTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			x.ID, output.Cell(x.Name), string(x.UpdateStatus), output.Cell(x.AssignedDS),
			output.Cell(x.InstalledDS), output.Cell(x.LastContact), output.Cell(x.Attributes),
		})
	}
	return rows
}

type distSetTable []model.DistributionSet

func (t distSetTable) Header() []string {
	return []string{"ID", "NAME", "VERSION", "MODULES", "COMPLETE", "LOCKED", "DELETED"}
}

func (t distSetTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			x.ID, x.Name, x.Version, strconv.Itoa(len(x.Modules)),
			strconv.FormatBool(x.Complete), strconv.FormatBool(x.Locked), strconv.FormatBool(x.Deleted),
		})
	}
	return rows
}

type actionTable []model.Action

func (t actionTable) Header() []string {
	return []string{"ID", "TARGET", "DISTRIBUTION SET", "TYPE", "STATUS", "ACTIVE", "ROLLOUT", "INITIATED BY"}
}

func (t actionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			x.ID, x.TargetID, x.DistributionSetID, string(x.Type), string(x.Status),
			strconv.FormatBool(x.Active), output.Cell(x.RolloutID), output.Cell(x.InitiatedBy),
		})
	}
	return rows
}

type historyTable []model.ActionStatus

func (t historyTable) Header() []string { return []string{"TIME", "STATUS", "MESSAGES"} }

func (t historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{output.Cell(x.OccurredAt), string(x.Status), output.Cell(x.Messages)})
	}
	return rows
}

type rolloutTable []model.Rollout

func (t rolloutTable) Header() []string {
	return []string{"ID", "NAME", "STATUS", "DISTRIBUTION SET", "FILTER", "TYPE", "TARGETS"}
}

func (t rolloutTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			x.ID, x.Name, string(x.Status), x.DistributionSetID, x.TargetFilter,
			string(x.ActionType), strconv.Itoa(x.TotalTargets),
		})
	}
	return rows
}

type groupTable []model.RolloutGroup

func (t groupTable) Header() []string {
	return []string{"#", "ID", "NAME", "STATUS", "PERCENT", "TARGETS", "SUCCESS", "ERROR"}
}

func (t groupTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		errCond := "-"
		if c := x.Conditions.Error; c != nil {
			errCond = fmt.Sprintf("%g%% -> %s", c.Threshold, c.Action)
		}
		rows = append(rows, []string{
			strconv.Itoa(x.Index + 1), x.ID, x.Name, string(x.Status),
			fmt.Sprintf("%g", x.TargetPercentage), strconv.Itoa(x.TotalTargets),
			fmt.Sprintf("%g%% -> %s", x.Conditions.Success.Threshold, x.Conditions.Success.Action),
			errCond,
		})
	}
	return rows
}

type tenantTable []model.Tenant

func (t tenantTable) Header() []string {
	return []string{"ID", "NAME", "PLAN", "MULTI ASSIGNMENT", "AUTO CLOSE", "CREATED"}
}

func (t tenantTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			x.ID, output.Cell(x.Name), x.Plan, strconv.FormatBool(x.Settings.MultiAssignment),
			strconv.FormatBool(x.Settings.AutoCloseActions), output.Cell(x.CreatedAt),
		})
	}
	return rows
}

type eventTable []model.Event

func (t eventTable) Header() []string { return []string{"TIME", "TYPE", "RESOURCE", "MESSAGE"} }

func (t eventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, x := range t {
		rows = append(rows, []string{
			output.Cell(x.CreatedAt), x.Type, x.ResourceType + "/" + x.ResourceID, output.Cell(x.Message),
		})
	}
	return rows
}
