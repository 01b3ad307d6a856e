package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/output"
)

var rolloutCmd = &cobra.Command{
	Use:     "rollout",
	Aliases: []string{"rollouts", "ro"},
	Short:   "Manage phased rollouts",
	Long: `Create and drive rollouts: a distribution set deployed to the targets
matching a filter, group by group, each group started once the previous
one met its success condition.`,
}

var rolloutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rollouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		rollouts, err := client.ListRollouts(cmd.Context(), statuses...)
		if err != nil {
			return fmt.Errorf("failed to list rollouts: %w", err)
		}
		render(cmd.OutOrStdout(), rolloutTable(rollouts))
		return nil
	},
}

// rolloutDescription is the table view of a single rollout.
type rolloutDescription struct {
	*api.RolloutDetail
	Groups []model.RolloutGroup `json:"groups"`
}

var rolloutDescribeCmd = &cobra.Command{
	Use:   "describe <rollout-id>",
	Short: "Show a rollout with its groups and per-status target counts",
	Args:  validateArgs("rollout-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, err := client.GetRollout(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to describe rollout: %w", err)
		}
		groups, err := client.ListRolloutGroups(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list rollout groups: %w", err)
		}
		w := cmd.OutOrStdout()
		if _, table := formatter.(*output.TableFormatter); !table {
			render(w, rolloutDescription{RolloutDetail: detail, Groups: groups})
			return nil
		}
		c := detail.TotalTargetsPerStatus
		fmt.Fprintf(w, "ID:\t\t%s\nName:\t\t%s\nStatus:\t\t%s\nDistribution:\t%s\nFilter:\t\t%s\nAction type:\t%s\n",
			detail.ID, detail.Name, detail.Status, detail.DistributionSetID, detail.TargetFilter, detail.ActionType)
		fmt.Fprintf(w, "Targets:\t%d (running %d, scheduled %d, finished %d, error %d, canceled %d, not started %d)\n\n",
			c.Total, c.Running, c.Scheduled, c.Finished, c.Error, c.Canceled, c.NotStarted)
		render(w, groupTable(groups))
		return nil
	},
}

var rolloutCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a rollout",
	Long: `Create a rollout from flags or from a YAML/JSON definition file (-f).
Groups are either --groups N equal slices, or explicit --group entries of
the form percent[:filter], evaluated in order.`,
	Example: `  rolloutctl rollout create fw-1.1 --ds firmware-1.1 --filter 'attribute.region==eu' --groups 4
  rolloutctl rollout create fw-1.1 --ds firmware-1.1 --filter 'name==*' --group 10 --group 50 --group 100 --error-threshold 20
  rolloutctl rollout create -f rollout.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := createRequestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would create rollout %q for %q\n", req.Name, req.DistributionSetID)
			return nil
		}
		created, err := client.CreateRollout(cmd.Context(), *req)
		if err != nil {
			return fmt.Errorf("failed to create rollout: %w", err)
		}
		render(cmd.OutOrStdout(), created)
		return nil
	},
}

func createRequestFromFlags(cmd *cobra.Command, args []string) (*rollout.CreateRequest, error) {
	req := &rollout.CreateRequest{}
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		if err := readDefinition(file, req); err != nil {
			return nil, err
		}
	}
	if len(args) == 1 {
		req.Name = args[0]
	}
	if req.Name == "" {
		return nil, fmt.Errorf("rollout name is required")
	}
	flags := cmd.Flags()
	if flags.Changed("ds") {
		req.DistributionSetID, _ = flags.GetString("ds")
	}
	if flags.Changed("filter") {
		req.TargetFilter, _ = flags.GetString("filter")
	}
	if flags.Changed("description") {
		req.Description, _ = flags.GetString("description")
	}
	if flags.Changed("type") {
		typ, _ := flags.GetString("type")
		req.ActionType = model.ActionType(strings.ToUpper(typ))
	}
	if flags.Changed("start-at") {
		v, _ := flags.GetString("start-at")
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid --start-at: %w", err)
		}
		req.StartAt = &t
	}
	if flags.Changed("groups") {
		req.Groups, _ = flags.GetInt("groups")
	}
	if flags.Changed("group") {
		specs, _ := flags.GetStringArray("group")
		req.GroupDefinitions = req.GroupDefinitions[:0]
		for i, s := range specs {
			g, err := parseGroup(s)
			if err != nil {
				return nil, err
			}
			g.Name = fmt.Sprintf("group-%d", i+1)
			req.GroupDefinitions = append(req.GroupDefinitions, g)
		}
	}
	if flags.Changed("success-threshold") || flags.Changed("error-threshold") {
		cond := model.DefaultGroupConditions()
		if req.Conditions != nil {
			cond = *req.Conditions
		}
		if flags.Changed("success-threshold") {
			cond.Success.Threshold, _ = flags.GetFloat64("success-threshold")
		}
		if flags.Changed("error-threshold") {
			v, _ := flags.GetFloat64("error-threshold")
			action, _ := flags.GetString("error-action")
			cond.Error = &model.Condition{
				Type:      model.ConditionThreshold,
				Threshold: v,
				Action:    model.GroupAction(strings.ToUpper(action)),
			}
		}
		req.Conditions = &cond
	}
	if err := api.ValidateID(req.DistributionSetID); err != nil {
		return nil, fmt.Errorf("invalid distribution set: %w", err)
	}
	return req, nil
}

// readDefinition loads a rollout definition. YAML keys are the API's JSON
// field names.
func readDefinition(path string, req *rollout.CreateRequest) error {
	path, err := api.ValidateFilePath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(j, req); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// parseGroup reads percent[:filter].
func parseGroup(s string) (rollout.GroupDefinition, error) {
	pct, filter, _ := strings.Cut(s, ":")
	v, err := strconv.ParseFloat(strings.TrimSuffix(pct, "%"), 64)
	if err != nil || v <= 0 || v > 100 {
		return rollout.GroupDefinition{}, fmt.Errorf("group %q must be percent[:filter] with 0 < percent <= 100", s)
	}
	return rollout.GroupDefinition{TargetPercentage: v, TargetFilter: filter}, nil
}

// transitionCmd builds the start, pause, resume and stop commands.
func transitionCmd(op api.Transition, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " <rollout-id>",
		Short: short,
		Args:  validateArgs("rollout-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would %s rollout %q\n", op, args[0])
				return nil
			}
			if op == api.TransitionStop && !confirm(cmd, fmt.Sprintf("Stop rollout %q? Unstarted groups are abandoned.", args[0])) {
				return nil
			}
			r, err := client.TransitionRollout(cmd.Context(), args[0], op)
			if err != nil {
				return fmt.Errorf("failed to %s rollout: %w", op, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rollout %q is %s.\n", r.ID, r.Status)
			return nil
		},
	}
}

// approvalCmd builds the approve and deny commands.
func approvalCmd(approved bool) *cobra.Command {
	verb, short := "approve", "Approve a rollout WAITING_FOR_APPROVAL"
	if !approved {
		verb, short = "deny", "Deny a rollout WAITING_FOR_APPROVAL"
	}
	cmd := &cobra.Command{
		Use:   verb + " <rollout-id>",
		Short: short,
		Args:  validateArgs("rollout-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would %s rollout %q\n", verb, args[0])
				return nil
			}
			remark, _ := cmd.Flags().GetString("remark")
			r, err := client.ApproveRollout(cmd.Context(), args[0], approved, remark)
			if err != nil {
				return fmt.Errorf("failed to %s rollout: %w", verb, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rollout %q is %s.\n", r.ID, r.Status)
			return nil
		},
	}
	cmd.Flags().String("remark", "", "note stored with the decision")
	return cmd
}

var rolloutDeleteCmd = &cobra.Command{
	Use:   "delete <rollout-id>",
	Short: "Delete a rollout",
	Args:  validateArgs("rollout-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would delete rollout %q\n", args[0])
			return nil
		}
		if !confirm(cmd, fmt.Sprintf("Delete rollout %q?", args[0])) {
			return nil
		}
		if err := client.DeleteRollout(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete rollout: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rollout %q scheduled for deletion.\n", args[0])
		return nil
	},
}

var rolloutGroupsCmd = &cobra.Command{
	Use:   "groups <rollout-id>",
	Short: "List the groups of a rollout",
	Args:  validateArgs("rollout-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, err := client.ListRolloutGroups(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list rollout groups: %w", err)
		}
		render(cmd.OutOrStdout(), groupTable(groups))
		return nil
	},
}

func init() {
	rolloutListCmd.Flags().StringSlice("status", nil, "only list rollouts in these states")

	f := rolloutCreateCmd.Flags()
	f.StringP("file", "f", "", "rollout definition file (YAML or JSON)")
	f.String("ds", "", "distribution set to deploy")
	f.String("filter", "", "target filter query")
	f.String("description", "", "free-form description")
	f.String("type", string(model.ActionForced), "action type: FORCED, SOFT, TIMEFORCED or DOWNLOAD_ONLY")
	f.String("start-at", "", "RFC 3339 time at which the rollout starts by itself")
	f.Int("groups", 0, "split the targets into this many equal groups")
	f.StringArray("group", nil, "explicit group as percent[:filter] (repeatable)")
	f.Float64("success-threshold", 100, "percent of finished targets before the next group starts")
	f.Float64("error-threshold", 0, "percent of failed targets that triggers the error action")
	f.String("error-action", string(model.GroupActionPause), "action on error threshold")

	rolloutCmd.AddCommand(
		rolloutListCmd,
		rolloutDescribeCmd,
		rolloutCreateCmd,
		approvalCmd(true),
		approvalCmd(false),
		transitionCmd(api.TransitionStart, "Start a READY rollout"),
		transitionCmd(api.TransitionPause, "Pause a RUNNING rollout"),
		transitionCmd(api.TransitionResume, "Resume a PAUSED rollout"),
		transitionCmd(api.TransitionStop, "Stop a rollout and cancel its open actions"),
		rolloutDeleteCmd,
		rolloutGroupsCmd,
	)
	rootCmd.AddCommand(rolloutCmd)
}
