package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
)

var assignCmd = &cobra.Command{
	Use:   "assign <ds-id> <target-id>...",
	Short: "Assign a distribution set to targets",
	Long: `Assign a distribution set to one or more targets. Each target gets a new
action; targets that already have the set assigned are counted but left
alone. With --offline the assignment records an install that already
happened and closes the action immediately.`,
	Example: `  rolloutctl assign firmware-1.1 dev-001 dev-002 --type SOFT
  rolloutctl assign firmware-1.1 dev-003 --type TIMEFORCED --forced-at 2026-11-01T02:00:00Z
  rolloutctl assign firmware-1.0 dev-004 --offline`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := api.ValidateID(id); err != nil {
				return err
			}
		}
		typ, _ := cmd.Flags().GetString("type")
		forcedAt, _ := cmd.Flags().GetString("forced-at")
		weight, _ := cmd.Flags().GetInt("weight")
		offline, _ := cmd.Flags().GetBool("offline")

		tmpl := deploy.AssignRequest{DistributionSetID: args[0], Type: model.ActionType(strings.ToUpper(typ))}
		if !tmpl.Type.Valid() {
			return fmt.Errorf("invalid action type %q (FORCED, SOFT, TIMEFORCED, DOWNLOAD_ONLY)", typ)
		}
		if forcedAt != "" {
			t, err := time.Parse(time.RFC3339, forcedAt)
			if err != nil {
				return fmt.Errorf("invalid --forced-at: %w", err)
			}
			tmpl.ForcedTime = &t
		}
		if cmd.Flags().Changed("weight") {
			tmpl.Weight = &weight
		}

		reqs := make([]deploy.AssignRequest, 0, len(args)-1)
		for _, target := range args[1:] {
			r := tmpl
			r.TargetID = target
			reqs = append(reqs, r)
		}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would assign %q to %d target(s)\n", args[0], len(reqs))
			return nil
		}
		res, err := client.Assign(cmd.Context(), reqs, offline)
		if err != nil {
			return fmt.Errorf("failed to assign: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Assigned %d of %d target(s), %d already assigned.\n",
			res.Assigned, res.Total, res.AlreadyAssigned)
		if len(res.AssignedActions) > 0 {
			render(cmd.OutOrStdout(), actionTable(res.AssignedActions))
		}
		return nil
	},
}

func init() {
	assignCmd.Flags().String("type", string(model.ActionForced), "action type: FORCED, SOFT, TIMEFORCED or DOWNLOAD_ONLY")
	assignCmd.Flags().String("forced-at", "", "RFC 3339 time after which a TIMEFORCED action is forced")
	assignCmd.Flags().Int("weight", 0, "action weight (0-1000)")
	assignCmd.Flags().Bool("offline", false, "record an install that already happened")
	rootCmd.AddCommand(assignCmd)
}
