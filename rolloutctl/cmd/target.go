package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
)

var targetCmd = &cobra.Command{
	Use:     "target",
	Aliases: []string{"targets"},
	Short:   "Manage targets",
	Long:    "Register, inspect, search and remove the devices that receive updates.",
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets, optionally narrowed by a filter query",
	Example: `  rolloutctl target list
  rolloutctl target list --filter 'attribute.hw==v2;updatestatus==PENDING'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("filter")
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		targets, err := client.ListTargets(cmd.Context(), query, model.Page{Offset: offset, Limit: limit})
		if err != nil {
			return fmt.Errorf("failed to list targets: %w", err)
		}
		render(cmd.OutOrStdout(), targetTable(targets))
		return nil
	},
}

var targetDescribeCmd = &cobra.Command{
	Use:   "describe <target-id>",
	Short: "Show detailed info for a target",
	Args:  validateArgs("target-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := client.GetTarget(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to describe target: %w", err)
		}
		render(cmd.OutOrStdout(), target)
		return nil
	},
}

var targetCreateCmd = &cobra.Command{
	Use:     "create <target-id>",
	Short:   "Register a target",
	Example: `  rolloutctl target create dev-001 --name gateway-1 --attr hw=v2 --attr region=eu`,
	Args:    validateArgs("target-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		desc, _ := cmd.Flags().GetString("description")
		pairs, _ := cmd.Flags().GetStringArray("attr")
		attrs, err := api.ParseAttributes(pairs)
		if err != nil {
			return err
		}
		t := &model.Target{ID: args[0], Name: name, Description: desc, Attributes: attrs}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would create target %q\n", t.ID)
			return nil
		}
		created, err := client.CreateTarget(cmd.Context(), t)
		if err != nil {
			return fmt.Errorf("failed to create target: %w", err)
		}
		render(cmd.OutOrStdout(), created)
		return nil
	},
}

var targetDeleteCmd = &cobra.Command{
	Use:   "delete <target-id>",
	Short: "Delete a target and its actions",
	Args:  validateArgs("target-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would delete target %q\n", args[0])
			return nil
		}
		if !confirm(cmd, fmt.Sprintf("Delete target %q? Its action history is removed too.", args[0])) {
			return nil
		}
		if err := client.DeleteTarget(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete target: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Target %q deleted.\n", args[0])
		return nil
	},
}

var targetActionsCmd = &cobra.Command{
	Use:   "actions <target-id>",
	Short: "List the actions of a target",
	Args:  validateArgs("target-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _ := cmd.Flags().GetBool("active")
		actions, err := client.TargetActions(cmd.Context(), args[0], active)
		if err != nil {
			return fmt.Errorf("failed to list actions: %w", err)
		}
		render(cmd.OutOrStdout(), actionTable(actions))
		return nil
	},
}

func init() {
	targetListCmd.Flags().String("filter", "", "target filter query")
	targetListCmd.Flags().Int("offset", 0, "number of targets to skip")
	targetListCmd.Flags().Int("limit", 100, "maximum number of targets to return")
	targetCreateCmd.Flags().String("name", "", "display name")
	targetCreateCmd.Flags().String("description", "", "free-form description")
	targetCreateCmd.Flags().StringArray("attr", nil, "attribute as key=value (repeatable)")
	targetActionsCmd.Flags().Bool("active", false, "only list open actions")

	targetCmd.AddCommand(targetListCmd, targetDescribeCmd, targetCreateCmd, targetDeleteCmd, targetActionsCmd)
	rootCmd.AddCommand(targetCmd)
}
