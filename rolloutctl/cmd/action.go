package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

var actionCmd = &cobra.Command{
	Use:     "action",
	Aliases: []string{"actions"},
	Short:   "Inspect and steer deployment actions",
}

var actionDescribeCmd = &cobra.Command{
	Use:   "describe <action-id>",
	Short: "Show an action",
	Args:  validateArgs("action-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := client.GetAction(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to describe action: %w", err)
		}
		render(cmd.OutOrStdout(), a)
		return nil
	},
}

var actionHistoryCmd = &cobra.Command{
	Use:   "history <action-id>",
	Short: "Show the status reports of an action",
	Args:  validateArgs("action-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client.ActionHistory(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get action history: %w", err)
		}
		render(cmd.OutOrStdout(), historyTable(h))
		return nil
	},
}

var actionCancelCmd = &cobra.Command{
	Use:   "cancel <action-id>",
	Short: "Request cancellation; the device confirms it",
	Args:  validateArgs("action-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return steer(cmd, args[0], "cancel", client.CancelAction)
	},
}

var actionForceQuitCmd = &cobra.Command{
	Use:   "forcequit <action-id>",
	Short: "Close a canceling action without waiting for the device",
	Args:  validateArgs("action-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dryRun && !confirm(cmd, fmt.Sprintf("Force quit action %q? The device is not asked.", args[0])) {
			return nil
		}
		return steer(cmd, args[0], "force quit", client.ForceQuitAction)
	},
}

var actionForceCmd = &cobra.Command{
	Use:   "force <action-id>",
	Short: "Turn a soft or time-forced action into a forced one",
	Args:  validateArgs("action-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return steer(cmd, args[0], "force", client.ForceAction)
	},
}

// steer applies one of the action operations and prints the result.
func steer(cmd *cobra.Command, id, verb string, fn func(context.Context, string) (*model.Action, error)) error {
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would %s action %q\n", verb, id)
		return nil
	}
	a, err := fn(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to %s action: %w", verb, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Action %q is %s.\n", a.ID, a.Status)
	return nil
}

func init() {
	actionCmd.AddCommand(actionDescribeCmd, actionHistoryCmd, actionCancelCmd, actionForceQuitCmd, actionForceCmd)
	rootCmd.AddCommand(actionCmd)
}
