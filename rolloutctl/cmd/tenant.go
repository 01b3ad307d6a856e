package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

var tenantCmd = &cobra.Command{
	Use:     "tenant",
	Aliases: []string{"tenants"},
	Short:   "Manage tenants and inspect their quota usage",
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants visible to the current API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenants, err := client.ListTenants(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
		render(cmd.OutOrStdout(), tenantTable(tenants))
		return nil
	},
}

var tenantDescribeCmd = &cobra.Command{
	Use:   "describe <tenant-id>",
	Short: "Show a tenant",
	Args:  validateArgs("tenant-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := client.GetTenant(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to describe tenant: %w", err)
		}
		render(cmd.OutOrStdout(), t)
		return nil
	},
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant-id>",
	Short: "Create a tenant on a plan",
	Args:  validateArgs("tenant-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		plan, _ := cmd.Flags().GetString("plan")
		multi, _ := cmd.Flags().GetBool("multi-assignment")
		autoClose, _ := cmd.Flags().GetBool("auto-close")
		t := &model.Tenant{
			ID:       args[0],
			Name:     name,
			Plan:     plan,
			Settings: model.TenantSettings{MultiAssignment: multi, AutoCloseActions: autoClose},
		}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would create tenant %q on plan %q\n", t.ID, t.Plan)
			return nil
		}
		created, err := client.CreateTenant(cmd.Context(), t)
		if err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
		render(cmd.OutOrStdout(), created)
		return nil
	},
}

var tenantUsageCmd = &cobra.Command{
	Use:   "usage <tenant-id>",
	Short: "Show what a tenant consumes against its plan limits",
	Args:  validateArgs("tenant-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := client.TenantUsage(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get tenant usage: %w", err)
		}
		render(cmd.OutOrStdout(), u)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the newest lifecycle events of the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := client.ListEvents(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		render(cmd.OutOrStdout(), eventTable(events))
		return nil
	},
}

func init() {
	tenantCreateCmd.Flags().String("name", "", "display name")
	tenantCreateCmd.Flags().String("plan", "starter", "quota plan")
	tenantCreateCmd.Flags().Bool("multi-assignment", false, "allow several open actions per target")
	tenantCreateCmd.Flags().Bool("auto-close", false, "close open actions when a new one is assigned")
	eventsCmd.Flags().Int("limit", 50, "maximum number of events")

	tenantCmd.AddCommand(tenantListCmd, tenantDescribeCmd, tenantCreateCmd, tenantUsageCmd)
	rootCmd.AddCommand(tenantCmd, eventsCmd)
}
