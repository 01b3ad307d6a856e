package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

var distsetCmd = &cobra.Command{
	Use:     "distset",
	Aliases: []string{"ds", "distributionset"},
	Short:   "Manage distribution sets",
	Long:    "Publish, inspect and retire the software bundles that are assigned to targets.",
}

var distsetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List distribution sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, _ := cmd.Flags().GetBool("deleted")
		sets, err := client.ListDistributionSets(cmd.Context(), deleted)
		if err != nil {
			return fmt.Errorf("failed to list distribution sets: %w", err)
		}
		render(cmd.OutOrStdout(), distSetTable(sets))
		return nil
	},
}

var distsetDescribeCmd = &cobra.Command{
	Use:   "describe <ds-id>",
	Short: "Show a distribution set with its modules",
	Args:  validateArgs("ds-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := client.GetDistributionSet(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to describe distribution set: %w", err)
		}
		render(cmd.OutOrStdout(), ds)
		return nil
	},
}

var distsetCreateCmd = &cobra.Command{
	Use:   "create <ds-id>",
	Short: "Create a distribution set",
	Long: `Create a distribution set. Modules are given as type:name:version; a
trailing "!" marks a module mandatory. A set without mandatory modules is
incomplete and cannot be assigned.`,
	Example: `  rolloutctl distset create firmware-1.1 --name firmware --version 1.1 --module os:base:1.1!`,
	Args:    validateArgs("ds-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		version, _ := cmd.Flags().GetString("version")
		desc, _ := cmd.Flags().GetString("description")
		specs, _ := cmd.Flags().GetStringArray("module")
		modules := make([]model.SoftwareModule, 0, len(specs))
		for _, s := range specs {
			m, err := parseModule(s)
			if err != nil {
				return err
			}
			modules = append(modules, m)
		}
		ds := &model.DistributionSet{ID: args[0], Name: name, Version: version, Description: desc, Modules: modules}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would create distribution set %q with %d module(s)\n", ds.ID, len(modules))
			return nil
		}
		created, err := client.CreateDistributionSet(cmd.Context(), ds)
		if err != nil {
			return fmt.Errorf("failed to create distribution set: %w", err)
		}
		render(cmd.OutOrStdout(), created)
		return nil
	},
}

var distsetDeleteCmd = &cobra.Command{
	Use:   "delete <ds-id>",
	Short: "Delete a distribution set; sets still referenced are only marked deleted",
	Args:  validateArgs("ds-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would delete distribution set %q\n", args[0])
			return nil
		}
		if !confirm(cmd, fmt.Sprintf("Delete distribution set %q?", args[0])) {
			return nil
		}
		if err := client.DeleteDistributionSet(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete distribution set: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Distribution set %q deleted.\n", args[0])
		return nil
	},
}

// parseModule reads type:name:version with an optional trailing "!".
func parseModule(s string) (model.SoftwareModule, error) {
	mandatory := strings.HasSuffix(s, "!")
	parts := strings.Split(strings.TrimSuffix(s, "!"), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return model.SoftwareModule{}, fmt.Errorf("module %q must have the form type:name:version[!]", s)
	}
	return model.SoftwareModule{Type: parts[0], Name: parts[1], Version: parts[2], Mandatory: mandatory}, nil
}

func init() {
	distsetListCmd.Flags().Bool("deleted", false, "include sets marked deleted")
	distsetCreateCmd.Flags().String("name", "", "set name")
	distsetCreateCmd.Flags().String("version", "", "set version")
	distsetCreateCmd.Flags().String("description", "", "free-form description")
	distsetCreateCmd.Flags().StringArray("module", nil, "software module as type:name:version[!] (repeatable)")
	_ = distsetCreateCmd.MarkFlagRequired("name")
	_ = distsetCreateCmd.MarkFlagRequired("version")

	distsetCmd.AddCommand(distsetListCmd, distsetDescribeCmd, distsetCreateCmd, distsetDeleteCmd)
	rootCmd.AddCommand(distsetCmd)
}
