package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X github.com/strand-protocol/strand/rollout-cloud/rolloutctl/cmd.rolloutctlVersion=x.y.z"
var rolloutctlVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show rolloutctl and API server versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "rolloutctl version %s\n", rolloutctlVersion)

		apiVersion, err := client.Version(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get API version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API server: %s\n", apiVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
