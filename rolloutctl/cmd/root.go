package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/config"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/output"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	serverURL    string
	authToken    string
	tenantID     string
	dryRun       bool // --dry-run: print actions without executing them
	yesFlag      bool // --yes: skip confirmation prompts for destructive operations

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	client    api.APIClient
	formatter output.Formatter

	// injected by tests; takes precedence over the HTTP client
	clientOverride    api.APIClient
	formatterOverride output.Formatter
)

// rootCmd is the base command for rolloutctl.
var rootCmd = &cobra.Command{
	Use:   "rolloutctl",
	Short: "Rollout CLI: manage targets, distribution sets, assignments and rollouts",
	Long: `rolloutctl is the operator-facing CLI for the rollout control plane.
It registers targets, publishes distribution sets, assigns them to devices
directly or through phased rollouts, and follows their progress.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path, cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if authToken != "" {
			cfg.AuthToken = authToken
		}
		if tenantID != "" {
			cfg.Tenant = tenantID
		}
		if outputFormat != "" {
			cfg.OutputFormat = outputFormat
		}

		client = clientOverride
		if client == nil {
			client = api.NewHTTPClient(cfg.ServerURL, cfg.AuthToken, cfg.Tenant)
		}
		formatter = formatterOverride
		if formatter == nil {
			formatter = output.NewFormatter(cfg.OutputFormat)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// SetClient allows tests to inject a mock client.
func SetClient(c api.APIClient) {
	clientOverride = c
}

// SetFormatter allows tests to inject a formatter.
func SetFormatter(f output.Formatter) {
	formatterOverride = f
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

// confirm asks a yes/no question on the command's input unless --yes was
// given.
func confirm(cmd *cobra.Command, prompt string) bool {
	if yesFlag {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Scan()
	if strings.ToLower(strings.TrimSpace(scanner.Text())) != "y" {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return false
	}
	return true
}

// render writes v through the configured formatter.
func render(w io.Writer, v any) {
	fmt.Fprint(w, formatter.Format(v))
}

// validateArgs checks every positional argument with api.ValidateID.
func validateArgs(kind string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return err
		}
		if err := api.ValidateID(args[0]); err != nil {
			return fmt.Errorf("invalid %s: %w", kind, err)
		}
		return nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.rollout/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "rollout API server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "API key sent as a Bearer token")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant to act on (X-Tenant-ID)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print actions that would be taken without executing them")
	rootCmd.PersistentFlags().BoolVar(&yesFlag, "yes", false, "skip confirmation prompts for destructive operations")
}
