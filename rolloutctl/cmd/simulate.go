package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/agent"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a fleet of simulated devices against the server",
	Long: `Register N simulated targets and keep them polling until interrupted.
Each device downloads and installs whatever it is assigned and reports
progress; --failure-rate makes a share of the installs fail. Useful to
watch a rollout advance group by group.`,
	Example: `  rolloutctl simulate --devices 50 --prefix sim --attr hw=v2 --failure-rate 0.05`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("devices")
		prefix, _ := cmd.Flags().GetString("prefix")
		interval, _ := cmd.Flags().GetDuration("interval")
		failureRate, _ := cmd.Flags().GetFloat64("failure-rate")
		seed, _ := cmd.Flags().GetUint64("seed")
		pairs, _ := cmd.Flags().GetStringArray("attr")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if n <= 0 {
			return fmt.Errorf("--devices must be positive")
		}
		if failureRate < 0 || failureRate > 1 {
			return fmt.Errorf("--failure-rate must be between 0 and 1")
		}
		if err := api.ValidateID(prefix); err != nil {
			return fmt.Errorf("invalid prefix: %w", err)
		}
		attrs, err := api.ParseAttributes(pairs)
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "(dry-run) would simulate %d devices %s-000..%s-%03d\n", n, prefix, prefix, n-1)
			return nil
		}

		logger := zap.NewNop()
		if verbose {
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}
		defer logger.Sync()

		agents := make([]*agent.DeviceAgent, n)
		for i := range agents {
			agents[i] = agent.NewDeviceAgent(fmt.Sprintf("%s-%03d", prefix, i), cfg.ServerURL, agent.Options{
				Token:       cfg.AuthToken,
				Tenant:      cfg.Tenant,
				FailureRate: failureRate,
				Seed:        seed + uint64(i),
				Logger:      logger,
			})
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Simulating %d devices against %s (poll every %s). Ctrl+C to stop.\n",
			n, cfg.ServerURL, interval)
		err = agent.RunFleet(ctx, agents, func(i int) map[string]string {
			out := make(map[string]string, len(attrs)+1)
			for k, v := range attrs {
				out[k] = v
			}
			out["sim.index"] = fmt.Sprint(i)
			return out
		}, interval)
		if err != nil {
			return fmt.Errorf("simulation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Simulation stopped.")
		return nil
	},
}

func init() {
	f := simulateCmd.Flags()
	f.Int("devices", 10, "number of simulated devices")
	f.String("prefix", "sim", "target ID prefix")
	f.Duration("interval", 2*time.Second, "poll interval per device")
	f.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	f.Float64("failure-rate", 0, "probability that an install fails")
	f.Uint64("seed", 1, "seed for the failure sequence")
	f.StringArray("attr", nil, "attribute as key=value for every device (repeatable)")
	f.BoolP("verbose", "v", false, "log device activity")
	rootCmd.AddCommand(simulateCmd)
}
