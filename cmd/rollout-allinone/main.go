// rollout-allinone starts the rollout-cloud API server, the rollout
// controller and a fleet of simulated devices in a single process. Intended
// for development and demonstration.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/agent"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/apiserver"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/controller"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/observability"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

const demoTenant = "default"

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	devices := pflag.Int("devices", 20, "number of simulated devices")
	failureRate := pflag.Float64("failure-rate", 0.05, "probability that a simulated update fails")
	pollInterval := pflag.Duration("poll-interval", 2*time.Second, "device poll interval")
	schedule := pflag.String("schedule", "@every 2s", "rollout control loop schedule")
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollout-allinone: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- State store (always in-memory for all-in-one) ---
	s := store.NewMemoryStore()
	metrics := observability.NewMetrics()
	emitter := events.NewEmitter(events.NewLogSink(s.Events()), nil, logger)
	engine := deploy.New(s, deploy.Options{Logger: logger, Events: emitter, Metrics: metrics})
	scheduler := rollout.New(s, engine, rollout.Options{Logger: logger, Events: emitter, Metrics: metrics})
	if err := seed(ctx, s, engine); err != nil {
		logger.Fatal("seed demo data", zap.Error(err))
	}

	// --- Rollout controller ---
	ctrl, err := controller.New(s.Tenants(), scheduler, controller.Options{
		Schedule: *schedule,
		Delay:    time.Second,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("controller", zap.Error(err))
	}

	// --- API server ---
	opts := apiserver.DefaultServerOptions()
	opts.Metrics = metrics
	opts.Logger = logger
	opts.RequestsPerSecond = 1000
	opts.Burst = 1000
	srv := apiserver.NewServer(engine, scheduler, opts)

	// --- Simulated fleet ---
	serverURL := "http://127.0.0.1" + *addr
	fleet := make([]*agent.DeviceAgent, *devices)
	for i := range fleet {
		fleet[i] = agent.NewDeviceAgent(fmt.Sprintf("dev-%03d", i+1), serverURL, agent.Options{
			FailureRate: *failureRate,
			Seed:        uint64(i + 1),
			Logger:      logger,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ctrl.Start(gctx)
		return nil
	})
	g.Go(func() error {
		// Give the server a moment to start before the devices register.
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(200 * time.Millisecond):
		}
		return agent.RunFleet(gctx, fleet, func(i int) map[string]string {
			return map[string]string{
				"hw":     []string{"v1", "v2"}[i%2],
				"region": []string{"eu", "us", "ap"}[i%3],
			}
		}, *pollInterval)
	})
	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.GracefulShutdown(shutCtx)
	})

	logger.Info("rollout-allinone running",
		zap.String("addr", *addr), zap.Int("devices", *devices), zap.String("schedule", *schedule))
	if err := g.Wait(); err != nil {
		logger.Fatal("rollout-allinone stopped", zap.Error(err))
	}
}

// seed creates the demo tenant and two distribution sets.
func seed(ctx context.Context, s store.Store, engine *deploy.Engine) error {
	now := time.Now().UTC()
	if err := s.Tenants().Create(ctx, &model.Tenant{
		ID: demoTenant, Name: "Default", Plan: "pro", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return err
	}
	for _, v := range []string{"1.0", "1.1"} {
		ds := &model.DistributionSet{
			ID:      "firmware-" + v,
			Name:    "firmware",
			Version: v,
			Modules: []model.SoftwareModule{
				{Type: "os", Name: "rootfs", Version: v, Mandatory: true},
				{Type: "app", Name: "agent", Version: v},
			},
		}
		if err := engine.CreateDistributionSet(ctx, demoTenant, ds); err != nil {
			return err
		}
	}
	return nil
}
