// rollout-cloud is the deployment and rollout control plane server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/apiserver"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/config"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/controller"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/deploy"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/events"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/observability"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/rollout"
	storepkg "github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

func main() {
	cfg, err := config.Load("rollout-cloud", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollout-cloud: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollout-cloud: logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("rollout-cloud stopped", zap.Error(err))
	}
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// --- State store ---
	s, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	// --- Event sinks ---
	sinks := events.Multi{events.NewLogSink(s.Events())}
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if cfg.Events.NATSURL != "" {
		ns, err := events.DialNATS(cfg.Events.NATSURL, cfg.Events.NATSPrefix)
		if err != nil {
			return err
		}
		closers = append(closers, ns)
		sinks = append(sinks, ns)
		logger.Info("publishing events to NATS", zap.String("url", cfg.Events.NATSURL))
	}
	if cfg.Events.PostgresDSN != "" {
		db, err := events.OpenPostgres(ctx, cfg.Events.PostgresDSN)
		if err != nil {
			return err
		}
		closers = append(closers, db)
		ps := events.NewPostgresSink(db, cfg.Events.PostgresTable)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, ps)
		logger.Info("writing events to postgres", zap.String("table", cfg.Events.PostgresTable))
	}

	// --- Engine and rollout scheduler ---
	metrics := observability.NewMetrics()
	emitter := events.NewEmitter(sinks, nil, logger)
	engine := deploy.New(s, deploy.Options{
		BatchSize: cfg.BatchSize,
		Logger:    logger,
		Events:    emitter,
		Metrics:   metrics,
	})
	scheduler := rollout.New(s, engine, rollout.Options{
		BatchSize: cfg.BatchSize,
		Logger:    logger,
		Events:    emitter,
		Metrics:   metrics,
	})
	if err := ensureTenant(ctx, s, cfg.DefaultTenant.Tenant()); err != nil {
		return err
	}

	// --- Rollout controller ---
	ctrl, err := controller.New(s.Tenants(), scheduler, controller.Options{
		Schedule: cfg.Controller.Schedule,
		Delay:    cfg.Controller.DelayBetweenChecks,
		Workers:  cfg.Controller.Workers,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// --- API server ---
	opts := apiserver.DefaultServerOptions()
	opts.DefaultTenant = cfg.DefaultTenant.ID
	opts.Metrics = metrics
	opts.Logger = logger
	if len(cfg.APIKeys) > 0 {
		opts.APIKeys = make(map[string]apiserver.APIKeyInfo, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			opts.APIKeys[k.Key] = apiserver.APIKeyInfo{
				Description: k.Description,
				Role:        apiserver.ParseRole(k.Role),
				Tenant:      k.Tenant,
			}
		}
	} else {
		logger.Warn("no api keys configured, authentication is disabled")
	}
	srv := apiserver.NewServer(engine, scheduler, opts)

	logger.Info("starting rollout-cloud",
		zap.String("store", cfg.Store.Type),
		zap.String("schedule", cfg.Controller.Schedule),
		zap.Duration("delay_between_checks", cfg.Controller.DelayBetweenChecks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.GracefulShutdown(shutCtx)
	})
	return g.Wait()
}

func openStore(c config.StoreConfig, logger *zap.Logger) (storepkg.Store, error) {
	switch c.Type {
	case config.StoreEtcd:
		s, err := storepkg.NewEtcdStore(c.EtcdEndpoints)
		if err != nil {
			return nil, fmt.Errorf("connect to etcd %v: %w", c.EtcdEndpoints, err)
		}
		logger.Info("connected to etcd", zap.Strings("endpoints", c.EtcdEndpoints))
		return s, nil
	default:
		return storepkg.NewMemoryStore(), nil
	}
}

// ensureTenant creates t unless it already exists.
func ensureTenant(ctx context.Context, s storepkg.Store, t *model.Tenant) error {
	if t.ID == "" {
		return nil
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	err := s.Tenants().Create(ctx, t)
	if errors.Is(err, model.ErrEntityAlreadyExists) {
		return nil
	}
	return err
}
