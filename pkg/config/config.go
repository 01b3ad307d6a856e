// Package config loads the rollout-cloud server configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/pkg/store"
)

// Environment variables that override the file.
const (
	EnvStoreType     = "ROLLOUT_STORE_TYPE"
	EnvEtcdEndpoints = "ROLLOUT_ETCD_ENDPOINTS"
	EnvNATSURL       = "ROLLOUT_NATS_URL"
	EnvPostgresDSN   = "ROLLOUT_POSTGRES_DSN"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreEtcd   = "etcd"
)

// Config is the server configuration.
type Config struct {
	Listen        string           `yaml:"listen"`
	BatchSize     int              `yaml:"batch_size"`
	Store         StoreConfig      `yaml:"store"`
	Controller    ControllerConfig `yaml:"controller"`
	Events        EventsConfig     `yaml:"events"`
	Log           LogConfig        `yaml:"log"`
	APIKeys       []APIKey         `yaml:"api_keys"`
	DefaultTenant TenantConfig     `yaml:"default_tenant"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type          string   `yaml:"type"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// ControllerConfig tunes the rollout control loop.
type ControllerConfig struct {
	Schedule           string        `yaml:"schedule"`
	DelayBetweenChecks time.Duration `yaml:"delay_between_checks"`
	Workers            int           `yaml:"workers"`
}

// EventsConfig enables the optional event sinks. Events are always kept in
// the store's event log.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	NATSPrefix    string `yaml:"nats_prefix"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
}

// APIKey grants a bearer token a role. A key bound to a tenant only ever
// sees that tenant; an unbound key picks the tenant per request.
type APIKey struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Role        string `yaml:"role"`
	Tenant      string `yaml:"tenant"`
}

// TenantConfig describes the tenant created at startup when missing.
type TenantConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Plan             string `yaml:"plan"`
	MultiAssignment  bool   `yaml:"multi_assignment"`
	AutoCloseActions bool   `yaml:"auto_close_actions"`
}

// Tenant returns the tenant record described by c.
func (c TenantConfig) Tenant() *model.Tenant {
	return &model.Tenant{
		ID:   c.ID,
		Name: c.Name,
		Plan: c.Plan,
		Settings: model.TenantSettings{
			MultiAssignment:  c.MultiAssignment,
			AutoCloseActions: c.AutoCloseActions,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		BatchSize: store.DefaultBatchSize,
		Store: StoreConfig{
			Type:          StoreMemory,
			EtcdEndpoints: []string{"http://localhost:2379"},
		},
		Controller: ControllerConfig{
			Schedule:           "@every 10s",
			DelayBetweenChecks: 5 * time.Second,
			Workers:            4,
		},
		Events: EventsConfig{
			NATSPrefix:    "rollout.events",
			PostgresTable: "rollout_events",
		},
		Log: LogConfig{Level: "info"},
		DefaultTenant: TenantConfig{
			ID:   "default",
			Name: "Default",
			Plan: "starter",
		},
	}
}

// LoadFile reads path on top of the defaults. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment as seen through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStoreType); ok && v != "" {
		c.Store.Type = v
	}
	if v, ok := lookup(EnvEtcdEndpoints); ok && v != "" {
		c.Store.EtcdEndpoints = splitList(v)
	}
	if v, ok := lookup(EnvNATSURL); ok {
		c.Events.NATSURL = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok {
		c.Events.PostgresDSN = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreEtcd:
		if len(c.Store.EtcdEndpoints) == 0 {
			return fmt.Errorf("store: etcd needs at least one endpoint")
		}
	default:
		return fmt.Errorf("store: unsupported type %q (supported: memory, etcd)", c.Store.Type)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Controller.DelayBetweenChecks < 0 {
		return fmt.Errorf("controller: delay_between_checks must not be negative")
	}
	for i, k := range c.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api_keys[%d]: key is required", i)
		}
		switch k.Role {
		case "viewer", "operator", "admin":
		default:
			return fmt.Errorf("api_keys[%d]: unknown role %q", i, k.Role)
		}
	}
	return nil
}

// Load builds the configuration from args: it reads the file named by
// --config, applies the process environment, then every flag that was set.
func Load(name string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to the YAML configuration file")
	listen := fs.String("listen", "", "HTTP listen address")
	storeType := fs.String("store-type", "", "state store backend: memory or etcd")
	endpoints := fs.StringSlice("etcd-endpoints", nil, "etcd endpoints")
	schedule := fs.String("schedule", "", "control loop schedule, e.g. \"@every 10s\"")
	delay := fs.Duration("delay-between-checks", 0, "minimum time between two checks of a running rollout")
	batch := fs.Int("batch-size", 0, "bulk operation batch size")
	dev := fs.Bool("dev", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadFile(*path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "store-type":
			cfg.Store.Type = *storeType
		case "etcd-endpoints":
			cfg.Store.EtcdEndpoints = *endpoints
		case "schedule":
			cfg.Controller.Schedule = *schedule
		case "delay-between-checks":
			cfg.Controller.DelayBetweenChecks = *delay
		case "batch-size":
			cfg.BatchSize = *batch
		case "dev":
			cfg.Log.Development = *dev
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
