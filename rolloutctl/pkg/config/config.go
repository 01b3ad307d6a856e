// Package config loads the rolloutctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the rolloutctl configuration.
type Config struct {
	ServerURL    string `yaml:"server_url" json:"server_url"`
	AuthToken    string `yaml:"auth_token" json:"auth_token"`
	Tenant       string `yaml:"tenant" json:"tenant"`
	OutputFormat string `yaml:"output_format" json:"output_format"`
}

// Environment variables override the file. Flags override both.
const (
	EnvServerURL = "ROLLOUTCTL_SERVER"
	EnvToken     = "ROLLOUTCTL_TOKEN"
	EnvTenant    = "ROLLOUTCTL_TENANT"
)

// DefaultPath returns the default config file path: ~/.rollout/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".rollout", "config.yaml")
	}
	return filepath.Join(home, ".rollout", "config.yaml")
}

// Load reads the configuration from the given YAML file path. A missing
// file yields the defaults. Warnings go to warn, which may be nil.
func Load(path string, warn io.Writer) (*Config, error) {
	cfg := &Config{
		ServerURL:    "http://localhost:8080",
		OutputFormat: "table",
	}
	if warn == nil {
		warn = io.Discard
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg.applyEnv()
		return cfg, nil
	case err != nil:
		return nil, err
	}
	// The file may hold an auth_token.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		fmt.Fprintf(warn,
			"warning: config file %s has permissions %04o, expected 0600. "+
				"Auth tokens may be exposed to other users.\n",
			path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv(EnvTenant); v != "" {
		c.Tenant = v
	}
}
