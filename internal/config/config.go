// Package config provides configuration management for the conformance
// harness.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/spf13/viper"
)

// Config holds the harness configuration.
type Config struct {
	Harness  HarnessConfig   `mapstructure:"harness"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Backends []BackendConfig `mapstructure:"backends"`
}

// HarnessConfig holds run settings.
type HarnessConfig struct {
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	ScenarioTimeout time.Duration `mapstructure:"scenario_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
	Scenario        string        `mapstructure:"scenario"`
	HistoryDB       string        `mapstructure:"history_db"`
	StateDir        string        `mapstructure:"state_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackendConfig describes one backend under test.
type BackendConfig struct {
	Name      string            `mapstructure:"name"`
	Kind      string            `mapstructure:"kind"`
	Command   []string          `mapstructure:"command"`
	Image     string            `mapstructure:"image"`
	Args      []string          `mapstructure:"args"`
	Ports     []string          `mapstructure:"ports"`
	Volumes   []string          `mapstructure:"volumes"`
	Env       map[string]string `mapstructure:"env"`
	Address   string            `mapstructure:"address"`
	AccessKey string            `mapstructure:"access_key"`
	SecretKey string            `mapstructure:"secret_key"`
	Region    string            `mapstructure:"region"`

	// LogLevel is passed through to the backend as its LOG_LEVEL env var.
	LogLevel string `mapstructure:"log_level"`

	ReadinessScheme string `mapstructure:"readiness_scheme"`
	ReadinessPath   string `mapstructure:"readiness_path"`
	ReadinessStatus int    `mapstructure:"readiness_status"`
}

// DefaultConfig returns a Config with default values, including the two
// stock backends: the s3s-fs filesystem gateway run as a process and a MinIO
// server run as a container.
func DefaultConfig() *Config {
	return &Config{
		Harness: HarnessConfig{
			ReadyTimeout:    10 * time.Second,
			ScenarioTimeout: 2 * time.Minute,
			Concurrency:     1,
			Scenario:        "smoke",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Backends: DefaultBackends(),
	}
}

// DefaultBackends returns the stock backend descriptors.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{
			Name: "fs-backend",
			Kind: "process",
			Command: []string{
				"s3s-fs",
				"--access-key", "AKEXAMPLES3S",
				"--secret-key", "SKEXAMPLES3S",
				"--host", "localhost",
				"--port", "8014",
				"--domain", "localhost:8014",
				"/tmp/s3s-fs-data",
			},
			Address:   "localhost:8014",
			AccessKey: "AKEXAMPLES3S",
			SecretKey: "SKEXAMPLES3S",
			Region:    "us-east-1",
		},
		{
			Name:    "minio",
			Kind:    "container",
			Image:   "minio/minio",
			Args:    []string{"server", "/data"},
			Ports:   []string{"9000:9000"},
			Volumes: []string{"s3s-conformance-minio-data:/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Address:   "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Region:    "us-east-1",
		},
	}
}

// Load reads configuration from environment variables and an optional config
// file found on the search path.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	v.SetDefault("harness.ready_timeout", cfg.Harness.ReadyTimeout)
	v.SetDefault("harness.scenario_timeout", cfg.Harness.ScenarioTimeout)
	v.SetDefault("harness.concurrency", cfg.Harness.Concurrency)
	v.SetDefault("harness.scenario", cfg.Harness.Scenario)
	v.SetDefault("harness.history_db", cfg.Harness.HistoryDB)
	v.SetDefault("harness.state_dir", cfg.Harness.StateDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetEnvPrefix("S3SCONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.s3s-conformance")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	// The file's backend list replaces the defaults rather than merging.
	cfg.Backends = nil

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}
	return cfg, nil
}

// Descriptors validates the configured backends, optionally filtered by name,
// and returns launchable descriptors. Selecting an unknown name or sharing a
// listen address between selected backends is a configuration error.
func (c *Config) Descriptors(selected []string) ([]backend.Descriptor, error) {
	byName := make(map[string]BackendConfig, len(c.Backends))
	order := make([]string, 0, len(c.Backends))
	for _, bc := range c.Backends {
		if _, dup := byName[bc.Name]; dup {
			return nil, &backend.ConfigError{Backend: bc.Name, Reason: "duplicate backend name"}
		}
		byName[bc.Name] = bc
		order = append(order, bc.Name)
	}

	names := order
	if len(selected) > 0 {
		names = selected
	}

	seenAddr := make(map[string]string)
	descriptors := make([]backend.Descriptor, 0, len(names))
	for _, name := range names {
		bc, ok := byName[name]
		if !ok {
			return nil, &backend.ConfigError{Backend: name, Reason: "backend is not configured"}
		}
		d := bc.descriptor()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if prev, ok := seenAddr[d.Address]; ok {
			return nil, &backend.ConfigError{
				Backend: d.Name,
				Reason:  fmt.Sprintf("listen address %s already used by backend %q", d.Address, prev),
			}
		}
		seenAddr[d.Address] = d.Name
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func (bc BackendConfig) descriptor() backend.Descriptor {
	env := make(map[string]string, len(bc.Env)+1)
	for k, v := range bc.Env {
		env[k] = v
	}
	if bc.LogLevel != "" {
		env["LOG_LEVEL"] = bc.LogLevel
	}

	return backend.Descriptor{
		Name:      bc.Name,
		Kind:      backend.Kind(bc.Kind),
		Command:   bc.Command,
		Image:     bc.Image,
		Args:      bc.Args,
		Ports:     bc.Ports,
		Volumes:   bc.Volumes,
		Env:       env,
		Address:   bc.Address,
		AccessKey: bc.AccessKey,
		SecretKey: bc.SecretKey,
		Region:    bc.Region,
		Readiness: backend.ReadinessCheck{
			Scheme:       bc.ReadinessScheme,
			Path:         bc.ReadinessPath,
			ExpectStatus: bc.ReadinessStatus,
		},
	}
}
