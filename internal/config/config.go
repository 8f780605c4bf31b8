// Package config loads the agent's YAML configuration document via
// github.com/spf13/viper, the same configuration library the teacher
// repository depends on.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sysflow-telemetry/logshipper/internal/tailer"
)

// Source is one {label, path} entry from the `sources` config key.
type Source struct {
	Label string `mapstructure:"label"`
	Path  string `mapstructure:"path"`
}

// Config is the agent's fully-resolved configuration.
type Config struct {
	ServerAddr        string        `mapstructure:"server_addr"`
	ProjectKey        string        `mapstructure:"project_key"`
	BatchSize         int           `mapstructure:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"-"`
	FlushIntervalSecs int           `mapstructure:"flush_interval"`
	HeartbeatInterval time.Duration `mapstructure:"-"`
	HeartbeatSecs     int           `mapstructure:"heartbeat_interval"`
	Sources           []Source      `mapstructure:"sources"`
	StateDir          string        `mapstructure:"state_dir"`
}

// ErrIncomplete is returned by Load/Validate when required keys are
// missing, which the CLI treats as an unrecoverable startup failure.
var ErrIncomplete = errors.New("config: missing required fields")

func defaults(v *viper.Viper) {
	v.SetDefault("batch_size", 1000)
	v.SetDefault("flush_interval", 10)
	v.SetDefault("heartbeat_interval", 30)
	v.SetDefault("state_dir", "/var/lib/logshipper")
}

// Load reads the YAML configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	cfg.FlushInterval = time.Duration(cfg.FlushIntervalSecs) * time.Second
	cfg.HeartbeatInterval = time.Duration(cfg.HeartbeatSecs) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every required key is present and non-empty.
func (c *Config) Validate() error {
	if c.ServerAddr == "" || c.ProjectKey == "" || len(c.Sources) == 0 {
		return ErrIncomplete
	}
	for _, s := range c.Sources {
		if s.Label == "" || s.Path == "" {
			return fmt.Errorf("%w: source entries require both label and path", ErrIncomplete)
		}
	}
	return nil
}

// SourceSpecs converts the configured sources into tailer.SourceSpecs.
func (c *Config) SourceSpecs() []tailer.SourceSpec {
	specs := make([]tailer.SourceSpec, len(c.Sources))
	for i, s := range c.Sources {
		specs[i] = tailer.SourceSpec{Label: s.Label, Path: s.Path}
	}
	return specs
}

// WriteBootstrap persists a newly-materialized config file carrying the
// given server address and project key, the defaults, and an empty
// `sources` list, so subsequent runs need no env input. No Register is
// performed before it is written; the agent registers on a later run,
// once the file passes Load.
func WriteBootstrap(path, serverAddr, projectKey string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)
	v.Set("server_addr", serverAddr)
	v.Set("project_key", projectKey)
	v.Set("sources", []Source{})
	return v.WriteConfigAs(path)
}
