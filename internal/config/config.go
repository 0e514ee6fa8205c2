package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/respawn/internal/env"
	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/process"
	"github.com/loykin/respawn/internal/quota"
	"github.com/loykin/respawn/internal/shutdown"
	itls "github.com/loykin/respawn/internal/tls"
)

// Defaults for the restart policy.
const (
	DefaultRestartInterval = 5 * time.Second
	DefaultDrainTimeout    = 2 * time.Second
	DefaultWorkerName      = "worker"
	EnvPrefix              = "RESPAWN"
)

// Config represents the top-level TOML structure.
type Config struct {
	Worker   WorkerConfig  `mapstructure:"worker"`
	Policy   PolicyConfig  `mapstructure:"policy"`
	Log      logger.Config `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Server   ServerConfig  `mapstructure:"server"`
	History  HistoryConfig `mapstructure:"history"`
	LockFile string        `mapstructure:"lock_file"`
}

type WorkerConfig struct {
	Name     string   `mapstructure:"name"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
	WorkDir  string   `mapstructure:"work_dir"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
}

type PolicyConfig struct {
	MaxRestartsPerDay int           `mapstructure:"max_restarts_per_day"`
	RestartInterval   time.Duration `mapstructure:"restart_interval"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	KillWait          time.Duration `mapstructure:"kill_wait"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Listen          string `mapstructure:"listen"`
	BasePath        string `mapstructure:"base_path"`
	TLSCert         string `mapstructure:"tls_cert"`
	TLSKey          string `mapstructure:"tls_key"`
	TLSMinVersion   string `mapstructure:"tls_min_version"`
	TLSAutoGenerate bool   `mapstructure:"tls_auto_generate"`
}

type HistoryConfig struct {
	DSN []string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.name", DefaultWorkerName)
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.work_dir", "")
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.env_files", []string{})

	v.SetDefault("policy.max_restarts_per_day", quota.DefaultMaxPerDay)
	v.SetDefault("policy.restart_interval", DefaultRestartInterval)
	v.SetDefault("policy.grace_period", shutdown.DefaultGracePeriod)
	v.SetDefault("policy.kill_wait", shutdown.DefaultKillWait)
	v.SetDefault("policy.drain_timeout", DefaultDrainTimeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", false)
	v.SetDefault("log.file", logger.DefaultFile)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_auto_generate", false)

	v.SetDefault("history.dsn", []string{})
	v.SetDefault("lock_file", "")
}

// Load reads the TOML file at path (optional) and applies RESPAWN_* environment
// overrides on top of built-in defaults, e.g. RESPAWN_POLICY_MAX_RESTARTS_PER_DAY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ApplyCommandLine replaces the configured worker command with argv.
func (c *Config) ApplyCommandLine(argv []string) {
	if len(argv) == 0 {
		return
	}
	c.Worker.Command = argv[0]
	c.Worker.Args = append([]string(nil), argv[1:]...)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return errors.New("worker command is required")
	}
	if c.Policy.MaxRestartsPerDay <= 0 {
		return fmt.Errorf("policy.max_restarts_per_day must be positive, got %d", c.Policy.MaxRestartsPerDay)
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"policy.restart_interval", c.Policy.RestartInterval},
		{"policy.grace_period", c.Policy.GracePeriod},
		{"policy.kill_wait", c.Policy.KillWait},
		{"policy.drain_timeout", c.Policy.DrainTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.key, d.d)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if !itls.ValidVersion(c.Server.TLSMinVersion) {
		return fmt.Errorf("server.tls_min_version %q is not supported", c.Server.TLSMinVersion)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" && c.Server.Listen == "" {
		return errors.New("metrics enabled but neither metrics.listen nor server.listen is set")
	}
	return nil
}

// ResolveEnv merges env_files in order and then the explicit env list.
// Later entries win. The result is sorted by key.
func (c *Config) ResolveEnv() ([]string, error) {
	e := env.New()
	for _, p := range c.Worker.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
	}
	for _, kv := range c.Worker.Env {
		if err := e.SetPair(kv); err != nil {
			return nil, err
		}
	}
	return e.List(), nil
}

// ToSpec builds the launch description for the worker.
func (c *Config) ToSpec() (process.Spec, error) {
	env, err := c.ResolveEnv()
	if err != nil {
		return process.Spec{}, err
	}
	name := c.Worker.Name
	if name == "" {
		name = DefaultWorkerName
	}
	return process.Spec{
		Name:    name,
		Command: c.Worker.Command,
		Args:    c.Worker.Args,
		WorkDir: c.Worker.WorkDir,
		Env:     env,
	}, nil
}

// Describe writes the effective settings, one per line.
func (c *Config) Describe(w io.Writer) error {
	lines := []string{
		"worker.name = " + c.Worker.Name,
		"worker.command = " + c.Worker.Command,
		fmt.Sprintf("worker.args = %q", c.Worker.Args),
		"worker.work_dir = " + c.Worker.WorkDir,
		fmt.Sprintf("worker.env = %d entries", len(c.Worker.Env)),
		fmt.Sprintf("worker.env_files = %q", c.Worker.EnvFiles),
		fmt.Sprintf("policy.max_restarts_per_day = %d", c.Policy.MaxRestartsPerDay),
		"policy.restart_interval = " + c.Policy.RestartInterval.String(),
		"policy.grace_period = " + c.Policy.GracePeriod.String(),
		"policy.kill_wait = " + c.Policy.KillWait.String(),
		"policy.drain_timeout = " + c.Policy.DrainTimeout.String(),
		"log.level = " + c.Log.Level,
		"log.file = " + c.Log.File,
		fmt.Sprintf("metrics.enabled = %t", c.Metrics.Enabled),
		"metrics.listen = " + c.Metrics.Listen,
		"server.listen = " + c.Server.Listen,
		fmt.Sprintf("server.tls = %t", c.Server.TLSCert != ""),
		fmt.Sprintf("history.dsn = %d sinks", len(c.History.DSN)),
		"lock_file = " + c.LockFile,
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
