package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Name != DefaultWorkerName {
		t.Fatalf("unexpected name %q", cfg.Worker.Name)
	}
	if cfg.Policy.MaxRestartsPerDay != 50 {
		t.Fatalf("unexpected quota %d", cfg.Policy.MaxRestartsPerDay)
	}
	if cfg.Policy.RestartInterval != 5*time.Second || cfg.Policy.GracePeriod != 5*time.Second {
		t.Fatalf("unexpected intervals %+v", cfg.Policy)
	}
	if cfg.Policy.KillWait != 2*time.Second || cfg.Policy.DrainTimeout != 2*time.Second {
		t.Fatalf("unexpected kill/drain %+v", cfg.Policy)
	}
	if cfg.Log.File != "restart.log" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("defaults without a command must not validate")
	}
}

func TestLoad_FullFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "respawn.toml", `
lock_file = "/tmp/respawn.lock"

[worker]
name = "bot"
command = "python3"
args = ["main.py", "--polling"]
work_dir = "/srv/bot"
env = ["MODE=prod"]

[policy]
max_restarts_per_day = 10
restart_interval = "1s"
grace_period = "3s"
kill_wait = "500ms"
drain_timeout = "250ms"

[log]
file = "/var/log/respawn.log"
level = "debug"
format = "json"
color = true
timestamps = true
max_size_mb = 5
compress = true

[metrics]
enabled = true
listen = ":9100"

[server]
listen = "127.0.0.1:8080"
base_path = "/sup"

[history]
dsn = ["sqlite:///tmp/h.db", "opensearch://localhost:9200/w"]
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Name != "bot" || cfg.Worker.Command != "python3" || len(cfg.Worker.Args) != 2 || cfg.Worker.WorkDir != "/srv/bot" {
		t.Fatalf("unexpected worker %+v", cfg.Worker)
	}
	p := cfg.Policy
	if p.MaxRestartsPerDay != 10 || p.RestartInterval != time.Second || p.GracePeriod != 3*time.Second || p.KillWait != 500*time.Millisecond || p.DrainTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected policy %+v", p)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || !cfg.Log.Color || !cfg.Log.TimeStamps || cfg.Log.MaxSizeMB != 5 || !cfg.Log.Compress {
		t.Fatalf("unexpected log %+v", cfg.Log)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Fatalf("default max_backups not kept: %d", cfg.Log.MaxBackups)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9100" || cfg.Server.BasePath != "/sup" {
		t.Fatalf("unexpected metrics/server %+v %+v", cfg.Metrics, cfg.Server)
	}
	if len(cfg.History.DSN) != 2 || cfg.LockFile != "/tmp/respawn.lock" {
		t.Fatalf("unexpected history/lock %+v %q", cfg.History, cfg.LockFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "c.toml", "[worker]\ncommand = \"sleep 1\"\n[policy]\nmax_restarts_per_day = 10\n")
	t.Setenv("RESPAWN_POLICY_MAX_RESTARTS_PER_DAY", "3")
	t.Setenv("RESPAWN_POLICY_RESTART_INTERVAL", "250ms")
	t.Setenv("RESPAWN_WORKER_NAME", "from-env")

	cfg, err := Load(file)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy.MaxRestartsPerDay != 3 || cfg.Policy.RestartInterval != 250*time.Millisecond {
		t.Fatalf("env did not override: %+v", cfg.Policy)
	}
	if cfg.Worker.Name != "from-env" || cfg.Worker.Command != "sleep 1" {
		t.Fatalf("unexpected worker %+v", cfg.Worker)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := writeFile(t, t.TempDir(), "bad.toml", "[worker\ncommand=")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
	wrongType := writeFile(t, t.TempDir(), "w.toml", "[policy]\nrestart_interval = \"soon\"\n")
	if _, err := Load(wrongType); err == nil {
		t.Fatalf("expected decode error for bad duration")
	}
}

func TestApplyCommandLine(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{Command: "old", Args: []string{"x"}}}
	cfg.ApplyCommandLine(nil)
	if cfg.Worker.Command != "old" {
		t.Fatalf("empty argv must keep configured command")
	}
	argv := []string{"python3", "bot.py", "--flag"}
	cfg.ApplyCommandLine(argv)
	if cfg.Worker.Command != "python3" || strings.Join(cfg.Worker.Args, " ") != "bot.py --flag" {
		t.Fatalf("unexpected worker %+v", cfg.Worker)
	}
	argv[1] = "mutated"
	if cfg.Worker.Args[0] != "bot.py" {
		t.Fatalf("args must be copied")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		c.Worker.Command = "sleep 1"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"blank command", func(c *Config) { c.Worker.Command = "  " }, false},
		{"zero quota", func(c *Config) { c.Policy.MaxRestartsPerDay = 0 }, false},
		{"negative interval", func(c *Config) { c.Policy.RestartInterval = -time.Second }, false},
		{"negative grace", func(c *Config) { c.Policy.GracePeriod = -1 }, false},
		{"zero interval allowed", func(c *Config) { c.Policy.RestartInterval = 0 }, true},
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }, false},
		{"half tls", func(c *Config) { c.Server.TLSCert = "c.pem" }, false},
		{"old tls version", func(c *Config) { c.Server.TLSMinVersion = "1.0" }, false},
		{"metrics without listener", func(c *Config) { c.Metrics.Enabled = true }, false},
		{"metrics on server", func(c *Config) {
			c.Metrics.Enabled = true
			c.Server.Listen = ":8080"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Worker.Command = "sleep 5"
	var buf bytes.Buffer
	if err := cfg.Describe(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"worker.command = sleep 5", "policy.max_restarts_per_day = 50", "policy.restart_interval = 5s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
