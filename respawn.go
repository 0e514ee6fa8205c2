package respawn

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/respawn/internal/config"
	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/history/factory"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/process"
	"github.com/loykin/respawn/internal/quota"
	"github.com/loykin/respawn/internal/relay"
	iapi "github.com/loykin/respawn/internal/server"
	"github.com/loykin/respawn/internal/shutdown"
	"github.com/loykin/respawn/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Spec = process.Spec

type Status = supervisor.Status

type Phase = supervisor.Phase

type Options = supervisor.Options

type Supervisor = supervisor.Supervisor

type Worker = supervisor.Worker

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Console serialises worker output and supervisor logs onto one writer.
type Console = relay.Console

func NewConsole(w io.Writer) *Console { return relay.NewConsole(w) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// New returns a supervisor configured by opts. Only opts.Launch is required.
func New(opts Options) (*Supervisor, error) { return supervisor.New(opts) }

// Launcher returns a launch function that starts spec as an OS process.
func Launcher(spec Spec) supervisor.LaunchFunc { return supervisor.ProcessLauncher(spec) }

// NewFromConfig wires a supervisor for c: worker spec, daily quota, shutdown
// router and output console (stdout when nil). The sinks stay owned by the
// caller.
func NewFromConfig(c *Config, log *slog.Logger, console *Console, sinks ...HistorySink) (*Supervisor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	spec, err := c.ToSpec()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	router := shutdown.New(
		shutdown.WithGracePeriod(c.Policy.GracePeriod),
		shutdown.WithKillWait(c.Policy.KillWait),
		shutdown.WithLogger(log),
		shutdown.WithStateHook(func(s shutdown.State) {
			metrics.SetShutdownState(s.String(), shutdownStates...)
		}),
	)
	metrics.SetShutdownState(shutdown.Running.String(), shutdownStates...)
	return supervisor.New(supervisor.Options{
		Name:            spec.Name,
		Launch:          supervisor.ProcessLauncher(spec),
		Quota:           quota.NewTracker(c.Policy.MaxRestartsPerDay, nil),
		Router:          router,
		Console:         console,
		Logger:          log,
		RestartInterval: c.Policy.RestartInterval,
		DrainTimeout:    c.Policy.DrainTimeout,
		Sinks:           sinks,
	})
}

var shutdownStates = []string{
	shutdown.Running.String(),
	shutdown.ShutdownRequested.String(),
	shutdown.Terminated.String(),
}

// OpenHistory opens one sink per DSN. Close them with CloseHistory.
func OpenHistory(dsns []string) ([]HistorySink, error) { return factory.NewSinks(dsns) }

func CloseHistory(sinks []HistorySink) { factory.CloseAll(sinks) }

// NewStatusHandler returns the gin status handler for sup, mountable in any mux.
func NewStatusHandler(sup *Supervisor, basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(sup, basePath, withMetrics).Handler()
}

// NewStatusServer returns an unstarted HTTP server exposing the status
// endpoints of sup under basePath, plus /metrics.
func NewStatusServer(addr, basePath string, sup *Supervisor) *http.Server {
	return iapi.NewServer(addr, NewStatusHandler(sup, basePath, true))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
