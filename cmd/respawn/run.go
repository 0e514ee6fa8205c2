package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/respawn"
	"github.com/loykin/respawn/internal/config"
	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/pidlock"
	"github.com/loykin/respawn/internal/server"
	itls "github.com/loykin/respawn/internal/tls"
)

const serverShutdownTimeout = 5 * time.Second

func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Supervise the worker until SIGINT or SIGTERM",
		Long: `Run the worker and relaunch it after every exit. The command after "--"
replaces [worker].command and [worker].args from the config file.

Examples:
  respawn run -- python bot.py
  respawn run --max-restarts 10 --restart-interval 30s -- ./worker --flag
  respawn run --config respawn.toml --listen :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			c.ApplyCommandLine(args)
			applyRunFlags(c, runFlags, cmd.Flags().Changed)
			if globalFlags.Verbose {
				c.Log.Level = "debug"
			}
			return runSupervisor(cmd.Context(), c, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&runFlags.Name, "name", config.DefaultWorkerName, "worker name used in logs and metrics")
	cmd.Flags().IntVar(&runFlags.MaxRestarts, "max-restarts", 0, "maximum launches per calendar day")
	cmd.Flags().DurationVar(&runFlags.RestartInterval, "restart-interval", config.DefaultRestartInterval, "pause after every worker exit")
	cmd.Flags().DurationVar(&runFlags.GracePeriod, "grace-period", 0, "how long a stopping worker may take before it is killed")
	cmd.Flags().StringVar(&runFlags.LogFile, "log-file", "", "supervisor log file, empty disables it")
	cmd.Flags().StringVar(&runFlags.LockFile, "lock-file", "", "refuse to start while another supervisor holds this file")
	cmd.Flags().StringVar(&runFlags.Listen, "listen", "", "status server address (e.g. :9090)")

	return cmd
}

// runSupervisor owns one supervisor lifetime: lock, logging, history,
// status server and the control loop. Errors are returned only for startup
// problems; a normal shutdown returns nil.
func runSupervisor(ctx context.Context, c *config.Config, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.LockFile != "" {
		lock, err := pidlock.Acquire(c.LockFile)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	console := respawn.NewConsole(stdout)
	log, closer, err := logger.New(c.Log, console.Writer("RESPAWN"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	sinks, err := respawn.OpenHistory(c.History.DSN)
	if err != nil {
		return err
	}
	defer respawn.CloseHistory(sinks)

	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	sup, err := respawn.NewFromConfig(c, log, console, sinks...)
	if err != nil {
		return err
	}
	// Signals during server startup must reach the router, not the default
	// handler.
	sup.Router().Listen()
	defer sup.Router().Stop()

	var servers []*http.Server
	defer func() { shutdownServers(log, servers) }()

	if c.Server.Listen != "" {
		withMetrics := c.Metrics.Enabled && c.Metrics.Listen == ""
		srv := server.NewServer(c.Server.Listen, respawn.NewStatusHandler(sup, c.Server.BasePath, withMetrics))
		if c.Server.TLSCert != "" {
			tc, err := itls.ServerConfig(itls.Options{
				CertFile:     c.Server.TLSCert,
				KeyFile:      c.Server.TLSKey,
				MinVersion:   c.Server.TLSMinVersion,
				AutoGenerate: c.Server.TLSAutoGenerate,
			})
			if err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			srv.TLSConfig = tc
		}
		addr, errCh, err := server.Start(srv)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		servers = append(servers, srv)
		log.Info("status server listening", "addr", addr.String(), "base", c.Server.BasePath)
		go logServeErrors(log, "status", errCh)
	}
	if c.Metrics.Enabled && c.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := server.NewServer(c.Metrics.Listen, mux)
		addr, errCh, err := server.Start(srv)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		servers = append(servers, srv)
		log.Info("metrics listening", "addr", addr.String())
		go logServeErrors(log, "metrics", errCh)
	}

	return sup.Run(ctx)
}

func logServeErrors(log *slog.Logger, name string, errCh <-chan error) {
	for err := range errCh {
		log.Error("server stopped", "server", name, "error", err)
	}
}

func shutdownServers(log *slog.Logger, servers []*http.Server) {
	if len(servers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("server shutdown", "addr", srv.Addr, "error", err)
		}
	}
}
