package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/respawn/internal/clock"
	"github.com/loykin/respawn/internal/history"
	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/process"
	"github.com/loykin/respawn/internal/quota"
	"github.com/loykin/respawn/internal/relay"
	"github.com/loykin/respawn/internal/shutdown"
)

const (
	DefaultRestartInterval = 5 * time.Second
	DefaultDrainTimeout    = 2 * time.Second

	historyTimeout = 2 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("supervisor is already running")
	errNotReaped      = errors.New("worker was not reaped")
)

// Options configures a Supervisor. Only Launch is required.
type Options struct {
	Name   string
	Launch LaunchFunc

	Quota   *quota.Tracker   // default: quota.DefaultMaxPerDay on Clock
	Router  *shutdown.Router // default: shutdown.New with Logger
	Console *relay.Console   // default: stdout
	Logger  *slog.Logger     // default: slog.Default()
	Clock   clock.Clock      // default: clock.Real()

	RestartInterval time.Duration // pause after every exit, default 5s
	DrainTimeout    time.Duration // how long relays may run after exit, default 2s

	Sinks []history.Sink
}

// Supervisor runs the worker, relays its output and relaunches it after
// every exit until a shutdown is requested.
type Supervisor struct {
	name     string
	launch   LaunchFunc
	quota    *quota.Tracker
	router   *shutdown.Router
	console  *relay.Console
	log      *slog.Logger
	clock    clock.Clock
	interval time.Duration
	drain    time.Duration
	sinks    []history.Sink

	started atomic.Bool

	mu     sync.Mutex
	status Status
}

func New(opts Options) (*Supervisor, error) {
	if opts.Launch == nil {
		return nil, errors.New("supervisor: launch function is required")
	}
	s := &Supervisor{
		name:     opts.Name,
		launch:   opts.Launch,
		quota:    opts.Quota,
		router:   opts.Router,
		console:  opts.Console,
		log:      opts.Logger,
		clock:    opts.Clock,
		interval: opts.RestartInterval,
		drain:    opts.DrainTimeout,
		sinks:    opts.Sinks,
	}
	if s.name == "" {
		s.name = "worker"
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.quota == nil {
		s.quota = quota.NewTracker(quota.DefaultMaxPerDay, s.clock)
	}
	if s.router == nil {
		s.router = shutdown.New(shutdown.WithLogger(s.log))
	}
	if s.console == nil {
		s.console = relay.NewConsole(os.Stdout)
	}
	if s.interval <= 0 {
		s.interval = DefaultRestartInterval
	}
	if s.drain <= 0 {
		s.drain = DefaultDrainTimeout
	}
	s.log = s.log.With("worker", s.name)
	s.status = Status{Name: s.name, Phase: PhaseIdle}
	return s, nil
}

// Router returns the shutdown router driving this supervisor.
func (s *Supervisor) Router() *shutdown.Router { return s.router }

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.State = s.router.State().String()
	st.ForcedKills = s.router.Kills()
	st.Quota = s.quota.Snapshot()
	return st
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Supervisor) setPhase(p Phase) {
	s.update(func(st *Status) { st.Phase = p })
}

// Run drives the control loop until the router reaches Terminated. Cancelling
// ctx requests a shutdown. Run returns nil once the worker is stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	stop := context.AfterFunc(ctx, func() { s.router.Request("context cancelled") })
	defer stop()

	limit := s.quota.Snapshot().Limit
	s.log.Info("supervisor started", "max_restarts_per_day", limit, "restart_interval", s.interval)
	metrics.SetQuota(s.name, s.quota.Snapshot().Count, limit)

	for s.router.State() == shutdown.Running {
		s.iterate()
	}
	if s.router.State() != shutdown.Terminated {
		s.router.Shutdown(nil, nil)
	}

	s.setPhase(PhaseStopped)
	reason := s.router.Reason()
	s.record(history.EventShutdown, history.Record{Name: s.name, Error: reason})
	s.log.Info("supervisor terminated", "reason", reason, "forced_kills", s.router.Kills())
	return nil
}

// iterate runs one pass of the loop: quota check, launch, relay, await exit
// and backoff. A panic in here is logged and treated as a faulted iteration.
func (s *Supervisor) iterate() {
	var g *generation
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.log.Error("supervisor iteration failed", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		if g != nil {
			g.abandon(s.drain)
			s.finish(g, process.Exit{Code: -1, Err: fmt.Errorf("supervisor panic: %v", r)})
		} else {
			s.update(func(st *Status) {
				st.LastOutcome = history.OutcomeFaulted
				st.LastError = fmt.Sprint(r)
			})
		}
		s.backoff()
	}()

	if s.quota.Exhausted() {
		wait := s.quota.UntilReset()
		q := s.quota.Snapshot()
		metrics.IncQuotaExhausted(s.name)
		s.setPhase(PhaseQuotaWait)
		s.log.Warn("daily restart quota exhausted, waiting for reset", "attempts", q.Count, "limit", q.Limit, "wait", wait)
		s.sleep(wait)
		return
	}
	if s.router.State() != shutdown.Running {
		return
	}

	w, err := s.launch()
	if err != nil {
		s.launchFailed(err)
		s.backoff()
		return
	}
	g = &generation{w: w, exited: make(chan struct{})}
	go g.wait()
	s.begin(g)
	exit := s.await(g)
	s.finish(g, exit)
	g = nil

	if s.router.State() != shutdown.Running {
		return
	}
	s.backoff()
}

type generation struct {
	w       Worker
	pid     int
	attempt int
	started time.Time
	relays  *relay.Pair
	exited  chan struct{}
	exit    process.Exit
}

// wait turns the blocking reap into the exited channel.
func (g *generation) wait() {
	g.exit = g.w.Wait()
	close(g.exited)
}

// begin records the attempt and starts both relay units.
func (s *Supervisor) begin(g *generation) {
	w := g.w
	g.attempt = s.quota.RecordAttempt()
	g.pid = w.PID()
	g.started = w.StartedAt()

	q := s.quota.Snapshot()
	metrics.IncLaunch(s.name)
	metrics.SetQuota(s.name, q.Count, q.Limit)
	metrics.SetWorkerRunning(s.name, true)
	started := g.started
	s.update(func(st *Status) {
		st.Phase = PhaseRunning
		st.PID = g.pid
		st.StartedAt = &started
		st.Launches++
	})
	s.log.Info("worker launched", "pid", g.pid, "attempt", g.attempt, "limit", q.Limit)
	s.record(history.EventLaunch, history.Record{Name: s.name, PID: g.pid, Attempt: g.attempt, StartedAt: g.started})

	g.relays = relay.Start(w.Stdout(), w.Stderr(), s.console, relay.Hooks{
		OnLine: func(st relay.Stream) { metrics.IncRelayLine(s.name, st.Tag()) },
		OnError: func(e *relay.RelayError) {
			metrics.IncRelayError(s.name, e.Stream.Tag())
			s.log.Warn("output relay stopped", "stream", e.Stream.Tag(), "error", e.Err)
		},
	})
}

// await blocks until the worker exits or a shutdown request has stopped it,
// then joins both relay units.
func (s *Supervisor) await(g *generation) process.Exit {
	select {
	case <-g.exited:
	case <-s.router.Done():
		s.setPhase(PhaseStopping)
		before := s.router.Kills()
		s.router.Shutdown(g.w, g.exited)
		if s.router.Kills() > before {
			metrics.IncForcedKill(s.name)
		}
	}
	s.join(g)

	select {
	case <-g.exited:
		return g.exit
	default:
		return process.Exit{Code: -1, Err: errNotReaped}
	}
}

// join waits for both relays to drain, closing the streams if they are
// held open past the drain timeout (e.g. by a grandchild).
func (s *Supervisor) join(g *generation) {
	select {
	case <-g.exited:
		s.reapGroup(g)
	default:
	}
	t := time.NewTimer(s.drain)
	defer t.Stop()
	select {
	case <-g.relays.Done():
	case <-t.C:
		s.log.Debug("output still open after exit, closing streams", "pid", g.pid)
	}
	_ = g.w.Close()
	_ = g.relays.Wait()
}

// reapGroup kills processes the exited worker left running in its group.
func (s *Supervisor) reapGroup(g *generation) {
	gk, ok := g.w.(groupKiller)
	if !ok {
		return
	}
	if err := gk.KillGroup(); err != nil {
		s.log.Warn("killing leftover worker processes failed", "pid", g.pid, "error", err)
	}
}

// abandon kills a worker left behind by a failed iteration and reaps it.
func (g *generation) abandon(wait time.Duration) {
	_ = g.w.Kill()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-g.exited:
		if gk, ok := g.w.(groupKiller); ok {
			_ = gk.KillGroup()
		}
	case <-t.C:
	}
	_ = g.w.Close()
	if g.relays != nil {
		_ = g.relays.Wait()
	}
}

func (s *Supervisor) finish(g *generation, exit process.Exit) {
	clean := exit.Clean()
	outcome := history.OutcomeFaulted
	if clean {
		outcome = history.OutcomeClean
	}
	stopped := s.clock.Now()
	uptime := stopped.Sub(g.started).Round(time.Millisecond)

	metrics.IncExit(s.name, clean)
	metrics.SetWorkerRunning(s.name, false)
	errText := ""
	if exit.Err != nil {
		errText = exit.Err.Error()
	}
	code := exit.Code
	s.update(func(st *Status) {
		st.PID = 0
		st.StartedAt = nil
		st.LastOutcome = outcome
		st.LastExitCode = &code
		st.LastError = errText
		if clean {
			st.CleanExits++
		} else {
			st.FaultedExits++
		}
	})
	if clean {
		s.log.Info("worker exited cleanly", "pid", g.pid, "attempt", g.attempt, "uptime", uptime)
	} else {
		s.log.Warn("worker exited with failure", "pid", g.pid, "attempt", g.attempt, "exit_code", code, "error", errText, "uptime", uptime)
	}
	s.record(history.EventExit, history.Record{
		Name: s.name, PID: g.pid, Attempt: g.attempt,
		StartedAt: g.started, StoppedAt: stopped,
		ExitCode: code, Outcome: outcome, Error: errText,
	})
}

func (s *Supervisor) launchFailed(err error) {
	metrics.IncLaunchFailure(s.name)
	s.update(func(st *Status) {
		st.LaunchFailures++
		st.LastOutcome = history.OutcomeFaulted
		st.LastExitCode = nil
		st.LastError = err.Error()
	})
	var le *process.LaunchError
	if errors.As(err, &le) {
		s.log.Error("worker launch failed", "command", le.Command, "error", le.Err)
	} else {
		s.log.Error("worker launch failed", "error", err)
	}
	s.record(history.EventLaunchFailed, history.Record{
		Name: s.name, ExitCode: -1, Outcome: history.OutcomeFaulted, Error: err.Error(),
	})
}

// backoff sleeps the restart interval unless a shutdown is requested.
func (s *Supervisor) backoff() {
	if s.router.State() != shutdown.Running {
		return
	}
	s.setPhase(PhaseBackoff)
	s.log.Info("restarting after delay", "delay", s.interval)
	s.sleep(s.interval)
}

// sleep waits for d on the supervisor clock. It returns false when woken by
// a shutdown request.
func (s *Supervisor) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-s.clock.After(d):
		return true
	case <-s.router.Done():
		return false
	}
}

// record sends e to every sink. Sink failures never affect the loop.
func (s *Supervisor) record(t history.EventType, rec history.Record) {
	if len(s.sinks) == 0 {
		return
	}
	e := history.Event{Type: t, OccurredAt: s.clock.Now().UTC(), Record: rec}
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := sink.Send(ctx, e); err != nil {
			s.log.Debug("history sink failed", "event", string(t), "error", err)
		}
		cancel()
	}
}
