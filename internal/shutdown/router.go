package shutdown

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	// DefaultGracePeriod is how long a worker gets to exit after a graceful terminate.
	DefaultGracePeriod = 5 * time.Second
	// DefaultKillWait bounds the wait for the worker to be reaped after a kill.
	DefaultKillWait = 2 * time.Second
)

// ErrShutdownTimeout is logged when the worker ignores the graceful terminate.
var ErrShutdownTimeout = errors.New("worker did not exit within grace period")

// State is the shutdown state of the supervisor.
type State int32

const (
	Running State = iota
	ShutdownRequested
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShutdownRequested:
		return "shutdown_requested"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Target is the part of a worker the router needs to stop it.
type Target interface {
	PID() int
	Terminate() error
	Kill() error
}

// Router turns external termination requests into a state transition and
// drives the graceful-then-forceful stop of the active worker.
//
// Request only flips state and closes Done, so it is safe to call from any
// goroutine, any number of times. The process control itself happens in
// Shutdown, which the control loop calls once it observes Done.
type Router struct {
	grace    time.Duration
	killWait time.Duration
	log      *slog.Logger

	state    atomic.Int32
	once     sync.Once
	done     chan struct{}
	reason   atomic.Value // string
	kills    atomic.Int64
	onChange func(State)

	sigMu  sync.Mutex
	sigCh  chan os.Signal
	sigEnd chan struct{}
}

// Option configures a Router.
type Option func(*Router)

func WithGracePeriod(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.grace = d
		}
	}
}

func WithKillWait(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.killWait = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(r *Router) { r.onChange = fn }
}

func New(opts ...Option) *Router {
	r := &Router{
		grace:    DefaultGracePeriod,
		killWait: DefaultKillWait,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Router) State() State { return State(r.state.Load()) }

// Done is closed when a shutdown has been requested.
func (r *Router) Done() <-chan struct{} { return r.done }

// Reason returns what triggered the shutdown, or "" while running.
func (r *Router) Reason() string {
	v, _ := r.reason.Load().(string)
	return v
}

// Kills returns the number of forceful kills issued.
func (r *Router) Kills() int64 { return r.kills.Load() }

func (r *Router) GracePeriod() time.Duration { return r.grace }

func (r *Router) transition(from, to State) bool {
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if r.onChange != nil {
		r.onChange(to)
	}
	return true
}

// Request moves Running to ShutdownRequested. Later calls are no-ops.
func (r *Router) Request(reason string) {
	r.once.Do(func() {
		r.reason.Store(reason)
		r.transition(Running, ShutdownRequested)
		r.log.Info("shutdown requested", "reason", reason)
		close(r.done)
	})
}

// Listen forwards the given OS signals (SIGINT and SIGTERM when none are
// given) to Request until Stop is called.
func (r *Router) Listen(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	if r.sigCh != nil {
		return
	}
	r.sigCh = make(chan os.Signal, 2)
	r.sigEnd = make(chan struct{})
	signal.Notify(r.sigCh, sigs...)
	go func(ch <-chan os.Signal, end <-chan struct{}) {
		for {
			select {
			case sig := <-ch:
				if r.State() != Running {
					r.log.Info("shutdown already in progress", "signal", sig.String())
					continue
				}
				r.Request("signal " + sig.String())
			case <-end:
				return
			}
		}
	}(r.sigCh, r.sigEnd)
}

// Stop releases the OS signal subscription made by Listen.
func (r *Router) Stop() {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	if r.sigCh == nil {
		return
	}
	signal.Stop(r.sigCh)
	close(r.sigEnd)
	r.sigCh = nil
}

// Shutdown stops the active worker, if any, and moves the router to
// Terminated. exited must be closed once the worker has been reaped. The
// worker gets a graceful terminate, then exactly one kill if it is still
// running after the grace period. Shutdown never blocks longer than the grace
// period plus the kill wait.
func (r *Router) Shutdown(w Target, exited <-chan struct{}) {
	// A direct call without a prior Request still counts as a request.
	r.Request("shutdown")
	defer r.transition(ShutdownRequested, Terminated)

	if w == nil {
		r.log.Info("no active worker, terminating")
		return
	}

	pid := w.PID()
	r.log.Info("stopping worker", "pid", pid, "grace", r.grace)
	if err := w.Terminate(); err != nil {
		r.log.Warn("graceful terminate failed", "pid", pid, "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-exited:
		r.log.Info("worker exited after terminate", "pid", pid)
		return
	case <-grace.C:
	}

	r.log.Warn("escalating to kill", "pid", pid, "error", ErrShutdownTimeout)
	r.kills.Add(1)
	if err := w.Kill(); err != nil {
		r.log.Error("kill failed", "pid", pid, "error", err)
	}

	wait := time.NewTimer(r.killWait)
	defer wait.Stop()
	select {
	case <-exited:
		r.log.Info("worker killed", "pid", pid)
	case <-wait.C:
		r.log.Error("worker not reaped after kill", "pid", pid, "wait", r.killWait)
	}
}
