package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Exit describes how a worker generation ended.
type Exit struct {
	Code int   // -1 when the worker was terminated by a signal
	Err  error // non-nil for any non-zero exit, including *exec.ExitError
}

// Clean reports a zero exit status.
func (e Exit) Clean() bool { return e.Code == 0 && e.Err == nil }

// Worker is one running instance of the supervised command. It is owned by
// the caller that launched it; Terminate and Kill may be called from any
// goroutine and are no-ops once the worker has been reaped.
type Worker struct {
	name      string
	cmd       *exec.Cmd
	startedAt time.Time
	stdout    *os.File
	stderr    *os.File

	reaped    atomic.Bool
	waitOnce  sync.Once
	exit      Exit
	closeOnce sync.Once
}

// Launch starts the worker described by spec. Both output streams are raw
// pipes read directly by the caller, with no buffering on the supervisor side.
func Launch(spec Spec) (*Worker, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, &LaunchError{Command: spec.String(), Err: err}
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = append(os.Environ(), spec.Env...)
	configureSysProcAttr(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Command: spec.String(), Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, &LaunchError{Command: spec.String(), Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, &LaunchError{Command: spec.String(), Err: err}
	}
	// The child holds its own copies; keeping ours would stop EOF from arriving.
	closeAll(outW, errW)

	return &Worker{
		name:      spec.Name,
		cmd:       cmd,
		startedAt: time.Now(),
		stdout:    outR,
		stderr:    errR,
	}, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (w *Worker) Name() string         { return w.name }
func (w *Worker) PID() int             { return w.cmd.Process.Pid }
func (w *Worker) StartedAt() time.Time { return w.startedAt }
func (w *Worker) Stdout() io.Reader    { return w.stdout }
func (w *Worker) Stderr() io.Reader    { return w.stderr }

// Wait blocks until the worker exits and reaps it. Repeated calls return the
// same result.
func (w *Worker) Wait() Exit {
	w.waitOnce.Do(func() {
		err := w.cmd.Wait()
		w.reaped.Store(true)
		code := -1
		if ps := w.cmd.ProcessState; ps != nil {
			code = ps.ExitCode()
		}
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) && code == 0 {
			code = -1
		}
		w.exit = Exit{Code: code, Err: err}
	})
	return w.exit
}

// Exited reports whether Wait has reaped the worker.
func (w *Worker) Exited() bool { return w.reaped.Load() }

// Terminate asks the worker to exit gracefully.
func (w *Worker) Terminate() error {
	if w.reaped.Load() {
		return nil
	}
	return terminateProcess(w.cmd.Process)
}

// Kill forcefully stops the worker and its process group.
func (w *Worker) Kill() error {
	if w.reaped.Load() {
		return nil
	}
	return killProcess(w.cmd.Process)
}

// KillGroup kills whatever is left of the worker's process group. It is
// meant for after Wait, when background children of an exited worker may
// still be running.
func (w *Worker) KillGroup() error {
	return killGroup(w.cmd.Process)
}

// Close releases the read ends of both output pipes. Pending reads return
// os.ErrClosed.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		closeAll(w.stdout, w.stderr)
	})
	return nil
}
