package supervisor

import (
	"io"
	"time"

	"github.com/loykin/respawn/internal/process"
)

// Worker is one running generation of the supervised program.
type Worker interface {
	PID() int
	StartedAt() time.Time
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the worker has been reaped.
	Wait() process.Exit
	Terminate() error
	Kill() error
	// Close releases the output streams; pending reads end.
	Close() error
}

// groupKiller is implemented by workers whose background children can
// outlive them.
type groupKiller interface {
	KillGroup() error
}

// LaunchFunc starts a new worker generation. Errors are treated as a faulted
// outcome of the iteration.
type LaunchFunc func() (Worker, error)

// ProcessLauncher launches spec as an OS process on every call.
func ProcessLauncher(spec process.Spec) LaunchFunc {
	return func() (Worker, error) {
		w, err := process.Launch(spec)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}
