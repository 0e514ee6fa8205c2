//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

func terminateProcess(p *os.Process) error { return signalGroup(p, syscall.SIGTERM) }

func killProcess(p *os.Process) error { return signalGroup(p, syscall.SIGKILL) }

// signalGroup signals the whole process group led by p. A group that is
// already gone is not an error.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// The leader may have called setsid; fall back to the process itself.
		err = p.Signal(sig)
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	return err
}

// killGroup sends SIGKILL to the group only, never to the leader alone, so it
// is safe after the leader has been reaped.
func killGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
