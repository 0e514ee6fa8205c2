//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no SIGTERM for console-less children; terminate is a hard kill.
func terminateProcess(p *os.Process) error { return killProcess(p) }

func killProcess(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Windows children are not grouped; there is nothing left to kill once the
// worker has exited.
func killGroup(*os.Process) error { return nil }
