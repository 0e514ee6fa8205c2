package process

import (
	"errors"
	"os/exec"
	"strings"
)

// ErrEmptyCommand is returned when a Spec carries no command to run.
var ErrEmptyCommand = errors.New("worker command is empty")

// Spec describes the worker to launch.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // executable, or a full command line when Args is empty
	Args    []string `json:"args" mapstructure:"args"`       // when set, Command is exec'd directly with these args
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // appended to the supervisor environment, later entries win
}

// String renders the command line for logs.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return strings.TrimSpace(s.Command)
	}
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With Args the command is executed as-is. Otherwise the command string is
// parsed: an explicit "sh -c ..." prefix is honoured without double wrapping,
// shell metacharacters route through the platform shell, and anything else
// is split on whitespace.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return nil, ErrEmptyCommand
	}
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, s.Args...), nil
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC), nil
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr), nil
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...), nil
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
