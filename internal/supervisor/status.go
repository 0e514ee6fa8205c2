package supervisor

import (
	"time"

	"github.com/loykin/respawn/internal/quota"
)

// Phase is what the control loop is doing right now.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseBackoff   Phase = "backoff"
	PhaseQuotaWait Phase = "quota_wait"
	PhaseStopping  Phase = "stopping"
	PhaseStopped   Phase = "stopped"
)

// Status is a point-in-time view of the supervisor.
type Status struct {
	Name           string      `json:"name"`
	State          string      `json:"state"`
	Phase          Phase       `json:"phase"`
	PID            int         `json:"pid,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	Launches       int64       `json:"launches"`
	LaunchFailures int64       `json:"launch_failures"`
	CleanExits     int64       `json:"clean_exits"`
	FaultedExits   int64       `json:"faulted_exits"`
	ForcedKills    int64       `json:"forced_kills"`
	Quota          quota.Quota `json:"quota"`
	LastOutcome    string      `json:"last_outcome,omitempty"`
	LastExitCode   *int        `json:"last_exit_code,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// Running reports whether a worker generation is currently active.
func (s Status) Running() bool { return s.PID != 0 }
