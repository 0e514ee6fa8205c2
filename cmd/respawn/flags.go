package main

import (
	"time"

	"github.com/loykin/respawn/internal/config"
)

// RunFlags override the matching config keys when set on the command line.
type RunFlags struct {
	Name            string
	MaxRestarts     int
	RestartInterval time.Duration
	GracePeriod     time.Duration
	LogFile         string
	LockFile        string
	Listen          string
}

// HistoryFlags select the store and how much of it to print.
type HistoryFlags struct {
	DSN   string
	Limit int
	JSON  bool
}

// applyRunFlags copies every flag reported as changed into c.
func applyRunFlags(c *config.Config, f *RunFlags, changed func(string) bool) {
	if changed("name") {
		c.Worker.Name = f.Name
	}
	if changed("max-restarts") {
		c.Policy.MaxRestartsPerDay = f.MaxRestarts
	}
	if changed("restart-interval") {
		c.Policy.RestartInterval = f.RestartInterval
	}
	if changed("grace-period") {
		c.Policy.GracePeriod = f.GracePeriod
	}
	if changed("log-file") {
		c.Log.File = f.LogFile
	}
	if changed("lock-file") {
		c.LockFile = f.LockFile
	}
	if changed("listen") {
		c.Server.Listen = f.Listen
	}
}
