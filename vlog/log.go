// Package vlog is a thin façade over github.com/cosmosnicolaou/llog,
// adapted from the teacher's vlog package and trimmed to the surface this
// module actually logs through: a package-level Infof and the
// verbosity-gated VI(level).Infof pattern used at VCPU and dispatcher
// lifecycle transitions (sched.Kernel.Acquire/Terminate, kdispatch's worker
// spawn/relinquish and dispatcher termination).
package vlog

import "github.com/cosmosnicolaou/llog"

const stackSkip = 1

var log = llog.NewLogger("apollo-sched", stackSkip)

// Level is the verbosity threshold passed to VI.
type Level llog.Level

// InfoLog is returned by VI: either the real logger, if its verbosity
// threshold is met, or a discarding stand-in otherwise.
type InfoLog interface {
	// Infof logs to the INFO log, in the manner of fmt.Printf.
	Infof(format string, args ...interface{})
}

// Infof logs to the INFO log, in the manner of fmt.Printf.
func Infof(format string, args ...interface{}) {
	log.Printf(llog.InfoLog, format, args...)
}

type infoLogger struct{}

func (infoLogger) Infof(format string, args ...interface{}) {
	log.Printf(llog.InfoLog, format, args...)
}

type discardInfo struct{}

func (discardInfo) Infof(string, ...interface{}) {}

// VI returns an InfoLog that logs if level is at or below the configured
// verbosity, or silently discards otherwise (vlog.VI(2).Infof(...) style).
func VI(level Level) InfoLog {
	if log.V(llog.Level(level)) {
		return infoLogger{}
	}
	return discardInfo{}
}
