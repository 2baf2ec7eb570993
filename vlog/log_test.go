package vlog_test

import (
	"testing"

	"github.com/dplanitzer/apollo-sched/vlog"
)

func TestVIReturnsAnInfoLogRegardlessOfLevel(t *testing.T) {
	// VI must never panic or return nil: callers chain straight into
	// .Infof without checking, the way sched and kdispatch do at their
	// lifecycle log sites.
	for _, level := range []vlog.Level{0, 1, 2, 100} {
		got := vlog.VI(level)
		if got == nil {
			t.Fatalf("VI(%d) returned nil", level)
		}
		got.Infof("probe at level %d", level)
	}
}

func TestInfofDoesNotPanic(t *testing.T) {
	vlog.Infof("probe %s", "value")
}
