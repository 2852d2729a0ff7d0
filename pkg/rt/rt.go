// Package rt applies best-effort latency hardening to the process:
// realtime scheduling and locked memory, so preemption and paging do
// not show up as outliers in the measurements.
package rt

import (
	"fmt"

	"github.com/gologme/log"
	"golang.org/x/sys/unix"
)

// Priority is the SCHED_RR priority requested for measurement runs.
const Priority = 20

// SetRealtime moves the process onto the round robin realtime
// scheduler at the given priority. Requires CAP_SYS_NICE or an
// appropriate rlimit.
func SetRealtime(prio uint32) error {
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_RR,
		Priority: prio,
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr: %w", err)
	}
	return nil
}

// LockMemory pins current and future pages into RAM so the timing
// loops never stall on a major page fault.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// Harden applies realtime priority and memory locking, logging a
// warning and continuing when the environment does not grant the
// needed privileges.
func Harden(logger *log.Logger) {
	if err := SetRealtime(Priority); err != nil {
		logger.Warnln("realtime priority not applied:", err)
	}
	if err := LockMemory(); err != nil {
		logger.Warnln("memory locking not applied:", err)
	}
}

// PageFaults reports the process's cumulative minor and major page
// fault counts. Deltas across a run indicate whether memory locking
// held.
func PageFaults() (minor, major int64, err error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, 0, fmt.Errorf("getrusage: %w", err)
	}
	return ru.Minflt, ru.Majflt, nil
}
