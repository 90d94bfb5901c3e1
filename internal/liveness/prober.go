// Package liveness answers whether the process that claimed a task is
// still running. Recovery sweeps use it to tell an active worker from
// one that died and left its task behind.
package liveness

// Prober reports whether a process is alive.
type Prober interface {
	// Alive reports whether a process with the given pid exists. Pids
	// that could never have been issued (zero or negative) are dead.
	// An error means the answer is unknown, not that the process is
	// gone.
	Alive(pid int) (bool, error)
}

// ProcessProber probes the local process table. The implementation is
// platform-specific; see the build-tagged files in this package.
type ProcessProber struct{}

// Ensure the platform implementations satisfy the interface.
var _ Prober = ProcessProber{}

// NewProcessProber returns a Prober for processes on this machine.
func NewProcessProber() ProcessProber {
	return ProcessProber{}
}
