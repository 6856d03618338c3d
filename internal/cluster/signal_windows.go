//go:build windows

package cluster

import "os"

// shutdownSignals lists the signals that trigger supervisor shutdown.
// Windows has no SIGTERM delivery; only interrupt is watched.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}
