//go:build !windows

package cluster

import (
	"os"

	"golang.org/x/sys/unix"
)

// shutdownSignals lists the signals that trigger supervisor shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM}
}

// terminateProcess asks a child to exit. Children are not given a drain
// window; in-flight requests die with the process.
func terminateProcess(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
