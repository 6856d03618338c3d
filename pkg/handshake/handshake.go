// Package handshake exposes the environment-variable handshake by which
// the supervisor tells a spawned child its role. Hosted worker code can
// query it to learn whether it runs under cluster scaling and, if so,
// which port to bind.
package handshake

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables the supervisor sets on every spawned worker.
const (
	EnvProcessID   = "UTOPIA_PROCESS_ID"
	EnvWorkerPort  = "UTOPIA_WORKER_PORT"
	EnvScalingMode = "UTOPIA_SCALING_MODE"

	// ModeWorker is the EnvScalingMode value marking a supervised child.
	ModeWorker = "worker"
)

// Info is a read-only snapshot of the handshake environment. The entry
// point reads it exactly once before dispatch; nothing re-inspects the
// environment afterwards.
type Info struct {
	processID  int
	workerPort int
	mode       string
	hasID      bool
	hasPort    bool
}

// FromEnv parses the handshake variables from the process environment.
func FromEnv() Info {
	return fromEnviron(os.Getenv)
}

func fromEnviron(getenv func(string) string) Info {
	info := Info{mode: getenv(EnvScalingMode)}
	if v, err := strconv.Atoi(getenv(EnvProcessID)); err == nil && v >= 0 {
		info.processID = v
		info.hasID = true
	}
	if v, err := strconv.Atoi(getenv(EnvWorkerPort)); err == nil && v >= 0 {
		info.workerPort = v
		info.hasPort = true
	}
	return info
}

// Complete reports whether the handshake is complete: both
// EnvProcessID and EnvWorkerPort parse as non-negative integers. A
// process with a complete handshake must run in worker mode; any other
// process runs as supervisor.
func (i Info) Complete() bool {
	return i.hasID && i.hasPort
}

// IsCluster reports whether the process runs under cluster scaling,
// i.e. EnvScalingMode is set at all.
func (i Info) IsCluster() bool {
	return i.mode != ""
}

// IsWorker reports whether EnvScalingMode marks this process as a
// worker.
func (i Info) IsWorker() bool {
	return i.mode == ModeWorker
}

// ProcessID returns the stable worker id, if present.
func (i Info) ProcessID() (int, bool) {
	return i.processID, i.hasID
}

// WorkerPort returns the TCP port the worker must bind, if present.
func (i Info) WorkerPort() (int, bool) {
	return i.workerPort, i.hasPort
}

// WorkerEnv returns the three handshake variables for a child with the
// given id and port, in KEY=value form ready to append to os.Environ().
func WorkerEnv(id, port int) []string {
	return []string{
		fmt.Sprintf("%s=%d", EnvProcessID, id),
		fmt.Sprintf("%s=%d", EnvWorkerPort, port),
		fmt.Sprintf("%s=%s", EnvScalingMode, ModeWorker),
	}
}
