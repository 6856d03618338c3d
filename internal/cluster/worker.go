package cluster

import (
	"fmt"
	"os"
	"sync/atomic"
)

// WorkerHandle describes one supervised child process. The supervisor
// owns the handle and replaces it across restarts; the proxy reads it
// and mutates only the connection counter.
type WorkerHandle struct {
	// ID is the stable worker identity in [0,N).
	ID int
	// Port is BasePort+ID; the id→port mapping survives restarts.
	Port int

	proc  atomic.Pointer[os.Process]
	conns atomic.Int64
}

// NewWorkerHandle creates a handle for a worker that has not been
// spawned yet.
func NewWorkerHandle(id, port int) *WorkerHandle {
	return &WorkerHandle{ID: id, Port: port}
}

// Process returns the live child process, or nil pre-spawn and
// mid-restart.
func (w *WorkerHandle) Process() *os.Process {
	return w.proc.Load()
}

func (w *WorkerHandle) setProcess(p *os.Process) {
	w.proc.Store(p)
}

// ActiveConnections returns the number of in-flight upstream streams
// the proxy currently holds against this worker.
func (w *WorkerHandle) ActiveConnections() int64 {
	return w.conns.Load()
}

// AcquireConnection records an upstream stream before it is opened.
func (w *WorkerHandle) AcquireConnection() {
	w.conns.Add(1)
}

// ReleaseConnection records the end of an upstream stream. It runs in a
// guaranteed cleanup step, on error paths included.
func (w *WorkerHandle) ReleaseConnection() {
	w.conns.Add(-1)
}

// URL returns the worker's loopback base URL.
func (w *WorkerHandle) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", w.Port)
}
