package proxy

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/utopia-dart/utopia-loadbalancer/internal/cluster"
	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
)

// Selector picks a worker from a roster snapshot. Implementations must
// be safe for concurrent use; Select is called once per request.
type Selector interface {
	// Select returns a worker from workers, or nil when the slice is
	// empty.
	Select(workers []*cluster.WorkerHandle) *cluster.WorkerHandle
}

// NewSelector returns the selector for the configured strategy.
func NewSelector(s config.Strategy) Selector {
	switch s {
	case config.LeastConnections:
		return &leastConnections{}
	case config.Random:
		return &random{}
	default:
		return &roundRobin{}
	}
}

// roundRobin cycles through the roster. Under serialized calls the
// sequence is exactly W[0], W[1], ..., W[N-1], W[0], ...
type roundRobin struct {
	cursor atomic.Uint64
}

func (r *roundRobin) Select(workers []*cluster.WorkerHandle) *cluster.WorkerHandle {
	if len(workers) == 0 {
		return nil
	}
	n := r.cursor.Add(1) - 1
	return workers[n%uint64(len(workers))]
}

// leastConnections returns the worker with the fewest in-flight
// streams. Ties go to the first occurrence in the roster.
type leastConnections struct{}

func (l *leastConnections) Select(workers []*cluster.WorkerHandle) *cluster.WorkerHandle {
	var best *cluster.WorkerHandle
	for _, w := range workers {
		if best == nil || w.ActiveConnections() < best.ActiveConnections() {
			best = w
		}
	}
	return best
}

// random samples a worker uniformly.
type random struct{}

func (r *random) Select(workers []*cluster.WorkerHandle) *cluster.WorkerHandle {
	if len(workers) == 0 {
		return nil
	}
	return workers[rand.IntN(len(workers))]
}
