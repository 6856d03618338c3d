package cluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
)

func TestWorkerHandle(t *testing.T) {
	w := NewWorkerHandle(2, 8082)

	assert.Equal(t, 2, w.ID)
	assert.Equal(t, 8082, w.Port)
	assert.Nil(t, w.Process(), "pre-spawn handle has no process")
	assert.Equal(t, "http://127.0.0.1:8082", w.URL())
}

func TestWorkerHandleConnectionCounter(t *testing.T) {
	w := NewWorkerHandle(0, 8080)

	w.AcquireConnection()
	w.AcquireConnection()
	assert.Equal(t, int64(2), w.ActiveConnections())

	w.ReleaseConnection()
	assert.Equal(t, int64(1), w.ActiveConnections())
	w.ReleaseConnection()
	assert.Equal(t, int64(0), w.ActiveConnections())
}

func TestWorkerHandleConcurrentCounter(t *testing.T) {
	w := NewWorkerHandle(0, 8080)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.AcquireConnection()
			w.ReleaseConnection()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), w.ActiveConnections())
}

func TestRoster(t *testing.T) {
	r := &Roster{}
	assert.Equal(t, 0, r.Size())

	w0 := NewWorkerHandle(0, 8080)
	w1 := NewWorkerHandle(1, 8081)
	r.add(w0)
	r.add(w1)
	require.Equal(t, 2, r.Size())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Same(t, w0, snap[0])
	assert.Same(t, w1, snap[1])

	r.remove(w0)
	assert.Equal(t, 1, r.Size())
	assert.Same(t, w1, r.Snapshot()[0])

	// Removing an absent handle is a no-op.
	r.remove(w0)
	assert.Equal(t, 1, r.Size())
}

func TestRosterResetPublishesInGivenOrder(t *testing.T) {
	r := &Roster{}
	// Leftover entries from a previous generation are discarded.
	r.add(NewWorkerHandle(9, 9009))

	handles := []*WorkerHandle{
		NewWorkerHandle(0, 8080),
		NewWorkerHandle(1, 8081),
		NewWorkerHandle(2, 8082),
	}
	r.reset(handles)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, w := range snap {
		assert.Equal(t, i, w.ID)
		assert.Equal(t, 8080+i, w.Port)
	}

	// The roster holds its own copy of the slice.
	handles[0] = nil
	require.NotNil(t, r.Snapshot()[0])
}

func TestRosterSnapshotIsolation(t *testing.T) {
	r := &Roster{}
	r.add(NewWorkerHandle(0, 8080))

	snap := r.Snapshot()
	snap[0] = nil
	require.NotNil(t, r.Snapshot()[0], "mutating a snapshot must not touch the roster")
}

func TestRosterRestartBookkeeping(t *testing.T) {
	// The restart cycle removes the dead handle and appends a fresh one
	// under the same id and port.
	r := &Roster{}
	old := NewWorkerHandle(0, 8080)
	old.AcquireConnection()
	r.add(old)

	r.remove(old)
	fresh := NewWorkerHandle(old.ID, old.Port)
	r.add(fresh)

	require.Equal(t, 1, r.Size())
	got := r.Snapshot()[0]
	assert.Equal(t, 0, got.ID)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, int64(0), got.ActiveConnections(), "restart resets the counter")
}

func TestSupervisorWorkerURLs(t *testing.T) {
	cfg := &config.Config{Processes: 3, BasePort: 8080, Strategy: config.RoundRobin, Mode: config.ModeCluster}
	sup := NewSupervisor(cfg, []string{"serve"})

	assert.Equal(t, []string{
		"http://127.0.0.1:8080",
		"http://127.0.0.1:8081",
		"http://127.0.0.1:8082",
	}, sup.WorkerURLs())
}

func TestSupervisorStartsEmpty(t *testing.T) {
	cfg := &config.Config{Processes: 2, BasePort: 8080, Strategy: config.RoundRobin, Mode: config.ModeCluster}
	sup := NewSupervisor(cfg, nil)

	assert.Equal(t, 0, sup.Roster().Size())
}

func TestSupervisorShutdownIdempotent(t *testing.T) {
	cfg := &config.Config{Processes: 1, BasePort: 8080, Strategy: config.RoundRobin, Mode: config.ModeCluster}
	sup := NewSupervisor(cfg, nil)

	sup.Shutdown()
	sup.Shutdown()
}
