// Package cluster implements the supervisor side of the scaling
// toolkit: it spawns one child process per worker id, hands each its
// role through the handshake environment, forwards child stdio, and
// respawns any child that exits.
package cluster

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
	"github.com/utopia-dart/utopia-loadbalancer/internal/metrics"
	"github.com/utopia-dart/utopia-loadbalancer/pkg/handshake"
)

// restartBackoff is the fixed delay between observing a worker exit and
// respawning it. Restarts are unbounded; there is no crash-loop
// breaker.
const restartBackoff = 2 * time.Second

// Supervisor owns the worker roster. Children are respawns of the
// current executable with the supplied argv; the handshake environment
// keeps them from re-entering supervisor mode.
type Supervisor struct {
	cfg    *config.Config
	argv   []string
	roster *Roster

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor for the given configuration. argv
// is passed to every child verbatim.
func NewSupervisor(cfg *config.Config, argv []string) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		argv:   argv,
		roster: &Roster{},
		stop:   make(chan struct{}),
	}
}

// Roster returns the live worker list, for the proxy to select from.
func (s *Supervisor) Roster() *Roster {
	return s.roster
}

// Start spawns all workers concurrently and returns once every spawn
// call has completed. The roster is published in id order regardless of
// which spawn finished first, so positional selection starts at worker
// 0. A spawn refused by the OS is fatal: the first error is returned
// and the caller exits non-zero.
func (s *Supervisor) Start() error {
	var wg sync.WaitGroup
	handles := make([]*WorkerHandle, s.cfg.Processes)
	cmds := make([]*exec.Cmd, s.cfg.Processes)
	errs := make([]error, s.cfg.Processes)
	for id := 0; id < s.cfg.Processes; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			handles[id], cmds[id], errs[id] = s.spawn(id)
		}(id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	s.roster.reset(handles)
	for i, w := range handles {
		s.wg.Add(1)
		go s.watch(w, cmds[i])
	}

	log.Printf("supervisor: %d workers started on ports %d..%d",
		s.cfg.Processes, s.cfg.BasePort, s.cfg.BasePort+s.cfg.Processes-1)
	return nil
}

func (s *Supervisor) spawn(id int) (*WorkerHandle, *exec.Cmd, error) {
	port := s.cfg.BasePort + id

	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, s.argv...)
	cmd.Env = append(os.Environ(), handshake.WorkerEnv(id, port)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("spawn worker %d on port %d: %w", id, port, err)
	}

	w := NewWorkerHandle(id, port)
	w.setProcess(cmd.Process)
	metrics.WorkersRunning.Inc()
	log.Printf("supervisor: worker %d started on port %d (pid %d)", id, port, cmd.Process.Pid)
	return w, cmd, nil
}

// watch drives one worker slot's restart cycle: observe the exit, log,
// remove the dead handle, back off, respawn under the same id and port.
func (s *Supervisor) watch(w *WorkerHandle, cmd *exec.Cmd) {
	defer s.wg.Done()

	for {
		_ = cmd.Wait()
		code := cmd.ProcessState.ExitCode()

		w.setProcess(nil)
		s.roster.remove(w)
		metrics.WorkersRunning.Dec()

		select {
		case <-s.stop:
			return
		default:
		}

		log.Printf("supervisor: worker %d (port %d) exited with code %d, restarting in %s",
			w.ID, w.Port, code, restartBackoff)
		metrics.WorkerRestartsTotal.WithLabelValues(strconv.Itoa(w.ID)).Inc()

		select {
		case <-time.After(restartBackoff):
		case <-s.stop:
			return
		}

		fresh, freshCmd, err := s.spawn(w.ID)
		if err != nil {
			log.Fatalf("supervisor: %v", err)
		}
		s.roster.add(fresh)
		w, cmd = fresh, freshCmd
	}
}

// Wait blocks until a shutdown signal arrives, then terminates the
// cluster. SIGINT is watched on all platforms, SIGTERM everywhere but
// Windows.
func (s *Supervisor) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, shutdownSignals()...)
	<-quit
	log.Println("supervisor: shutting down...")
	s.Shutdown()
}

// Shutdown signals every live child and returns. In-flight requests are
// not drained; the supervisor exits immediately after.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	for _, w := range s.roster.Snapshot() {
		p := w.Process()
		if p == nil {
			continue
		}
		if err := terminateProcess(p); err != nil {
			log.Printf("supervisor: terminate worker %d (pid %d): %v", w.ID, p.Pid, err)
		}
	}
}

// WorkerURLs lists the loopback URLs of all configured workers, for
// operator output when the proxy is disabled.
func (s *Supervisor) WorkerURLs() []string {
	urls := make([]string, s.cfg.Processes)
	for id := 0; id < s.cfg.Processes; id++ {
		urls[id] = fmt.Sprintf("http://127.0.0.1:%d", s.cfg.BasePort+id)
	}
	return urls
}
