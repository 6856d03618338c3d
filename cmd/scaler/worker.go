package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/utopia-dart/utopia-loadbalancer/internal/computepool"
	"github.com/utopia-dart/utopia-loadbalancer/internal/workerserver"
	"github.com/utopia-dart/utopia-loadbalancer/pkg/handshake"
)

func runWorker(info handshake.Info) {
	id, _ := info.ProcessID()
	port, _ := info.WorkerPort()
	runWorkerAt(id, port, computeExecutors())
}

func runWorkerAt(id, port, executors int) {
	pool := computepool.New(executors)
	registerHandlers(pool)
	pool.Start()
	defer pool.Shutdown()

	log.Printf("worker %d: starting on port %d (pid %d)", id, port, os.Getpid())
	srv := workerserver.New(id, port, pool)
	if err := srv.Start(); err != nil {
		log.Fatalf("worker %d: %v", id, err)
	}
}

func computeExecutors() int {
	if v := os.Getenv("UTOPIA_COMPUTE_EXECUTORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// registerHandlers installs the demonstration computations. Payloads
// arrive as the raw request body string.
func registerHandlers(pool *computepool.Pool) {
	pool.Register("echo", func(payload any) (any, error) {
		return payload, nil
	})

	pool.Register("sha256", func(payload any) (any, error) {
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("sha256: want string payload, got %T", payload)
		}
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	})

	pool.Register("fib", func(payload any) (any, error) {
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("fib: want string payload, got %T", payload)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("fib: %w", err)
		}
		if n < 0 || n > 90 {
			return nil, fmt.Errorf("fib: n must be in [0,90], got %d", n)
		}
		var a, b int64 = 0, 1
		for i := 0; i < n; i++ {
			a, b = b, a+b
		}
		return a, nil
	})
}
