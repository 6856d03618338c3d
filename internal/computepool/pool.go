// Package computepool provides a bounded pool of long-lived executors
// for delegating CPU-intensive callbacks off the request-serving
// goroutine. Computations are registered up front in a handler table
// and selected per submission by tag; nothing resembling code crosses
// the executor boundary.
package computepool

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/utopia-dart/utopia-loadbalancer/internal/metrics"
)

// Handler is a registered computation. Handlers must be safe for
// concurrent use: under saturation a submission runs inline on the
// caller's goroutine while executors process others in parallel.
type Handler func(payload any) (any, error)

// ErrUnknownHandler is returned when a submission names a tag that was
// never registered.
var ErrUnknownHandler = errors.New("compute: unknown handler tag")

// Pool is a fixed set of executors. When every executor is busy a
// submission runs inline instead of queueing: the pool trades queueing
// for latency.
type Pool struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	executors []*executor
	cursor    atomic.Uint64
	started   atomic.Bool
	wg        sync.WaitGroup
}

// New creates a pool that will run size executors. Register handlers,
// then call Start. A size of zero is valid: every submission runs
// inline.
func New(size int) *Pool {
	p := &Pool{handlers: make(map[string]Handler)}
	for i := 0; i < size; i++ {
		p.executors = append(p.executors, newExecutor(i))
	}
	return p
}

// Register binds tag to fn. Later registrations under the same tag
// replace earlier ones.
func (p *Pool) Register(tag string, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[tag] = fn
}

// Start launches the executors and returns once every one of them has
// acknowledged its inbox.
func (p *Pool) Start() {
	ready := make(chan struct{}, len(p.executors))
	for _, ex := range p.executors {
		p.wg.Add(1)
		go p.run(ex, ready)
	}
	for range p.executors {
		<-ready
	}
	p.started.Store(true)
	log.Printf("compute: %d executors started", len(p.executors))
}

// Submit runs the named handler on payload: on an idle executor when
// one exists, inline on the caller's goroutine otherwise. It blocks
// until the result is available.
func (p *Pool) Submit(tag string, payload any) (any, error) {
	ex := p.acquire()
	if ex == nil {
		if len(p.executors) > 0 && p.started.Load() {
			id := uuid.New().String()[:8]
			log.Printf("compute: task %s (%s) running inline, pool saturated", id, tag)
		}
		metrics.ComputeTasksTotal.WithLabelValues(tag, "inline").Inc()
		res := p.invoke(tag, payload)
		return res.value, res.err
	}
	defer ex.busy.Store(false)

	metrics.ComputeTasksTotal.WithLabelValues(tag, "executor").Inc()
	reply := make(chan result, 1)
	ex.inbox <- message{tag: tag, payload: payload, reply: reply}
	res := <-reply
	return res.value, res.err
}

// acquire scans from the cursor for the first idle executor and marks
// it busy. Returns nil when the pool is saturated, not started, or
// sized zero.
func (p *Pool) acquire() *executor {
	if !p.started.Load() {
		return nil
	}
	n := len(p.executors)
	if n == 0 {
		return nil
	}
	start := p.cursor.Load()
	for i := 0; i < n; i++ {
		idx := (start + uint64(i)) % uint64(n)
		ex := p.executors[idx]
		if ex.busy.CompareAndSwap(false, true) {
			p.cursor.Store(idx + 1)
			return ex
		}
	}
	return nil
}

// Shutdown tells every executor to terminate and waits for them.
// Submissions after shutdown run inline.
func (p *Pool) Shutdown() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	for _, ex := range p.executors {
		// Take ownership of the executor first so a submission racing
		// the shutdown can never deposit a task behind the shutdown
		// message and wait forever on its reply.
		for !ex.busy.CompareAndSwap(false, true) {
			time.Sleep(time.Millisecond)
		}
		ex.inbox <- message{shutdown: true}
	}
	p.wg.Wait()
	log.Printf("compute: pool shut down")
}
