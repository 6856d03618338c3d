package computepool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/utopia-dart/utopia-loadbalancer/internal/metrics"
)

// message is what travels between the pool and an executor inbox. It
// has two shapes: shutdown, which closes the executor, and a task,
// which runs the tagged handler and answers on reply.
type message struct {
	shutdown bool

	tag     string
	payload any
	reply   chan result
}

type result struct {
	value any
	err   error
}

// executor is one long-lived pool worker with its own inbox. The busy
// flag is the admission ticket: a submitter owns the executor from a
// successful compare-and-swap until its guaranteed release.
type executor struct {
	id    int
	inbox chan message
	busy  atomic.Bool
}

func newExecutor(id int) *executor {
	// Capacity one: whoever holds the busy flag (a submitter, or
	// Shutdown) deposits its single message without blocking.
	return &executor{id: id, inbox: make(chan message, 1)}
}

// run drains the inbox until a shutdown message arrives. The ready
// signal acknowledges the handshake so Start can wait for the full
// pool.
func (p *Pool) run(ex *executor, ready chan<- struct{}) {
	defer p.wg.Done()
	ready <- struct{}{}
	for msg := range ex.inbox {
		if msg.shutdown {
			return
		}
		msg.reply <- p.invoke(msg.tag, msg.payload)
	}
}

// invoke runs the named handler, converting a panic into an error
// result so a misbehaving handler never takes an executor down.
func (p *Pool) invoke(tag string, payload any) (res result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("compute: handler %q panicked: %v", tag, r)}
		}
		metrics.ComputeTaskDuration.WithLabelValues(tag).Observe(time.Since(start).Seconds())
	}()

	p.mu.RLock()
	fn, ok := p.handlers[tag]
	p.mu.RUnlock()
	if !ok {
		return result{err: fmt.Errorf("%w: %q", ErrUnknownHandler, tag)}
	}

	value, err := fn(payload)
	return result{value: value, err: err}
}
