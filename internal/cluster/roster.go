package cluster

import "sync"

// Roster is the supervisor's live list of worker handles. Only the
// supervisor mutates it; readers get a copied snapshot so selection
// never observes a mutation in progress.
type Roster struct {
	mu      sync.RWMutex
	workers []*WorkerHandle
}

// Snapshot returns a copy of the current handle list.
func (r *Roster) Snapshot() []*WorkerHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkerHandle, len(r.workers))
	copy(out, r.workers)
	return out
}

// Size returns the number of live handles.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// reset publishes a complete handle list in one guarded assignment.
func (r *Roster) reset(workers []*WorkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append([]*WorkerHandle(nil), workers...)
}

func (r *Roster) add(w *WorkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

func (r *Roster) remove(w *WorkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.workers {
		if cur == w {
			r.workers = append(r.workers[:i], r.workers[i+1:]...)
			return
		}
	}
}
