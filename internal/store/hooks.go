package store

import "sync"

// CommitHooks collects callbacks registered during a transaction. Store
// implementations embed it in their Tx and call Run after a successful commit
// or Discard on rollback.
type CommitHooks struct {
	mu    sync.Mutex
	hooks []func()
	done  bool
}

// AfterCommit queues fn. Registering on a finished transaction is a no-op.
func (h *CommitHooks) AfterCommit(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.hooks = append(h.hooks, fn)
}

// Run invokes the queued callbacks in registration order, once.
func (h *CommitHooks) Run() {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.done = true
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Discard drops the queued callbacks.
func (h *CommitHooks) Discard() {
	h.mu.Lock()
	h.hooks = nil
	h.done = true
	h.mu.Unlock()
}
