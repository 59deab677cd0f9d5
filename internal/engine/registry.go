package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"flowplane/internal/store"
)

// Registry resolves engine variants by tag. Tags are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	engines    map[string]*Engine
	defaultTag string
}

// NewRegistry creates an empty registry whose default variant is defaultTag.
func NewRegistry(defaultTag string) *Registry {
	return &Registry{
		engines:    make(map[string]*Engine),
		defaultTag: strings.ToLower(defaultTag),
	}
}

// Register binds tag to e, replacing any previous binding.
func (r *Registry) Register(tag string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[strings.ToLower(tag)] = e
}

// Get returns the engine registered under tag.
func (r *Registry) Get(tag string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[strings.ToLower(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDispatcher, tag)
	}
	return e, nil
}

// Resolve is Get with an empty tag meaning the default variant.
func (r *Registry) Resolve(tag string) (*Engine, error) {
	if tag == "" {
		if e := r.Default(); e != nil {
			return e, nil
		}
	}
	return r.Get(tag)
}

// Default returns the default variant, or nil if it is not registered.
func (r *Registry) Default() *Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[r.defaultTag]
}

// Tags lists the registered tags in order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.engines))
	for t := range r.engines {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// engineFor picks the variant that created exec, falling back to the default.
func (r *Registry) engineFor(exec *store.Executor) *Engine {
	if e, err := r.Get(exec.Engine); err == nil {
		return e
	}
	return r.Default()
}

// Recover reschedules work interrupted by a restart. Node executors left
// RUNNING are reset to PENDING, then every PENDING executor is enqueued on
// its variant. It returns the number of executors scheduled.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	def := r.Default()
	if def == nil {
		return 0, fmt.Errorf("%w: default %q is not registered", ErrUnknownDispatcher, r.defaultTag)
	}

	running, err := def.store.ListExecutorsByStatus(ctx, nil, store.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running executors: %w", err)
	}
	for i := range running {
		x := &running[i]
		if x.Type != store.ExecutorTypeNode {
			continue
		}
		if err := r.engineFor(x).reset(ctx, x.ID); err != nil {
			return 0, err
		}
	}

	pending, err := def.store.ListExecutorsByStatus(ctx, nil, store.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending executors: %w", err)
	}
	for i := range pending {
		x := &pending[i]
		r.engineFor(x).enqueue(withExecutor(ctx, x), x.ID)
	}
	return len(pending), nil
}

// reset returns a RUNNING node executor to PENDING.
func (e *Engine) reset(ctx context.Context, executorID string) error {
	return e.inTx(ctx, func(tx store.Tx) error {
		exec, err := e.store.GetExecutor(ctx, tx, executorID)
		if err != nil {
			return fmt.Errorf("reset executor %s: %w", executorID, err)
		}
		if exec.Status != store.StatusRunning {
			return nil
		}
		ctx := withExecutor(ctx, exec)
		exec.Status = store.StatusPending
		if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
			return err
		}
		return e.audit(ctx, tx, recoveredEntry(exec))
	})
}
