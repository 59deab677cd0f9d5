package embedded

import (
	"context"
	"fmt"
	"sort"
	"time"

	"flowplane/internal/store"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

func (s *Store) GetWorkflow(ctx context.Context, tx store.Tx, id string) (*store.Workflow, error) {
	var wf store.Workflow
	err := s.view(tx, func(txn *badger.Txn) error {
		return get(txn, key(prefixWorkflow, id), &wf)
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows returns definition headers without nodes and edges.
func (s *Store) ListWorkflows(ctx context.Context, tx store.Tx) ([]store.Workflow, error) {
	var workflows []store.Workflow
	err := s.view(tx, func(txn *badger.Txn) error {
		return scan(txn, prefix(prefixWorkflow), func(wf *store.Workflow) {
			wf.Nodes, wf.Edges = nil, nil
			workflows = append(workflows, *wf)
		})
	})
	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
	return workflows, err
}

func (s *Store) CountWorkflows(ctx context.Context, tx store.Tx) (int64, error) {
	var count int64
	err := s.view(tx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := prefix(prefixWorkflow)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) CreateWorkflow(ctx context.Context, tx store.Tx, wf *store.Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	rec := *wf
	rec.Edges = make([]store.Edge, len(wf.Edges))
	for i, e := range wf.Edges {
		e.Data.ApprovalTimeout = "1"
		rec.Edges[i] = e
	}

	return s.update(tx, func(txn *badger.Txn) error {
		k := key(prefixWorkflow, wf.ID)
		ok, err := exists(txn, k)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("insert workflow: %w", store.ErrAlreadyExists)
		}
		return put(txn, k, &rec)
	})
}

func (s *Store) DeleteWorkflow(ctx context.Context, tx store.Tx, id string) error {
	return s.update(tx, func(txn *badger.Txn) error {
		k := key(prefixWorkflow, id)
		ok, err := exists(txn, k)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		return txn.Delete(k)
	})
}

func (s *Store) SaveExecutor(ctx context.Context, tx store.Tx, e *store.Executor) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	return s.update(tx, func(txn *badger.Txn) error {
		return put(txn, key(prefixExecutor, e.ID), e)
	})
}

func (s *Store) SaveExecutors(ctx context.Context, tx store.Tx, es []*store.Executor) error {
	for _, e := range es {
		if err := s.SaveExecutor(ctx, tx, e); err != nil {
			return fmt.Errorf("save executor %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *Store) GetExecutor(ctx context.Context, tx store.Tx, id string) (*store.Executor, error) {
	var e store.Executor
	err := s.view(tx, func(txn *badger.Txn) error {
		return get(txn, key(prefixExecutor, id), &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) listExecutors(tx store.Tx, match func(*store.Executor) bool) ([]store.Executor, error) {
	var executors []store.Executor
	err := s.view(tx, func(txn *badger.Txn) error {
		return scan(txn, prefix(prefixExecutor), func(e *store.Executor) {
			if match(e) {
				executors = append(executors, *e)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sortExecutors(executors)
	return executors, nil
}

func (s *Store) ListExecutors(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	return s.listExecutors(tx, func(*store.Executor) bool { return true })
}

func (s *Store) ListExecutorsByWorkflow(ctx context.Context, tx store.Tx, workflowID string) ([]store.Executor, error) {
	return s.listExecutors(tx, func(e *store.Executor) bool {
		return e.WorkflowID == workflowID
	})
}

func (s *Store) ListExecutorsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.Executor, error) {
	return s.listExecutors(tx, func(e *store.Executor) bool {
		return e.ServiceID == serviceID
	})
}

func (s *Store) ListExecutorsByWorkflowAndChild(ctx context.Context, tx store.Tx, workflowID, childID string) ([]store.Executor, error) {
	return s.listExecutors(tx, func(e *store.Executor) bool {
		return e.WorkflowID == workflowID && e.ChildrenID == childID
	})
}

func (s *Store) ListExecutorsByStatus(ctx context.Context, tx store.Tx, status store.ExecutorStatus) ([]store.Executor, error) {
	return s.listExecutors(tx, func(e *store.Executor) bool {
		return e.Status == status
	})
}

func (s *Store) ListPendingApprovalEdges(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	return s.listExecutors(tx, func(e *store.Executor) bool {
		return e.Type == store.ExecutorTypeEdge && e.Status == store.StatusWaitingForApproval
	})
}

// LockChild is a no-op: write transactions already exclude each other.
func (s *Store) LockChild(ctx context.Context, tx store.Tx, workflowID, serviceID, childID string) error {
	if tx == nil {
		return fmt.Errorf("lock child %s: transaction required", childID)
	}
	return nil
}

type instanceRecord struct {
	WorkflowID  string
	ServiceID   string
	CompletedAt time.Time
}

func (s *Store) MarkInstanceCompleted(ctx context.Context, tx store.Tx, workflowID, serviceID string) (bool, error) {
	created := false
	err := s.update(tx, func(txn *badger.Txn) error {
		k := key(prefixInstance, workflowID, serviceID)
		ok, err := exists(txn, k)
		if err != nil || ok {
			return err
		}
		created = true
		return put(txn, k, &instanceRecord{
			WorkflowID:  workflowID,
			ServiceID:   serviceID,
			CompletedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) AppendLog(ctx context.Context, tx store.Tx, entry *store.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// Keys sort by service, then time, so a prefix scan yields one service's
	// log in order.
	ts := fmt.Sprintf("%020d", entry.Timestamp.UnixNano())
	return s.update(tx, func(txn *badger.Txn) error {
		return put(txn, key(prefixLog, entry.ServiceID, ts, entry.ID), entry)
	})
}

func (s *Store) ListLogsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.ExecutionLog, error) {
	var logs []store.ExecutionLog
	err := s.view(tx, func(txn *badger.Txn) error {
		return scan(txn, prefix(prefixLog, serviceID), func(l *store.ExecutionLog) {
			logs = append(logs, *l)
		})
	})
	return logs, err
}

func (s *Store) CreateMapping(ctx context.Context, tx store.Tx, m *store.WorkflowMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return s.update(tx, func(txn *badger.Txn) error {
		return put(txn, key(prefixMapping, m.ID), m)
	})
}

func (s *Store) ListMappings(ctx context.Context, tx store.Tx) ([]store.WorkflowMapping, error) {
	return s.listMappings(tx, func(*store.WorkflowMapping) bool { return true })
}

func (s *Store) ListMappingsByWorkflow(ctx context.Context, tx store.Tx, workflowID string) ([]store.WorkflowMapping, error) {
	return s.listMappings(tx, func(m *store.WorkflowMapping) bool {
		return m.WorkflowID == workflowID
	})
}

func (s *Store) listMappings(tx store.Tx, match func(*store.WorkflowMapping) bool) ([]store.WorkflowMapping, error) {
	var mappings []store.WorkflowMapping
	err := s.view(tx, func(txn *badger.Txn) error {
		return scan(txn, prefix(prefixMapping), func(m *store.WorkflowMapping) {
			if match(m) {
				mappings = append(mappings, *m)
			}
		})
	})
	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].CreatedAt.Before(mappings[j].CreatedAt)
	})
	return mappings, err
}

func (s *Store) CreateTask(ctx context.Context, tx store.Tx, t *store.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	return s.update(tx, func(txn *badger.Txn) error {
		k := key(prefixTask, t.ID)
		ok, err := exists(txn, k)
		if err != nil {
			return err
		}
		if ok {
			return store.ErrAlreadyExists
		}
		return put(txn, k, t)
	})
}

func (s *Store) GetTask(ctx context.Context, tx store.Tx, id string) (*store.Task, error) {
	var t store.Task
	err := s.view(tx, func(txn *badger.Txn) error {
		return get(txn, key(prefixTask, id), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, tx store.Tx) ([]store.Task, error) {
	var tasks []store.Task
	err := s.view(tx, func(txn *badger.Txn) error {
		return scan(txn, prefix(prefixTask), func(t *store.Task) {
			tasks = append(tasks, *t)
		})
	})
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, err
}
