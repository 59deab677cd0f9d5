package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowplane/internal/store"
)

const executorColumns = `id, workflow_id, service_id, name, engine, type, children_id, status,
	error_code, error_message, error_stack_trace, approved_by, approval_comments,
	assigned_approver, approval_deadline, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecutor(row rowScanner) (*store.Executor, error) {
	var e store.Executor
	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.ServiceID, &e.Name, &e.Engine, &e.Type, &e.ChildrenID, &e.Status,
		&e.ErrorCode, &e.ErrorMessage, &e.ErrorStackTrace, &e.ApprovedBy, &e.ApprovalComments,
		&e.AssignedApprover, &e.ApprovalDeadline, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) SaveExecutor(ctx context.Context, tx store.Tx, e *store.Executor) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO workflow_executors (` + executorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			error_stack_trace = EXCLUDED.error_stack_trace,
			approved_by = EXCLUDED.approved_by,
			approval_comments = EXCLUDED.approval_comments,
			assigned_approver = EXCLUDED.assigned_approver,
			approval_deadline = EXCLUDED.approval_deadline,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.conn(tx).ExecContext(ctx, query,
		e.ID, e.WorkflowID, e.ServiceID, e.Name, e.Engine, e.Type, e.ChildrenID, e.Status,
		e.ErrorCode, e.ErrorMessage, e.ErrorStackTrace, e.ApprovedBy, e.ApprovalComments,
		e.AssignedApprover, e.ApprovalDeadline, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save executor %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) SaveExecutors(ctx context.Context, tx store.Tx, es []*store.Executor) error {
	for _, e := range es {
		if err := s.SaveExecutor(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

// GetExecutor reads one executor. Inside a transaction the row stays locked
// until the transaction ends, so read-modify-write transitions on the same
// executor run one after the other.
func (s *Store) GetExecutor(ctx context.Context, tx store.Tx, id string) (*store.Executor, error) {
	query := `SELECT ` + executorColumns + ` FROM workflow_executors WHERE id = $1`
	if t, ok := tx.(*Tx); ok && t != nil {
		query += ` FOR UPDATE`
	}

	e, err := scanExecutor(s.conn(tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) listExecutors(ctx context.Context, tx store.Tx, where string, args ...interface{}) ([]store.Executor, error) {
	query := `SELECT ` + executorColumns + ` FROM workflow_executors ` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := s.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executors []store.Executor
	for rows.Next() {
		e, err := scanExecutor(rows)
		if err != nil {
			return nil, err
		}
		executors = append(executors, *e)
	}

	return executors, rows.Err()
}

func (s *Store) ListExecutors(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, "")
}

func (s *Store) ListExecutorsByWorkflow(ctx context.Context, tx store.Tx, workflowID string) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, `WHERE workflow_id = $1`, workflowID)
}

func (s *Store) ListExecutorsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, `WHERE service_id = $1`, serviceID)
}

func (s *Store) ListExecutorsByWorkflowAndChild(ctx context.Context, tx store.Tx, workflowID, childID string) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, `WHERE workflow_id = $1 AND children_id = $2`, workflowID, childID)
}

func (s *Store) ListExecutorsByStatus(ctx context.Context, tx store.Tx, status store.ExecutorStatus) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, `WHERE status = $1`, status)
}

func (s *Store) ListPendingApprovalEdges(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	return s.listExecutors(ctx, tx, `WHERE type = $1 AND status = $2`, store.ExecutorTypeEdge, store.StatusWaitingForApproval)
}

// LockChild takes a transaction-scoped advisory lock on the join point.
// Concurrent advances targeting the same node queue here until the holder
// commits, so their existence check observes its insert.
func (s *Store) LockChild(ctx context.Context, tx store.Tx, workflowID, serviceID, childID string) error {
	t, ok := tx.(*Tx)
	if !ok || t == nil {
		return errors.New("postgres: LockChild requires a transaction")
	}

	key := workflowID + ":" + serviceID + ":" + childID
	_, err := t.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func (s *Store) MarkInstanceCompleted(ctx context.Context, tx store.Tx, workflowID, serviceID string) (bool, error) {
	query := `
		INSERT INTO workflow_instances (workflow_id, service_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, service_id) DO NOTHING
	`

	res, err := s.conn(tx).ExecContext(ctx, query, workflowID, serviceID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
