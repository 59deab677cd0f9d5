package postgres

import (
	"context"
	"time"

	"flowplane/internal/store"

	"github.com/google/uuid"
)

const taskColumns = `id, release_number, title, description, sql_query, assigned_workflow, status, created_by, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, tx store.Tx, t *store.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.conn(tx).ExecContext(ctx, query,
		t.ID, t.ReleaseNumber, t.Title, t.Description, t.SQLQuery,
		t.AssignedWorkflow, t.Status, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	return uniqueViolation(err)
}

func scanTask(row rowScanner) (*store.Task, error) {
	var t store.Task
	if err := row.Scan(
		&t.ID, &t.ReleaseNumber, &t.Title, &t.Description, &t.SQLQuery,
		&t.AssignedWorkflow, &t.Status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, tx store.Tx, id string) (*store.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.conn(tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, tx store.Tx) ([]store.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC`

	rows, err := s.conn(tx).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}

	return tasks, rows.Err()
}
