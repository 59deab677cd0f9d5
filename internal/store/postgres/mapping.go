package postgres

import (
	"context"
	"time"

	"flowplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateMapping(ctx context.Context, tx store.Tx, m *store.WorkflowMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_mappings (id, workflow_id, functionality_id, functionality_name, functionality_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.conn(tx).ExecContext(ctx, query,
		m.ID, m.WorkflowID, m.FunctionalityID, m.FunctionalityName, m.FunctionalityType, m.CreatedAt,
	)
	return err
}

func (s *Store) ListMappings(ctx context.Context, tx store.Tx) ([]store.WorkflowMapping, error) {
	return s.listMappings(ctx, tx, "")
}

func (s *Store) ListMappingsByWorkflow(ctx context.Context, tx store.Tx, workflowID string) ([]store.WorkflowMapping, error) {
	return s.listMappings(ctx, tx, `WHERE workflow_id = $1`, workflowID)
}

func (s *Store) listMappings(ctx context.Context, tx store.Tx, where string, args ...interface{}) ([]store.WorkflowMapping, error) {
	query := `SELECT id, workflow_id, functionality_id, functionality_name, functionality_type, created_at
		FROM workflow_mappings ` + where + ` ORDER BY created_at ASC`

	rows, err := s.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []store.WorkflowMapping
	for rows.Next() {
		var m store.WorkflowMapping
		if err := rows.Scan(
			&m.ID, &m.WorkflowID, &m.FunctionalityID, &m.FunctionalityName, &m.FunctionalityType, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}
