package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"flowplane/internal/store"

	json "github.com/goccy/go-json"
)

// approvalTimeoutHours is written for every edge; the advisory timeout is not
// configurable per edge yet.
const approvalTimeoutHours = 1

func (s *Store) GetWorkflow(ctx context.Context, tx store.Tx, id string) (*store.Workflow, error) {
	q := s.conn(tx)

	query := `SELECT id, name, description, version, status, created_by, created_at, updated_at FROM workflows WHERE id = $1`

	var wf store.Workflow
	err := q.QueryRowContext(ctx, query, id).Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.Status,
		&wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if wf.Nodes, err = s.listNodes(ctx, q, id); err != nil {
		return nil, err
	}
	if wf.Edges, err = s.listEdges(ctx, q, id); err != nil {
		return nil, err
	}

	return &wf, nil
}

func (s *Store) listNodes(ctx context.Context, q querier, workflowID string) ([]store.Node, error) {
	query := `
		SELECT id, type, position_x, position_y, width, height, selected, dragging,
			stage_name, environment, parameters, status, label, position_abs_x, position_abs_y
		FROM nodes
		WHERE workflow_id = $1
		ORDER BY seq ASC
	`

	rows, err := q.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []store.Node
	for rows.Next() {
		var n store.Node
		var params []byte
		if err := rows.Scan(
			&n.ID, &n.Type, &n.Position.X, &n.Position.Y, &n.Width, &n.Height,
			&n.Selected, &n.Dragging, &n.Data.StageName, &n.Data.Environment,
			&params, &n.Data.Status, &n.Data.Label,
			&n.PositionAbsolute.X, &n.PositionAbsolute.Y,
		); err != nil {
			return nil, err
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &n.Data.Parameters); err != nil {
				return nil, fmt.Errorf("node %s: invalid parameters: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

func (s *Store) listEdges(ctx context.Context, q querier, workflowID string) ([]store.Edge, error) {
	query := `
		SELECT id, source, source_handle, target, target_handle, type,
			requires_approval, approver_role, status, approval_timeout, auto_approve
		FROM edges
		WHERE workflow_id = $1
		ORDER BY seq ASC
	`

	rows, err := q.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []store.Edge
	for rows.Next() {
		var e store.Edge
		var timeout int
		if err := rows.Scan(
			&e.ID, &e.Source, &e.SourceHandle, &e.Target, &e.TargetHandle, &e.Type,
			&e.Data.RequiresApproval, &e.Data.ApproverRole, &e.Data.Status,
			&timeout, &e.Data.AutoApprove,
		); err != nil {
			return nil, err
		}
		e.Data.ApprovalTimeout = strconv.Itoa(timeout)
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// ListWorkflows returns definition headers without nodes and edges.
func (s *Store) ListWorkflows(ctx context.Context, tx store.Tx) ([]store.Workflow, error) {
	query := `SELECT id, name, description, version, status, created_by, created_at, updated_at FROM workflows ORDER BY created_at ASC`

	rows, err := s.conn(tx).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []store.Workflow
	for rows.Next() {
		var wf store.Workflow
		if err := rows.Scan(
			&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.Status,
			&wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt,
		); err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}

	return workflows, rows.Err()
}

func (s *Store) CountWorkflows(ctx context.Context, tx store.Tx) (int64, error) {
	var count int64
	err := s.conn(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&count)
	return count, err
}

func (s *Store) CreateWorkflow(ctx context.Context, tx store.Tx, wf *store.Workflow) error {
	q := s.conn(tx)

	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	if _, err := q.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, version, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wf.ID, wf.Name, wf.Description, wf.Version, wf.Status, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert workflow: %w", uniqueViolation(err))
	}

	for i, n := range wf.Nodes {
		params := n.Data.Parameters
		if params == nil {
			params = map[string]string{}
		}
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("node %s: encode parameters: %w", n.ID, err)
		}

		if _, err := q.ExecContext(ctx,
			`INSERT INTO nodes (workflow_id, id, seq, type, position_x, position_y, width, height, selected, dragging,
				stage_name, environment, parameters, status, label, position_abs_x, position_abs_y)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			wf.ID, n.ID, i, n.Type, n.Position.X, n.Position.Y, n.Width, n.Height, n.Selected, n.Dragging,
			n.Data.StageName, n.Data.Environment, string(paramsJSON), n.Data.Status, n.Data.Label,
			n.PositionAbsolute.X, n.PositionAbsolute.Y,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	for i, e := range wf.Edges {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO edges (workflow_id, id, seq, source, source_handle, target, target_handle, type,
				requires_approval, approver_role, status, approval_timeout, auto_approve)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			wf.ID, e.ID, i, e.Source, e.SourceHandle, e.Target, e.TargetHandle, e.Type,
			e.Data.RequiresApproval, e.Data.ApproverRole, e.Data.Status, approvalTimeoutHours, e.Data.AutoApprove,
		); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}

	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, tx store.Tx, id string) error {
	q := s.conn(tx)

	if _, err := q.ExecContext(ctx, `DELETE FROM edges WHERE workflow_id = $1`, id); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM nodes WHERE workflow_id = $1`, id); err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
