package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"flowplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestGetWorkflow_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT (.+) FROM workflows WHERE id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "version", "status", "created_by", "created_at", "updated_at",
		}).AddRow("wf-1", "Release", "desc", "1", "ACTIVE", "alice", now, now))

	mock.ExpectQuery(`FROM nodes WHERE workflow_id = \$1 ORDER BY seq ASC`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "position_x", "position_y", "width", "height", "selected", "dragging",
			"stage_name", "environment", "parameters", "status", "label", "position_abs_x", "position_abs_y",
		}).
			AddRow("A", "stage", 10.0, 20.0, 150.0, 40.0, false, false, "Build", "dev", []byte(`{"script":"build.sh","retries":"2"}`), "", "Build", 10.0, 20.0).
			AddRow("B", "stage", 10.0, 120.0, 150.0, 40.0, false, false, "Deploy", "prod", []byte(`{}`), "", "Deploy", 10.0, 120.0))

	mock.ExpectQuery(`FROM edges WHERE workflow_id = \$1 ORDER BY seq ASC`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source", "source_handle", "target", "target_handle", "type",
			"requires_approval", "approver_role", "status", "approval_timeout", "auto_approve",
		}).AddRow("e1", "A", "", "B", "", "approval", true, "ROLE_X", "", 1, false))

	wf, err := s.GetWorkflow(context.Background(), nil, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}

	if len(wf.Nodes) != 2 || len(wf.Edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d and %d", len(wf.Nodes), len(wf.Edges))
	}
	if got := wf.Nodes[0].Data.Parameters["script"]; got != "build.sh" {
		t.Errorf("expected parameter script=build.sh, got %q", got)
	}
	if got := wf.Nodes[0].Data.Parameters["retries"]; got != "2" {
		t.Errorf("expected parameter retries=2, got %q", got)
	}
	if wf.Edges[0].Data.ApprovalTimeout != "1" {
		t.Errorf("expected ApprovalTimeout 1, got %q", wf.Edges[0].Data.ApprovalTimeout)
	}
	if !wf.Edges[0].Data.RequiresApproval || wf.Edges[0].Data.ApproverRole != "ROLE_X" {
		t.Errorf("unexpected edge data: %+v", wf.Edges[0].Data)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM workflows WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetWorkflow(context.Background(), nil, "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestCreateWorkflow(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO workflows`).
		WithArgs("wf-1", "Release", "", "", "", "alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO nodes`).
		WithArgs("wf-1", "A", 0, "", 0.0, 0.0, 0.0, 0.0, false, false, "", "", `{"image":"alpine"}`, "", "", 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO nodes`).
		WithArgs("wf-1", "B", 1, "", 0.0, 0.0, 0.0, 0.0, false, false, "", "", `{}`, "", "", 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO edges`).
		WithArgs("wf-1", "e1", 0, "A", "", "B", "", "", false, "", "", 1, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	wf := &store.Workflow{
		ID:        "wf-1",
		Name:      "Release",
		CreatedBy: "alice",
		Nodes: []store.Node{
			{ID: "A", Data: store.NodeData{Parameters: map[string]string{"image": "alpine"}}},
			{ID: "B"},
		},
		Edges: []store.Edge{
			{ID: "e1", Source: "A", Target: "B", Data: store.EdgeData{AutoApprove: true, ApprovalTimeout: "48"}},
		},
	}

	if err := s.CreateWorkflow(context.Background(), nil, wf); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO workflows`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateWorkflow(context.Background(), nil, &store.Workflow{ID: "wf-1"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected store.ErrAlreadyExists, got %v", err)
	}
}

func TestDeleteWorkflow(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{name: "Deleted", rowsAffected: 1},
		{name: "Not Found", rowsAffected: 0, wantErr: store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			mock.ExpectExec(`DELETE FROM edges WHERE workflow_id = \$1`).WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 3))
			mock.ExpectExec(`DELETE FROM nodes WHERE workflow_id = \$1`).WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectExec(`DELETE FROM workflows WHERE id = \$1`).WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			err := s.DeleteWorkflow(context.Background(), nil, "wf-1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DeleteWorkflow() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCountWorkflows(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM workflows`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountWorkflows(context.Background(), nil)
	if err != nil {
		t.Fatalf("CountWorkflows failed: %v", err)
	}
	if count != 7 {
		t.Errorf("got %d, want 7", count)
	}
}
