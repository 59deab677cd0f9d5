package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"flowplane/pkg/api"

	json "github.com/goccy/go-json"
)

const releaseDefinition = `{
  "id": "W1",
  "name": "Release",
  "createdBy": "alice",
  "nodes": [
    {"id": "A", "position": {"x": 10, "y": 20}, "data": {"stageName": "Build", "parameters": {"command": "make"}}},
    {"id": "B", "data": {"stageName": "Deploy"}}
  ],
  "edges": [
    {"id": "e1", "source": "A", "target": "B", "data": {"autoApprove": true}}
  ]
}`

func TestCreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		beginFails     bool
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           releaseDefinition,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"id":"W1"`,
		},
		{
			name:           "Invalid JSON",
			body:           `{invalid-json}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Name",
			body:           `{"id":"W1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Name is required",
		},
		{
			name:           "Duplicate Ids",
			body:           `{"name":"x","nodes":[{"id":"A"}],"edges":[{"id":"A","source":"A","target":"A"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Duplicate id A",
		},
		{
			name:           "Database Transaction Error",
			body:           releaseDefinition,
			beginFails:     true,
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Internal database error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			h := New(&brokenStore{WorkflowStore: env.store, err: errDown, failBegin: tt.beginFails}, env.registry, discard())

			rr := serve(h.CreateWorkflow, call{method: http.MethodPost, target: "/api/workflows", body: tt.body})

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v (%s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestCreateWorkflow_Conflict(t *testing.T) {
	env := newEnv(t)

	first := serve(env.h.CreateWorkflow, call{method: http.MethodPost, target: "/api/workflows", body: releaseDefinition})
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: got %d", first.Code)
	}
	second := serve(env.h.CreateWorkflow, call{method: http.MethodPost, target: "/api/workflows", body: releaseDefinition})
	if second.Code != http.StatusConflict {
		t.Errorf("second create: got %d want %d", second.Code, http.StatusConflict)
	}
}

func TestWorkflowCRUD(t *testing.T) {
	env := newEnv(t)
	h := env.h

	if rr := serve(h.CreateWorkflow, call{method: http.MethodPost, target: "/api/workflows", body: releaseDefinition}); rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d", rr.Code)
	}

	rr := serve(h.GetWorkflow, call{method: http.MethodGet, target: "/api/workflows/W1", params: map[string]string{"id": "W1"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}
	var wf api.Workflow
	if err := json.Unmarshal(rr.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(wf.Nodes) != 2 || wf.Nodes[0].Data.Parameters["command"] != "make" || wf.Nodes[0].Position.X != 10 {
		t.Errorf("definition did not round-trip: %+v", wf)
	}

	rr = serve(h.ListWorkflows, call{method: http.MethodGet, target: "/api/workflows"})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"id":"W1"`) {
		t.Errorf("list: got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(h.DeleteWorkflow, call{method: http.MethodDelete, target: "/api/workflows/W1", params: map[string]string{"id": "W1"}})
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: got %d", rr.Code)
	}
	rr = serve(h.DeleteWorkflow, call{method: http.MethodDelete, target: "/api/workflows/W1", params: map[string]string{"id": "W1"}})
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", rr.Code)
	}
	rr = serve(h.GetWorkflow, call{method: http.MethodGet, target: "/api/workflows/W1", params: map[string]string{"id": "W1"}})
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", rr.Code)
	}
}

func TestInitiateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		workflowID     string
		body           string
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success On Default",
			workflowID:     "W2",
			body:           `{"serviceId":"s1","name":"Release"}`,
			expectedStatus: http.StatusAccepted,
			expectedInBody: "initiated",
		},
		{
			name:           "Success On Named Variant",
			workflowID:     "W2",
			body:           `{"type":"task","serviceId":"s1","name":"Release"}`,
			expectedStatus: http.StatusAccepted,
			expectedInBody: "initiated",
		},
		{
			name:           "Unknown Workflow",
			workflowID:     "missing",
			body:           `{"serviceId":"s1"}`,
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Workflow not found: missing",
		},
		{
			name:           "Unknown Type",
			workflowID:     "W2",
			body:           `{"type":"legacy","serviceId":"s1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Unknown dispatcher type",
		},
		{
			name:           "Missing Service",
			workflowID:     "W2",
			body:           `{"name":"Release"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "serviceId is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			env.define(t, approvalWorkflow("W2"))

			rr := serve(env.h.InitiateWorkflow, call{
				method: http.MethodPost, target: "/api/workflows/" + tt.workflowID + "/initiate",
				body:   tt.body,
				params: map[string]string{"id": tt.workflowID},
			})

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestInitiateWorkflow_RecordsVariant(t *testing.T) {
	env := newEnv(t)
	env.define(t, approvalWorkflow("W2"))

	serve(env.h.InitiateWorkflow, call{
		method: http.MethodPost, target: "/api/workflows/W2/initiate",
		body:   `{"type":"TASK","serviceId":"s1"}`,
		params: map[string]string{"id": "W2"},
	})

	execs, err := env.store.ListExecutorsByService(context.Background(), nil, "s1")
	if err != nil || len(execs) == 0 {
		t.Fatalf("list executors: %v (%d)", err, len(execs))
	}
	for _, x := range execs {
		if x.Engine != "task" {
			t.Errorf("executor %s created by %q, want task", x.ID, x.Engine)
		}
	}
}
