package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"flowplane/internal/dispatch"
	"flowplane/internal/engine"
	"flowplane/internal/store"
	"flowplane/internal/store/embedded"
	"flowplane/internal/worker"
)

// inlineRunner runs follow-up work before Submit returns, so a request has
// driven its instance as far as it can go by the time the handler returns.
type inlineRunner struct{}

func (inlineRunner) Submit(ctx context.Context, name string, fn worker.Task) error {
	fn(ctx)
	return nil
}

// brokenStore fails the operations named by its fields.
type brokenStore struct {
	store.WorkflowStore
	err error

	failPing   bool
	failBegin  bool
	failLists  bool
	failCreate bool
}

func (b *brokenStore) Ping(ctx context.Context) error {
	if b.failPing {
		return b.err
	}
	return b.WorkflowStore.Ping(ctx)
}

func (b *brokenStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if b.failBegin {
		return nil, b.err
	}
	return b.WorkflowStore.BeginTx(ctx)
}

func (b *brokenStore) ListExecutors(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	if b.failLists {
		return nil, b.err
	}
	return b.WorkflowStore.ListExecutors(ctx, tx)
}

func (b *brokenStore) ListExecutorsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.Executor, error) {
	if b.failLists {
		return nil, b.err
	}
	return b.WorkflowStore.ListExecutorsByService(ctx, tx, serviceID)
}

func (b *brokenStore) ListPendingApprovalEdges(ctx context.Context, tx store.Tx) ([]store.Executor, error) {
	if b.failLists {
		return nil, b.err
	}
	return b.WorkflowStore.ListPendingApprovalEdges(ctx, tx)
}

func (b *brokenStore) CreateTask(ctx context.Context, tx store.Tx, t *store.Task) error {
	if b.failCreate {
		return b.err
	}
	return b.WorkflowStore.CreateTask(ctx, tx, t)
}

type testEnv struct {
	store    *embedded.Store
	registry *engine.Registry
	h        *Handlers
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEnv wires handlers to an in-memory store and a registry holding a
// "default" and a "task" variant, both succeeding every node.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := embedded.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := engine.NewRegistry("default")
	for _, tag := range []string{"default", TaskEngineTag} {
		reg.Register(tag, engine.New(tag, st, dispatch.Noop{}, inlineRunner{}, engine.WithLogger(discard())))
	}
	return &testEnv{store: st, registry: reg, h: New(st, reg, discard())}
}

// approvalWorkflow is A -e1(ROLE_X)-> B.
func approvalWorkflow(id string) *store.Workflow {
	return &store.Workflow{
		ID:        id,
		Name:      "Release flow",
		CreatedBy: "alice",
		Nodes: []store.Node{
			{ID: "A", Data: store.NodeData{StageName: "Build"}},
			{ID: "B", Data: store.NodeData{StageName: "Deploy"}},
		},
		Edges: []store.Edge{
			{ID: "e1", Source: "A", Target: "B", Data: store.EdgeData{RequiresApproval: true, ApproverRole: "ROLE_X"}},
		},
	}
}

func (e *testEnv) define(t *testing.T, wf *store.Workflow) {
	t.Helper()
	if err := e.store.CreateWorkflow(context.Background(), nil, wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
}

// waitingEdge returns the executor of e1 for serviceID.
func (e *testEnv) waitingEdge(t *testing.T, serviceID string) store.Executor {
	t.Helper()
	execs, err := e.store.ListExecutorsByService(context.Background(), nil, serviceID)
	if err != nil {
		t.Fatalf("list executors: %v", err)
	}
	for _, x := range execs {
		if x.ChildrenID == "e1" {
			return x
		}
	}
	t.Fatalf("no executor for e1 in %s", serviceID)
	return store.Executor{}
}

type call struct {
	method string
	target string
	body   string
	params map[string]string
}

func serve(handler http.HandlerFunc, c call) *httptest.ResponseRecorder {
	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}
	req := httptest.NewRequest(c.method, c.target, body)
	for k, v := range c.params {
		req.SetPathValue(k, v)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

var errDown = errors.New("db down")
