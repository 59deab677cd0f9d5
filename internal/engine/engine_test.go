package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"flowplane/internal/dispatch"
	"flowplane/internal/store"
	"flowplane/internal/store/embedded"
	"flowplane/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueRunner holds submitted tasks until drain runs them in FIFO order.
type queueRunner struct {
	mu    sync.Mutex
	tasks []queuedTask
}

type queuedTask struct {
	ctx context.Context
	fn  worker.Task
}

func (q *queueRunner) Submit(ctx context.Context, name string, fn worker.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queuedTask{ctx: ctx, fn: fn})
	return nil
}

func (q *queueRunner) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *queueRunner) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		next.fn(next.ctx)
	}
}

// inlineRunner runs a task as soon as it is submitted.
type inlineRunner struct{}

func (inlineRunner) Submit(ctx context.Context, name string, fn worker.Task) error {
	fn(ctx)
	return nil
}

type recordingHooks struct {
	NopHooks

	mu        sync.Mutex
	completed []string
	failed    []string
	approvals []string
}

func (h *recordingHooks) OnApprovalRequest(ctx context.Context, edge *store.Edge, exec *store.Executor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approvals = append(h.approvals, edge.ID+":"+exec.AssignedApprover)
}

func (h *recordingHooks) OnWorkflowCompleted(ctx context.Context, workflowID, serviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, workflowID+":"+serviceID)
}

func (h *recordingHooks) OnWorkflowFailed(ctx context.Context, workflowID, serviceID, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, workflowID+":"+serviceID)
}

func (h *recordingHooks) snapshot() (completed, failed, approvals []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.completed...), append([]string(nil), h.failed...), append([]string(nil), h.approvals...)
}

// scripted is a dispatcher driven by each node's "step" parameter.
type scripted struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	errs  map[string]error
	panic map[string]bool
}

func newScripted() *scripted {
	return &scripted{
		calls: map[string]int{},
		fail:  map[string]bool{},
		errs:  map[string]error{},
		panic: map[string]bool{},
	}
}

func (s *scripted) Execute(ctx context.Context, serviceID string, params map[string]string) (bool, error) {
	step := params["step"]
	s.mu.Lock()
	s.calls[step]++
	fail, err, boom := s.fail[step], s.errs[step], s.panic[step]
	s.mu.Unlock()

	if boom {
		panic("dispatcher exploded")
	}
	if err != nil {
		return false, err
	}
	return !fail, nil
}

func (s *scripted) count(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[step]
}

type fixture struct {
	store  *embedded.Store
	runner *queueRunner
	hooks  *recordingHooks
	disp   *scripted
	engine *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := embedded.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:  st,
		runner: &queueRunner{},
		hooks:  &recordingHooks{},
		disp:   newScripted(),
	}
	f.engine = New("default", st, f.disp, f.runner, WithHooks(f.hooks), WithLogger(discardLogger()))
	return f
}

func node(id string) store.Node {
	return store.Node{ID: id, Data: store.NodeData{Label: id, Parameters: map[string]string{"step": id}}}
}

func autoEdge(id, source, target string) store.Edge {
	return store.Edge{ID: id, Source: source, Target: target, Data: store.EdgeData{AutoApprove: true}}
}

func approvalEdge(id, source, target, role string) store.Edge {
	return store.Edge{ID: id, Source: source, Target: target, Data: store.EdgeData{RequiresApproval: true, ApproverRole: role}}
}

func (f *fixture) define(t *testing.T, id string, nodes []store.Node, edges ...store.Edge) {
	t.Helper()
	wf := &store.Workflow{ID: id, Name: id, CreatedBy: "alice", Nodes: nodes, Edges: edges}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), nil, wf))
}

// executors groups the service's executors by node or edge id.
func (f *fixture) executors(t *testing.T, serviceID string) map[string][]store.Executor {
	t.Helper()
	list, err := f.store.ListExecutorsByService(context.Background(), nil, serviceID)
	require.NoError(t, err)

	byChild := make(map[string][]store.Executor)
	for _, x := range list {
		byChild[x.ChildrenID] = append(byChild[x.ChildrenID], x)
	}
	return byChild
}

func (f *fixture) only(t *testing.T, serviceID, child string) store.Executor {
	t.Helper()
	execs := f.executors(t, serviceID)[child]
	require.Len(t, execs, 1, "executors for %s", child)
	return execs[0]
}

func (f *fixture) messages(t *testing.T, serviceID string) []string {
	t.Helper()
	logs, err := f.store.ListLogsByService(context.Background(), nil, serviceID)
	require.NoError(t, err)

	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Message
	}
	return out
}

func countOf(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}

func TestEngine_LinearHappyPath(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A"), node("B")}, autoEdge("e1", "A", "B"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release 42"))
	f.runner.drain()

	for _, child := range []string{"A", "e1", "B"} {
		x := f.only(t, "s1", child)
		assert.Equal(t, store.StatusCompleted, x.Status, child)
		assert.Equal(t, "Release 42", x.Name)
		assert.Equal(t, "default", x.Engine)
	}
	assert.Equal(t, 1, f.disp.count("A"))
	assert.Equal(t, 1, f.disp.count("B"))

	completed, failed, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W1:s1"}, completed)
	assert.Empty(t, failed)

	msgs := f.messages(t, "s1")
	assert.Equal(t, 1, countOf(msgs, "Workflow initiated"))
	assert.Equal(t, 1, countOf(msgs, "Start nodes saved"))
	assert.Equal(t, 3, countOf(msgs, "Async executor started"))
	assert.Equal(t, 2, countOf(msgs, "Node execution started"))
	assert.Equal(t, 2, countOf(msgs, "Node execution succeeded"))
	assert.Equal(t, 1, countOf(msgs, "Outgoing edges triggered"))
	assert.Equal(t, 1, countOf(msgs, "Edge executor status updated"))
	assert.Equal(t, 1, countOf(msgs, "Workflow completed"))
}

func TestEngine_ManualApproval(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W2", []store.Node{node("A"), node("B")}, approvalEdge("e1", "A", "B", "ROLE_X"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W2", "Release"))
	f.runner.drain()

	edge := f.only(t, "s1", "e1")
	assert.Equal(t, store.StatusWaitingForApproval, edge.Status)
	assert.Equal(t, "ROLE_X", edge.AssignedApprover)
	assert.Empty(t, f.executors(t, "s1")["B"])

	pending, err := f.store.ListPendingApprovalEdges(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, edge.ID, pending[0].ID)

	completed, _, approvals := f.hooks.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, []string{"e1:ROLE_X"}, approvals)

	// A second advance of a waiting edge changes nothing.
	require.NoError(t, f.engine.Advance(ctx, edge.ID))
	_, _, approvals = f.hooks.snapshot()
	assert.Len(t, approvals, 1)

	require.NoError(t, f.engine.Approve(ctx, edge.ID, "alice", "ok"))
	f.runner.drain()

	edge = f.only(t, "s1", "e1")
	assert.Equal(t, store.StatusCompleted, edge.Status)
	assert.Equal(t, "alice", edge.ApprovedBy)
	assert.Equal(t, "ok", edge.ApprovalComments)
	assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "B").Status)

	completed, _, _ = f.hooks.snapshot()
	assert.Equal(t, []string{"W2:s1"}, completed)

	logs, err := f.store.ListLogsByService(ctx, nil, "s1")
	require.NoError(t, err)
	var approval *store.ExecutionLog
	for i := range logs {
		if logs[i].Message == "Approval status updated" {
			approval = &logs[i]
		}
	}
	require.NotNil(t, approval)
	assert.Equal(t, "alice", approval.PerformedBy)
	assert.Equal(t, "Executor "+edge.ID+" set to status COMPLETED by alice.", approval.Details)
}

func TestEngine_Rejection(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W2", []store.Node{node("A"), node("B")}, approvalEdge("e1", "A", "B", "ROLE_X"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W2", "Release"))
	f.runner.drain()

	edge := f.only(t, "s1", "e1")
	require.NoError(t, f.engine.Reject(ctx, edge.ID, "bob", "no"))
	f.runner.drain()

	edge = f.only(t, "s1", "e1")
	assert.Equal(t, store.StatusRejected, edge.Status)
	assert.Equal(t, "bob", edge.ApprovedBy)
	assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "A").Status)
	assert.Empty(t, f.executors(t, "s1")["B"])
	assert.Zero(t, f.disp.count("B"))

	completed, failed, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W2:s1"}, completed)
	assert.Empty(t, failed)
}

func TestEngine_JoinPointRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W3", []store.Node{node("A"), node("B"), node("C")},
		autoEdge("e1", "A", "C"),
		autoEdge("e2", "B", "C"),
	)
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W3", "Join"))
	assert.Equal(t, 2, f.runner.pending(), "one advance per start node")
	f.runner.drain()

	f.only(t, "s1", "C")
	assert.Equal(t, 1, f.disp.count("C"))
	assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "e1").Status)
	assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "e2").Status)

	completed, _, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W3:s1"}, completed)
}

func TestEngine_TaskFailureIsExecutorLocal(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W4", []store.Node{node("A"), node("B")}, autoEdge("e1", "A", "B"))
	f.disp.fail["A"] = true
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W4", "Release"))
	f.runner.drain()

	a := f.only(t, "s1", "A")
	assert.Equal(t, store.StatusFailed, a.Status)
	assert.Empty(t, a.ErrorCode)
	assert.Empty(t, f.executors(t, "s1")["e1"])
	assert.Empty(t, f.executors(t, "s1")["B"])

	completed, failed, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W4:s1"}, completed, "a failed sink still terminates the instance")
	assert.Empty(t, failed)
	assert.Equal(t, 1, countOf(f.messages(t, "s1"), "Node execution failed"))
}

func TestEngine_WorkflowDeletedBeforeAdvance(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A"), node("B")}, autoEdge("e1", "A", "B"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	require.NoError(t, f.store.DeleteWorkflow(ctx, nil, "W1"))
	f.runner.drain()

	a := f.only(t, "s1", "A")
	assert.Equal(t, store.StatusFailed, a.Status)
	assert.Equal(t, CodeWorkflowNotFound, a.ErrorCode)
	assert.Contains(t, a.ErrorMessage, "W1")
	assert.Zero(t, f.disp.count("A"))

	completed, failed, _ := f.hooks.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, []string{"W1:s1"}, failed)
	assert.Equal(t, 1, countOf(f.messages(t, "s1"), "Executor failed"))
}

func TestEngine_FatalErrorAbortsSiblings(t *testing.T) {
	f := newFixture(t)
	// e1 points at a node that does not exist; e2 is still pending when it fails.
	f.define(t, "W5", []store.Node{node("A"), node("B"), node("C")},
		autoEdge("e1", "A", "ghost"),
		approvalEdge("e2", "B", "C", "ROLE_X"),
	)
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W5", "Release"))
	f.runner.drain()

	e1 := f.only(t, "s1", "e1")
	assert.Equal(t, store.StatusFailed, e1.Status)
	assert.Equal(t, CodeNodeNotFound, e1.ErrorCode)

	e2 := f.only(t, "s1", "e2")
	assert.Equal(t, store.StatusFailed, e2.Status)
	assert.Equal(t, CodeWorkflowAborted, e2.ErrorCode)

	completed, failed, approvals := f.hooks.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, approvals)
	assert.Equal(t, []string{"W5:s1"}, failed)

	// The aborted edge can no longer be approved.
	require.NoError(t, f.engine.Approve(ctx, e2.ID, "alice", "late"))
	assert.Equal(t, store.StatusFailed, f.only(t, "s1", "e2").Status)
}

func TestEngine_DispatcherErrorIsExecutorLocal(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A"), node("B")}, autoEdge("e1", "A", "B"))
	f.disp.errs["A"] = errors.New("connection refused")
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	f.runner.drain()

	a := f.only(t, "s1", "A")
	assert.Equal(t, store.StatusFailed, a.Status)
	assert.Equal(t, CodeServiceExecution, a.ErrorCode)
	assert.Equal(t, "Business task failed: connection refused", a.ErrorMessage)
	assert.Empty(t, f.executors(t, "s1")["e1"])

	completed, failed, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W1:s1"}, completed)
	assert.Empty(t, failed)
}

func TestEngine_DispatcherPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A")})
	f.disp.panic["A"] = true
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	f.runner.drain()

	a := f.only(t, "s1", "A")
	assert.Equal(t, store.StatusFailed, a.Status)
	assert.Equal(t, CodeServiceExecution, a.ErrorCode)
	assert.Contains(t, a.ErrorMessage, "dispatcher exploded")
	assert.NotEmpty(t, a.ErrorStackTrace)
}

func TestEngine_InitiateUnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Initiate(context.Background(), "s1", "missing", "Release")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Empty(t, f.executors(t, "s1"))
	assert.Empty(t, f.messages(t, "s1"))
}

func TestEngine_InitiateWithoutStartNodes(t *testing.T) {
	f := newFixture(t)
	f.define(t, "loop", []store.Node{node("A"), node("B")},
		autoEdge("e1", "A", "B"),
		autoEdge("e2", "B", "A"),
	)

	require.NoError(t, f.engine.Initiate(context.Background(), "s1", "loop", "Release"))
	assert.Zero(t, f.runner.pending())
	assert.Empty(t, f.executors(t, "s1"))

	logs, err := f.store.ListLogsByService(context.Background(), nil, "s1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	levels := map[string]store.LogLevel{}
	for _, l := range logs {
		levels[l.Message] = l.Level
	}
	assert.Equal(t, store.LogLevelInfo, levels["Workflow initiated"])
	assert.Equal(t, store.LogLevelWarning, levels["No start nodes"])
}

func TestEngine_IdempotentOperations(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A"), node("B")}, autoEdge("e1", "A", "B"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	f.runner.drain()
	before := f.messages(t, "s1")
	a := f.only(t, "s1", "A")

	t.Run("Advance Terminal", func(t *testing.T) {
		require.NoError(t, f.engine.Advance(ctx, a.ID))
		require.NoError(t, f.engine.AdvanceSync(ctx, a.ID))
		assert.Equal(t, 1, f.disp.count("A"))
	})

	t.Run("Advance Unknown", func(t *testing.T) {
		assert.NoError(t, f.engine.Advance(ctx, "missing"))
	})

	t.Run("Approve Node", func(t *testing.T) {
		require.NoError(t, f.engine.Approve(ctx, a.ID, "alice", "ok"))
		assert.Empty(t, f.only(t, "s1", "A").ApprovedBy)
	})

	t.Run("Reject Completed Edge", func(t *testing.T) {
		e1 := f.only(t, "s1", "e1")
		require.NoError(t, f.engine.Reject(ctx, e1.ID, "bob", "no"))
		assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "e1").Status)
	})

	t.Run("Approve Unknown", func(t *testing.T) {
		assert.NoError(t, f.engine.Approve(ctx, "missing", "alice", ""))
	})

	f.runner.drain()
	assert.Equal(t, before, f.messages(t, "s1"), "no-ops must not write execution logs")
	completed, _, _ := f.hooks.snapshot()
	assert.Len(t, completed, 1)
}

func TestEngine_AdvanceSync(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A")})
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	a := f.only(t, "s1", "A")

	require.NoError(t, f.engine.AdvanceSync(ctx, a.ID))
	assert.Equal(t, store.StatusCompleted, f.only(t, "s1", "A").Status)
	assert.Equal(t, 1, countOf(f.messages(t, "s1"), "Sync executor started"))

	// The queued async advance finds a terminal executor.
	f.runner.drain()
	assert.Equal(t, 1, f.disp.count("A"))
	assert.Zero(t, countOf(f.messages(t, "s1"), "Async executor started"))
}

func TestEngine_FollowUpsRunAfterCommit(t *testing.T) {
	st, err := embedded.Open("")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.CreateWorkflow(context.Background(), nil, &store.Workflow{
		ID:    "W1",
		Nodes: []store.Node{node("A"), node("B"), node("C")},
		Edges: []store.Edge{autoEdge("e1", "A", "B"), autoEdge("e2", "B", "C")},
	}))

	hooks := &recordingHooks{}
	// An inline runner advances from inside the commit callback; an advance
	// scheduled before commit would not find its executor.
	e := New("default", st, dispatch.Noop{}, inlineRunner{}, WithHooks(hooks), WithLogger(discardLogger()))
	require.NoError(t, e.Initiate(context.Background(), "s1", "W1", "Release"))

	list, err := st.ListExecutorsByService(context.Background(), nil, "s1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for _, x := range list {
		assert.Equal(t, store.StatusCompleted, x.Status, x.ChildrenID)
	}
	completed, _, _ := hooks.snapshot()
	assert.Equal(t, []string{"W1:s1"}, completed)
}

func TestEngine_CompletionReportedOncePerInstance(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W1", []store.Node{node("A")})
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W1", "Release"))
	f.runner.drain()
	a := f.only(t, "s1", "A")

	// A second process over the same store has no in-memory record.
	other := &recordingHooks{}
	e2 := New("default", f.store, f.disp, f.runner, WithHooks(other), WithLogger(discardLogger()))
	for _, eng := range []*Engine{f.engine, e2} {
		tx, err := f.store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, eng.checkCompletion(ctx, tx, &a))
		require.NoError(t, tx.Commit())
	}

	completed, _, _ := f.hooks.snapshot()
	assert.Len(t, completed, 1)
	otherCompleted, _, _ := other.snapshot()
	assert.Empty(t, otherCompleted)
	assert.Equal(t, 1, countOf(f.messages(t, "s1"), "Workflow completed"))
}

func TestEngine_InstancesAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.define(t, "W2", []store.Node{node("A"), node("B")}, approvalEdge("e1", "A", "B", "ROLE_X"))
	ctx := context.Background()

	require.NoError(t, f.engine.Initiate(ctx, "s1", "W2", "First"))
	require.NoError(t, f.engine.Initiate(ctx, "s2", "W2", "Second"))
	f.runner.drain()

	require.NoError(t, f.engine.Reject(ctx, f.only(t, "s1", "e1").ID, "bob", "no"))
	f.runner.drain()

	completed, _, _ := f.hooks.snapshot()
	assert.Equal(t, []string{"W2:s1"}, completed, "s2 is still waiting for approval")
	assert.Equal(t, store.StatusWaitingForApproval, f.only(t, "s2", "e1").Status)
}

func TestEngine_WithWorkerPool(t *testing.T) {
	st, err := embedded.Open("")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.CreateWorkflow(context.Background(), nil, &store.Workflow{
		ID:    "W1",
		Nodes: []store.Node{node("A"), node("B"), node("C"), node("D")},
		Edges: []store.Edge{autoEdge("e1", "A", "B"), autoEdge("e2", "A", "C"), autoEdge("e3", "C", "D")},
	}))

	pool := worker.New(4, discardLogger())
	hooks := &recordingHooks{}
	disp := newScripted()
	e := New("default", st, disp, pool, WithHooks(hooks), WithLogger(discardLogger()))

	for _, svc := range []string{"s1", "s2", "s3"} {
		require.NoError(t, e.Initiate(context.Background(), svc, "W1", "Release"))
	}
	pool.Wait()
	require.NoError(t, pool.Close(context.Background()))

	completed, failed, _ := hooks.snapshot()
	assert.ElementsMatch(t, []string{"W1:s1", "W1:s2", "W1:s3"}, completed)
	assert.Empty(t, failed)
	for _, step := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, 3, disp.count(step), step)
	}
}
