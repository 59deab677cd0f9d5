package store

import (
	"testing"
)

func TestExecutorStatus_Terminal(t *testing.T) {
	tests := []struct {
		status ExecutorStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusWaitingForApproval, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusRejected, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestWorkflow_StartNodes(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []Edge{
			{ID: "e1", Source: "A", Target: "C"},
			{ID: "e2", Source: "B", Target: "C"},
		},
	}

	start := wf.StartNodes()
	if len(start) != 2 {
		t.Fatalf("expected 2 start nodes, got %d", len(start))
	}
	if start[0].ID != "A" || start[1].ID != "B" {
		t.Errorf("unexpected start nodes: %+v", start)
	}
}

func TestWorkflow_StartNodes_Cycle(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "B", Target: "A"},
		},
	}

	if start := wf.StartNodes(); len(start) != 0 {
		t.Errorf("expected no start nodes, got %+v", start)
	}
}

func TestWorkflow_Lookups(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "A", Target: "A"},
		},
	}

	if n, ok := wf.Node("B"); !ok || n.ID != "B" {
		t.Errorf("Node(B) = %v, %v", n, ok)
	}
	if _, ok := wf.Node("Z"); ok {
		t.Error("expected Node(Z) to be absent")
	}
	if e, ok := wf.Edge("e1"); !ok || e.Target != "B" {
		t.Errorf("Edge(e1) = %v, %v", e, ok)
	}
	if out := wf.OutgoingEdges("A"); len(out) != 2 {
		t.Errorf("expected 2 outgoing edges from A, got %d", len(out))
	}
	if out := wf.OutgoingEdges("B"); len(out) != 0 {
		t.Errorf("expected B to be a sink, got %d edges", len(out))
	}
}

func TestCommitHooks_RunOnce(t *testing.T) {
	var h CommitHooks
	var calls []int

	h.AfterCommit(func() { calls = append(calls, 1) })
	h.AfterCommit(func() { calls = append(calls, 2) })

	h.Run()
	h.Run()

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("expected hooks to run once in order, got %v", calls)
	}

	h.AfterCommit(func() { calls = append(calls, 3) })
	h.Run()
	if len(calls) != 2 {
		t.Errorf("hook registered after commit should not run, got %v", calls)
	}
}

func TestCommitHooks_Discard(t *testing.T) {
	var h CommitHooks
	ran := false

	h.AfterCommit(func() { ran = true })
	h.Discard()
	h.Run()

	if ran {
		t.Error("discarded hook must not run")
	}
}
