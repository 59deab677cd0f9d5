// Package reporting builds read-only views of workflow instances for the API.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowplane/internal/store"
)

// Store is the subset of store.WorkflowStore the views read from.
type Store interface {
	store.WorkflowReader
	ListExecutors(ctx context.Context, tx store.Tx) ([]store.Executor, error)
	ListExecutorsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.Executor, error)
	ListPendingApprovalEdges(ctx context.Context, tx store.Tx) ([]store.Executor, error)
	ListLogsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.ExecutionLog, error)
	ListMappingsByWorkflow(ctx context.Context, tx store.Tx, workflowID string) ([]store.WorkflowMapping, error)
}

// Summary counts workflow definitions and service instances by state. An
// instance waiting for approval is counted as running as well. An instance
// whose executors are all terminal is completed, even when one of them failed
// or was rejected.
type Summary struct {
	Total           int
	Running         int
	Completed       int
	PendingApproval int
}

// PendingApproval describes an edge executor waiting for a decision.
type PendingApproval struct {
	ID              string
	ServiceName     string
	ServiceID       string
	WorkflowID      string
	WorkflowName    string
	StageID         string
	StageName       string
	ActivityID      string
	ActivityName    string
	RequestedBy     string
	RequestedAt     time.Time
	RequiredRole    string
	Status          store.ExecutorStatus
	ViewURL         string
	ViewWorkflowURL string
}

// ExecutionStep is one node or edge of an instance, in graph order.
type ExecutionStep struct {
	ID     string
	Name   string
	Type   store.ExecutorType
	Status store.ExecutorStatus
}

// InstanceDetails is the definition, progress and audit trail of one instance.
type InstanceDetails struct {
	Workflow *store.Workflow
	Steps    []ExecutionStep
	Logs     []store.ExecutionLog
}

// Service answers reporting queries.
type Service struct {
	store Store
}

func New(st Store) *Service {
	return &Service{store: st}
}

// ExecutorsByService returns every executor of the instance, oldest first.
func (s *Service) ExecutorsByService(ctx context.Context, serviceID string) ([]store.Executor, error) {
	return s.store.ListExecutorsByService(ctx, nil, serviceID)
}

// InstanceDetails returns store.ErrNotFound when the service has no executors
// or its workflow definition no longer exists.
func (s *Service) InstanceDetails(ctx context.Context, serviceID string) (*InstanceDetails, error) {
	execs, err := s.store.ListExecutorsByService(ctx, nil, serviceID)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, store.ErrNotFound
	}

	wf, err := s.store.GetWorkflow(ctx, nil, execs[0].WorkflowID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogsByService(ctx, nil, serviceID)
	if err != nil {
		return nil, err
	}

	return &InstanceDetails{
		Workflow: wf,
		Steps:    executionSteps(wf, execs),
		Logs:     logs,
	}, nil
}

// executionSteps walks the edges in definition order, emitting source node,
// edge and target node. Nodes appear once. Steps without an executor are
// reported PENDING.
func executionSteps(wf *store.Workflow, execs []store.Executor) []ExecutionStep {
	// Later executors of the same child win.
	byChild := make(map[string]store.Executor, len(execs))
	for _, x := range execs {
		byChild[x.ChildrenID] = x
	}

	step := func(id, name string, typ store.ExecutorType) ExecutionStep {
		if x, ok := byChild[id]; ok {
			return ExecutionStep{ID: id, Name: name, Type: x.Type, Status: x.Status}
		}
		return ExecutionStep{ID: id, Name: name, Type: typ, Status: store.StatusPending}
	}

	var steps []ExecutionStep
	seen := make(map[string]struct{})
	addNode := func(id string) {
		n, ok := wf.Node(id)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		steps = append(steps, step(n.ID, n.Data.StageName, store.ExecutorTypeNode))
	}

	for _, e := range wf.Edges {
		addNode(e.Source)
		steps = append(steps, step(e.ID, e.Data.ApproverRole, store.ExecutorTypeEdge))
		addNode(e.Target)
	}
	return steps
}

// PendingApprovals joins every waiting edge executor with its edge, target
// node and functionality mapping. Entries whose definition no longer resolves
// are skipped.
func (s *Service) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	execs, err := s.store.ListPendingApprovalEdges(ctx, nil)
	if err != nil {
		return nil, err
	}

	type workflowInfo struct {
		wf            *store.Workflow
		functionality string
	}
	cache := make(map[string]*workflowInfo)
	lookup := func(workflowID string) (*workflowInfo, error) {
		if info, ok := cache[workflowID]; ok {
			return info, nil
		}
		wf, err := s.store.GetWorkflow(ctx, nil, workflowID)
		if errors.Is(err, store.ErrNotFound) {
			cache[workflowID] = nil
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		mappings, err := s.store.ListMappingsByWorkflow(ctx, nil, workflowID)
		if err != nil {
			return nil, fmt.Errorf("list mappings of %s: %w", workflowID, err)
		}
		info := &workflowInfo{wf: wf}
		if len(mappings) > 0 {
			info.functionality = mappings[0].FunctionalityName
		}
		cache[workflowID] = info
		return info, nil
	}

	out := make([]PendingApproval, 0, len(execs))
	for _, x := range execs {
		info, err := lookup(x.WorkflowID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			continue
		}
		edge, ok := info.wf.Edge(x.ChildrenID)
		if !ok {
			continue
		}
		target, ok := info.wf.Node(edge.Target)
		if !ok {
			continue
		}

		p := PendingApproval{
			ID:           x.ID,
			ServiceName:  x.Name,
			ServiceID:    x.ServiceID,
			WorkflowID:   info.wf.ID,
			WorkflowName: info.wf.Name,
			StageID:      target.ID,
			StageName:    target.Data.StageName,
			ActivityID:   edge.ID,
			ActivityName: edge.Data.ApproverRole,
			RequestedBy:  info.wf.CreatedBy,
			RequestedAt:  info.wf.CreatedAt,
			RequiredRole: edge.Data.ApproverRole,
			Status:       x.Status,
		}
		if info.functionality != "" {
			p.ViewURL = fmt.Sprintf("/%s/view/%s", strings.ToLower(info.functionality), x.ServiceID)
			p.ViewWorkflowURL = "/workflows/view/" + x.ServiceID
		}
		out = append(out, p)
	}
	return out, nil
}

// Summary groups all executors by service id.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	total, err := s.store.CountWorkflows(ctx, nil)
	if err != nil {
		return nil, err
	}
	execs, err := s.store.ListExecutors(ctx, nil)
	if err != nil {
		return nil, err
	}

	type instance struct{ waiting, allTerminal bool }
	instances := make(map[string]*instance)
	for _, x := range execs {
		in, ok := instances[x.ServiceID]
		if !ok {
			in = &instance{allTerminal: true}
			instances[x.ServiceID] = in
		}
		if x.Status == store.StatusWaitingForApproval {
			in.waiting = true
		}
		if !x.Status.Terminal() {
			in.allTerminal = false
		}
	}

	sum := &Summary{Total: int(total)}
	for _, in := range instances {
		switch {
		case in.waiting:
			sum.PendingApproval++
			sum.Running++
		case in.allTerminal:
			sum.Completed++
		default:
			sum.Running++
		}
	}
	return sum, nil
}
