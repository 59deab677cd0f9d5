package handlers

import (
	"flowplane/internal/reporting"
	"flowplane/internal/store"
	"flowplane/pkg/api"
)

func workflowFromAPI(in api.Workflow) *store.Workflow {
	wf := &store.Workflow{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Version:     in.Version,
		Status:      in.Status,
		CreatedBy:   in.CreatedBy,
		Nodes:       make([]store.Node, len(in.Nodes)),
		Edges:       make([]store.Edge, len(in.Edges)),
	}
	for i, n := range in.Nodes {
		wf.Nodes[i] = store.Node{
			ID:               n.ID,
			Type:             n.Type,
			Position:         store.Position(n.Position),
			PositionAbsolute: store.Position(n.PositionAbsolute),
			Width:            n.Width,
			Height:           n.Height,
			Selected:         n.Selected,
			Dragging:         n.Dragging,
			Data:             store.NodeData(n.Data),
		}
	}
	for i, e := range in.Edges {
		wf.Edges[i] = store.Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
			Type:         e.Type,
			Data:         store.EdgeData(e.Data),
		}
	}
	return wf
}

func workflowToAPI(wf *store.Workflow) api.Workflow {
	out := api.Workflow{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Version:     wf.Version,
		Status:      wf.Status,
		CreatedBy:   wf.CreatedBy,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
		Nodes:       make([]api.Node, len(wf.Nodes)),
		Edges:       make([]api.Edge, len(wf.Edges)),
	}
	for i, n := range wf.Nodes {
		out.Nodes[i] = api.Node{
			ID:               n.ID,
			Type:             n.Type,
			Position:         api.Position(n.Position),
			PositionAbsolute: api.Position(n.PositionAbsolute),
			Width:            n.Width,
			Height:           n.Height,
			Selected:         n.Selected,
			Dragging:         n.Dragging,
			Data:             api.NodeData(n.Data),
		}
	}
	for i, e := range wf.Edges {
		out.Edges[i] = api.Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
			Type:         e.Type,
			Data:         api.EdgeData(e.Data),
		}
	}
	return out
}

func executorToAPI(x store.Executor) api.Executor {
	return api.Executor{
		ID:               x.ID,
		WorkflowID:       x.WorkflowID,
		ServiceID:        x.ServiceID,
		Name:             x.Name,
		Engine:           x.Engine,
		Type:             string(x.Type),
		ChildrenID:       x.ChildrenID,
		Status:           string(x.Status),
		ErrorCode:        x.ErrorCode,
		ErrorMessage:     x.ErrorMessage,
		ErrorStackTrace:  x.ErrorStackTrace,
		ApprovedBy:       x.ApprovedBy,
		ApprovalComments: x.ApprovalComments,
		AssignedApprover: x.AssignedApprover,
		ApprovalDeadline: x.ApprovalDeadline,
		CreatedAt:        x.CreatedAt,
		UpdatedAt:        x.UpdatedAt,
	}
}

func logToAPI(l store.ExecutionLog) api.ExecutionLog {
	return api.ExecutionLog{
		ID:          l.ID,
		Timestamp:   l.Timestamp,
		StepID:      l.StepID,
		StepName:    l.StepName,
		Level:       string(l.Level),
		Message:     l.Message,
		Details:     l.Details,
		PerformedBy: l.PerformedBy,
		ExecutorID:  l.ExecutorID,
		ServiceID:   l.ServiceID,
	}
}

func detailsToAPI(d *reporting.InstanceDetails) api.WorkflowInstanceDetails {
	out := api.WorkflowInstanceDetails{
		Workflow:       workflowToAPI(d.Workflow),
		ExecutionSteps: make([]api.ExecutionStep, len(d.Steps)),
		ExecutionLogs:  make([]api.ExecutionLog, len(d.Logs)),
	}
	for i, s := range d.Steps {
		out.ExecutionSteps[i] = api.ExecutionStep{
			ID:     s.ID,
			Name:   s.Name,
			Type:   string(s.Type),
			Status: string(s.Status),
		}
	}
	for i, l := range d.Logs {
		out.ExecutionLogs[i] = logToAPI(l)
	}
	return out
}

func pendingToAPI(p reporting.PendingApproval) api.PendingApprovalDetails {
	return api.PendingApprovalDetails{
		ID:              p.ID,
		ServiceName:     p.ServiceName,
		ServiceID:       p.ServiceID,
		WorkflowID:      p.WorkflowID,
		WorkflowName:    p.WorkflowName,
		StageID:         p.StageID,
		StageName:       p.StageName,
		ActivityID:      p.ActivityID,
		ActivityName:    p.ActivityName,
		RequestedBy:     p.RequestedBy,
		RequestedAt:     p.RequestedAt,
		RequiredRole:    p.RequiredRole,
		Status:          string(p.Status),
		ViewURL:         p.ViewURL,
		ViewWorkflowURL: p.ViewWorkflowURL,
	}
}

func mappingToAPI(m store.WorkflowMapping) api.WorkflowMapping {
	return api.WorkflowMapping(m)
}

func taskToAPI(t store.Task) api.Task {
	return api.Task(t)
}
