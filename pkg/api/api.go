// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// Position is a canvas coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the definition-time attributes of a node.
type NodeData struct {
	StageName   string            `json:"stageName,omitempty" yaml:"stageName,omitempty"`
	Environment string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Status      string            `json:"status,omitempty" yaml:"status,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Node is a business step of a workflow definition.
type Node struct {
	ID               string   `json:"id" yaml:"id"`
	Type             string   `json:"type,omitempty" yaml:"type,omitempty"`
	Position         Position `json:"position" yaml:"position,omitempty"`
	PositionAbsolute Position `json:"positionAbsolute" yaml:"positionAbsolute,omitempty"`
	Width            float64  `json:"width,omitempty" yaml:"width,omitempty"`
	Height           float64  `json:"height,omitempty" yaml:"height,omitempty"`
	Selected         bool     `json:"selected,omitempty" yaml:"selected,omitempty"`
	Dragging         bool     `json:"dragging,omitempty" yaml:"dragging,omitempty"`
	Data             NodeData `json:"data" yaml:"data"`
}

// EdgeData holds the approval settings of an edge.
type EdgeData struct {
	RequiresApproval bool   `json:"requiresApproval" yaml:"requiresApproval"`
	ApproverRole     string `json:"approverRole,omitempty" yaml:"approverRole,omitempty"`
	ApprovalTimeout  string `json:"approvalTimeout,omitempty" yaml:"approvalTimeout,omitempty"`
	AutoApprove      bool   `json:"autoApprove" yaml:"autoApprove"`
	Status           string `json:"status,omitempty" yaml:"status,omitempty"`
}

// Edge is a transition between two nodes.
type Edge struct {
	ID           string   `json:"id" yaml:"id"`
	Source       string   `json:"source" yaml:"source"`
	SourceHandle string   `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Target       string   `json:"target" yaml:"target"`
	TargetHandle string   `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
	Data         EdgeData `json:"data" yaml:"data"`
}

// Workflow is a workflow definition. It is both the request body of
// POST /api/workflows and the response of the workflow endpoints.
type Workflow struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Status      string    `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
	Nodes       []Node    `json:"nodes" yaml:"nodes"`
	Edges       []Edge    `json:"edges" yaml:"edges"`
}

// InitiateRequest is the request body for starting a workflow instance.
// Type selects the engine variant; empty means the default.
type InitiateRequest struct {
	Type      string `json:"type,omitempty"`
	ServiceID string `json:"serviceId"`
	Name      string `json:"name"`
}

// ApprovalRequest is the request body for approving or rejecting an edge.
type ApprovalRequest struct {
	Type       string `json:"type,omitempty"`
	ApprovedBy string `json:"approvedBy"`
	Comments   string `json:"comments,omitempty"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// Executor is the runtime record of one node or edge of an instance.
type Executor struct {
	ID               string     `json:"id"`
	WorkflowID       string     `json:"workflowId"`
	ServiceID        string     `json:"serviceId"`
	Name             string     `json:"name"`
	Engine           string     `json:"engine,omitempty"`
	Type             string     `json:"type"`
	ChildrenID       string     `json:"childrenId"`
	Status           string     `json:"status"`
	ErrorCode        string     `json:"errorCode,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	ErrorStackTrace  string     `json:"errorStackTrace,omitempty"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovalComments string     `json:"approvalComments,omitempty"`
	AssignedApprover string     `json:"assignedApprover,omitempty"`
	ApprovalDeadline *time.Time `json:"approvalDeadline,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// ExecutionLog is one audit entry of an instance.
type ExecutionLog struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	StepID      string    `json:"stepId"`
	StepName    string    `json:"stepName"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Details     string    `json:"details"`
	PerformedBy string    `json:"performedBy"`
	ExecutorID  string    `json:"executorId,omitempty"`
	ServiceID   string    `json:"serviceId"`
}

// ExecutionStep is one node or edge of an instance in graph order.
type ExecutionStep struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// WorkflowInstanceDetails is the definition, progress and logs of an instance.
type WorkflowInstanceDetails struct {
	Workflow       Workflow        `json:"workflow"`
	ExecutionSteps []ExecutionStep `json:"executionSteps"`
	ExecutionLogs  []ExecutionLog  `json:"executionLogs"`
}

// PendingApprovalDetails describes an edge waiting for a decision.
type PendingApprovalDetails struct {
	ID              string    `json:"id"`
	ServiceName     string    `json:"serviceName"`
	ServiceID       string    `json:"serviceId"`
	WorkflowID      string    `json:"workflowId"`
	WorkflowName    string    `json:"workflowName"`
	StageID         string    `json:"stageId"`
	StageName       string    `json:"stageName"`
	ActivityID      string    `json:"activityId"`
	ActivityName    string    `json:"activityName"`
	RequestedBy     string    `json:"requestedBy"`
	RequestedAt     time.Time `json:"requestedAt"`
	RequiredRole    string    `json:"requiredRole"`
	Status          string    `json:"status"`
	ViewURL         string    `json:"viewURL,omitempty"`
	ViewWorkflowURL string    `json:"viewWorkflowURL,omitempty"`
}

// WorkflowInstanceSummary counts definitions and instances by state.
type WorkflowInstanceSummary struct {
	Total           int `json:"total"`
	Running         int `json:"running"`
	Completed       int `json:"completed"`
	PendingApproval int `json:"pendingApproval"`
}

// WorkflowMapping binds a workflow to a functionality.
type WorkflowMapping struct {
	ID                string    `json:"id,omitempty"`
	WorkflowID        string    `json:"workflowId"`
	FunctionalityID   string    `json:"functionalityId"`
	FunctionalityName string    `json:"functionalityName"`
	FunctionalityType string    `json:"functionalityType,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Task is a release task. Creating one with AssignedWorkflow set starts that
// workflow for the task.
type Task struct {
	ID               string    `json:"id,omitempty"`
	ReleaseNumber    string    `json:"releaseNumber,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	SQLQuery         string    `json:"sqlQuery,omitempty"`
	AssignedWorkflow string    `json:"assignedWorkflow,omitempty"`
	Status           string    `json:"status,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
