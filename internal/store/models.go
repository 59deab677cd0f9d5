// Package store contains the persistence layer for flowplane.
package store

import "time"

// Workflow is a workflow definition: a directed graph of nodes (business
// steps) and edges (transitions, optionally gated by an approval).
type Workflow struct {
	ID          string
	Name        string
	Description string
	Version     string
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Nodes       []Node
	Edges       []Edge
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Edge returns the edge with the given id.
func (w *Workflow) Edge(id string) (*Edge, bool) {
	for i := range w.Edges {
		if w.Edges[i].ID == id {
			return &w.Edges[i], true
		}
	}
	return nil, false
}

// OutgoingEdges returns the edges leaving nodeID, in definition order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// StartNodes returns the nodes that are never the target of an edge.
func (w *Workflow) StartNodes() []Node {
	targets := make(map[string]struct{}, len(w.Edges))
	for _, e := range w.Edges {
		targets[e.Target] = struct{}{}
	}

	var start []Node
	for _, n := range w.Nodes {
		if _, ok := targets[n.ID]; !ok {
			start = append(start, n)
		}
	}
	return start
}

// Position is a canvas coordinate. It is carried for the editor and never
// interpreted by the engine.
type Position struct {
	X float64
	Y float64
}

// Node is a business-task step of a workflow.
type Node struct {
	ID               string
	Type             string
	Position         Position
	PositionAbsolute Position
	Width            float64
	Height           float64
	Selected         bool
	Dragging         bool
	Data             NodeData
}

// NodeData holds the definition-time attributes of a node.
type NodeData struct {
	StageName   string
	Environment string
	Label       string
	Status      string
	// Parameters are handed to the dispatcher verbatim.
	Parameters map[string]string
}

// Edge is a transition between two nodes.
type Edge struct {
	ID           string
	Source       string
	SourceHandle string
	Target       string
	TargetHandle string
	Type         string
	Data         EdgeData
}

// EdgeData holds the approval settings of an edge.
type EdgeData struct {
	RequiresApproval bool
	ApproverRole     string
	// ApprovalTimeout is advisory only.
	ApprovalTimeout string
	AutoApprove     bool
	Status          string
}

// ExecutorType tells whether an executor tracks a node or an edge.
type ExecutorType string

const (
	ExecutorTypeNode ExecutorType = "NODE"
	ExecutorTypeEdge ExecutorType = "EDGE"
)

// ExecutorStatus is the runtime state of an executor.
type ExecutorStatus string

const (
	StatusPending            ExecutorStatus = "PENDING"
	StatusRunning            ExecutorStatus = "RUNNING"
	StatusCompleted          ExecutorStatus = "COMPLETED"
	StatusFailed             ExecutorStatus = "FAILED"
	StatusWaitingForApproval ExecutorStatus = "WAITING_FOR_APPROVAL"
	StatusRejected           ExecutorStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ExecutorStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Executor is the runtime record of one node or edge for one service instance.
type Executor struct {
	ID         string
	WorkflowID string
	ServiceID  string
	Name       string
	// Engine is the registry tag of the variant that created the executor.
	Engine     string
	Type       ExecutorType
	// ChildrenID is the node id for NODE executors and the edge id for EDGE executors.
	ChildrenID string
	Status     ExecutorStatus

	ErrorCode       string
	ErrorMessage    string
	ErrorStackTrace string

	ApprovedBy       string
	ApprovalComments string
	AssignedApprover string
	ApprovalDeadline *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelSuccess LogLevel = "SUCCESS"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// ExecutionLog is an append-only audit record.
type ExecutionLog struct {
	ID          string
	Timestamp   time.Time
	StepID      string
	StepName    string
	Level       LogLevel
	Message     string
	Details     string
	PerformedBy string
	ExecutorID  string
	ServiceID   string
}

// WorkflowMapping binds a workflow to a functionality (the business area
// whose instances drive it).
type WorkflowMapping struct {
	ID                string
	WorkflowID        string
	FunctionalityID   string
	FunctionalityName string
	FunctionalityType string
	CreatedAt         time.Time
}

// Task is a release task that may trigger its assigned workflow.
type Task struct {
	ID               string
	ReleaseNumber    string
	Title            string
	Description      string
	SQLQuery         string
	AssignedWorkflow string
	Status           string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
