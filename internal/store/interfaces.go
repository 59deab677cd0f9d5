package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by single-record lookups when the record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when creating a record whose id is taken.
var ErrAlreadyExists = errors.New("store: already exists")

// Tx is a unit of work. Every store method takes the Tx it participates in;
// a nil Tx reads committed state outside of any transaction.
type Tx interface {
	Commit() error
	Rollback() error

	// AfterCommit registers fn to run once the transaction has committed.
	// Callbacks are discarded if the transaction rolls back.
	AfterCommit(fn func())
}

// WorkflowReader is the read-only view of workflow definitions the engine consumes.
type WorkflowReader interface {
	// GetWorkflow returns the full definition with nodes and edges, or ErrNotFound.
	GetWorkflow(ctx context.Context, tx Tx, id string) (*Workflow, error)

	ListWorkflows(ctx context.Context, tx Tx) ([]Workflow, error)

	CountWorkflows(ctx context.Context, tx Tx) (int64, error)
}

// WorkflowWriter manages workflow definitions.
type WorkflowWriter interface {
	CreateWorkflow(ctx context.Context, tx Tx, wf *Workflow) error

	// DeleteWorkflow removes the definition together with its nodes and edges.
	// Executors and logs are kept.
	DeleteWorkflow(ctx context.Context, tx Tx, id string) error
}

// ExecutorStore persists executor records.
type ExecutorStore interface {
	// SaveExecutor upserts by id and refreshes UpdatedAt.
	SaveExecutor(ctx context.Context, tx Tx, e *Executor) error

	// SaveExecutors upserts a batch atomically with the enclosing transaction.
	SaveExecutors(ctx context.Context, tx Tx, es []*Executor) error

	// GetExecutor returns the executor or ErrNotFound. With a non-nil tx the
	// executor is locked against concurrent transitions until tx ends.
	GetExecutor(ctx context.Context, tx Tx, id string) (*Executor, error)

	ListExecutors(ctx context.Context, tx Tx) ([]Executor, error)
	ListExecutorsByWorkflow(ctx context.Context, tx Tx, workflowID string) ([]Executor, error)
	ListExecutorsByService(ctx context.Context, tx Tx, serviceID string) ([]Executor, error)
	ListExecutorsByWorkflowAndChild(ctx context.Context, tx Tx, workflowID, childID string) ([]Executor, error)
	ListExecutorsByStatus(ctx context.Context, tx Tx, status ExecutorStatus) ([]Executor, error)

	// ListPendingApprovalEdges returns EDGE executors in WAITING_FOR_APPROVAL.
	ListPendingApprovalEdges(ctx context.Context, tx Tx) ([]Executor, error)

	// LockChild serialises executor creation for one (workflow, service, child)
	// until tx ends.
	LockChild(ctx context.Context, tx Tx, workflowID, serviceID, childID string) error

	// MarkInstanceCompleted records the completion of a service instance.
	// It returns true only for the call that created the record.
	MarkInstanceCompleted(ctx context.Context, tx Tx, workflowID, serviceID string) (bool, error)
}

// LogSink is the append-only execution log.
type LogSink interface {
	AppendLog(ctx context.Context, tx Tx, entry *ExecutionLog) error
	ListLogsByService(ctx context.Context, tx Tx, serviceID string) ([]ExecutionLog, error)
}

// MappingStore persists workflow/functionality mappings.
type MappingStore interface {
	CreateMapping(ctx context.Context, tx Tx, m *WorkflowMapping) error
	ListMappings(ctx context.Context, tx Tx) ([]WorkflowMapping, error)
	ListMappingsByWorkflow(ctx context.Context, tx Tx, workflowID string) ([]WorkflowMapping, error)
}

// TaskStore persists release tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, tx Tx, t *Task) error
	GetTask(ctx context.Context, tx Tx, id string) (*Task, error)
	ListTasks(ctx context.Context, tx Tx) ([]Task, error)
}

// WorkflowStore combines everything the engine, the reporting views and the
// API need from a backend.
type WorkflowStore interface {
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error

	WorkflowReader
	WorkflowWriter
	ExecutorStore
	LogSink
	MappingStore
	TaskStore
}
