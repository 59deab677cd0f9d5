package engine

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var (
	// ErrWorkflowNotFound is returned by Initiate when the definition does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrUnknownDispatcher is returned by the registry for an unregistered tag.
	ErrUnknownDispatcher = errors.New("unknown dispatcher")

	errBeginTx = errors.New("begin transaction")
)

// Failure codes persisted on executors.
const (
	CodeWorkflowNotFound    = "WORKFLOW_DEFINITION_NOT_FOUND"
	CodeNodeNotFound        = "NODE_NOT_FOUND"
	CodeEdgeNotFound        = "EDGE_NOT_FOUND"
	CodeInvalidExecutorType = "INVALID_EXECUTOR_TYPE"
	CodeServiceExecution    = "SERVICE_EXECUTION_ERROR"
	CodeUnhandled           = "UNHANDLED_ERROR"
	CodeWorkflowAborted     = "WORKFLOW_ABORTED"
)

const maxStackFrames = 50

// StepError is a failure raised while advancing an executor. Fatal errors
// fail the whole instance; the rest only fail the executor they happened on.
type StepError struct {
	Code    string
	Message string
	Fatal   bool
	Cause   error
	// Stack is the persisted trace, at most 50 frames.
	Stack string
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *StepError) Unwrap() error { return e.Cause }

func fatal(code, format string, args ...any) *StepError {
	return &StepError{Code: code, Message: fmt.Sprintf(format, args...), Fatal: true}
}

// asStepError classifies err. Anything that is not already a StepError is an
// unhandled failure.
func asStepError(err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{
		Code:    CodeUnhandled,
		Message: "Internal execution error: " + err.Error(),
		Fatal:   true,
		Cause:   err,
		Stack:   errorChain(err),
	}
}

// panicError converts a recovered panic. It must be called from the deferred
// function so the panicking frames are still on the stack.
func panicError(code string, r any, isFatal bool) *StepError {
	msg := fmt.Sprintf("panic: %v", r)
	if code == CodeUnhandled {
		msg = "Internal execution error: " + msg
	} else {
		msg = "Business task failed: " + msg
	}
	return &StepError{Code: code, Message: msg, Fatal: isFatal, Stack: callerStack(3)}
}

func callerStack(skip int) string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// errorChain renders the wrap chain of err, outermost first.
func errorChain(err error) string {
	var lines []string
	for err != nil && len(lines) < maxStackFrames {
		lines = append(lines, err.Error())
		err = errors.Unwrap(err)
	}
	return strings.Join(lines, "\n")
}
