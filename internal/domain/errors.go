package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category sentinels shared by config and adapters.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
)

// Task processing kinds. Every failed Process call carries exactly one of these.
var (
	ErrUnknownTaskType     = fmt.Errorf("unknown task type")
	ErrInvalidPayload      = fmt.Errorf("invalid payload")
	ErrCollaboratorFailure = fmt.Errorf("collaborator failure")
	ErrCancelled           = fmt.Errorf("cancelled")
	ErrHandlerPanic        = fmt.Errorf("handler panicked")
)

// Routing and lifecycle errors.
var (
	ErrUnknownAgent      = fmt.Errorf("unknown agent")
	ErrNotRunning        = fmt.Errorf("agent not running")
	ErrDuplicateName     = fmt.Errorf("agent name: %w", ErrDuplicate)
	ErrInvalidTransition = fmt.Errorf("invalid lifecycle transition")
)

// ProcessingError is returned by Agent.Process for every failed task.
type ProcessingError struct {
	Agent    string // agent name
	TaskType string
	Kind     error  // one of the task processing kinds
	Detail   string // human-readable detail
	Err      error  // underlying cause, may be nil
}

func (e *ProcessingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Agent, e.TaskType)
	// Skip the kind when the cause already carries it.
	if e.Err == nil || !errors.Is(e.Err, e.Kind) {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProcessingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProcessingError creates a ProcessingError of the given kind.
func NewProcessingError(agent, taskType string, kind error, detail string, cause error) *ProcessingError {
	return &ProcessingError{Agent: agent, TaskType: taskType, Kind: kind, Detail: detail, Err: cause}
}

// InvalidPayload is the handler-side shorthand for rejecting a payload.
// The runtime fills in agent and task type.
func InvalidPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// CollaboratorFailure wraps an error returned by an external collaborator.
func CollaboratorFailure(collaborator string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorFailure, collaborator, err)
}

// RouteError is returned by the orchestrator when a task cannot be delivered
// or the delivery was abandoned.
type RouteError struct {
	Agent string
	Kind  error // ErrUnknownAgent, ErrNotRunning, ErrCancelled or ErrTimeout
	Err   error
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("route to %q: %s: %s", e.Agent, e.Kind, e.Err)
	}
	return fmt.Sprintf("route to %q: %s", e.Agent, e.Kind)
}

func (e *RouteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Lifecycle phases reported by LifecycleError.
const (
	PhaseInitialize = "initialize"
	PhaseShutdown   = "shutdown"
)

// LifecycleError reports a failed Start or Shutdown of one agent.
type LifecycleError struct {
	Agent string
	Phase string
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Agent, e.Phase, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// AgentFailure pairs an agent name with the error it produced.
type AgentFailure struct {
	Name string
	Err  error
}

// FleetError aggregates independent per-agent failures of a fleet-wide operation.
type FleetError struct {
	Op       string
	Failures []AgentFailure
}

// NewFleetError returns nil when there are no failures, otherwise a FleetError
// with the failures sorted by agent name.
func NewFleetError(op string, failures []AgentFailure) error {
	if len(failures) == 0 {
		return nil
	}
	sorted := make([]AgentFailure, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &FleetError{Op: op, Failures: sorted}
}

func (e *FleetError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Name, f.Err)
	}
	return fmt.Sprintf("%s: %d agent(s) failed: %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

func (e *FleetError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Names lists the failing agent names in order.
func (e *FleetError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return names
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeDuplicate            ErrorCode = "DUPLICATE"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeUnknownTaskType      ErrorCode = "UNKNOWN_TASK_TYPE"
	CodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	CodeCollaboratorFailure  ErrorCode = "COLLABORATOR_FAILURE"
	CodeCancelled            ErrorCode = "CANCELLED"
	CodeHandlerPanic         ErrorCode = "HANDLER_PANIC"
	CodeUnknownAgent         ErrorCode = "UNKNOWN_AGENT"
	CodeNotRunning           ErrorCode = "NOT_RUNNING"
	CodeDuplicateName        ErrorCode = "DUPLICATE_NAME"
	CodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	CodeLifecycleInitialize  ErrorCode = "INIT_FAILED"
	CodeLifecycleShutdown    ErrorCode = "SHUTDOWN_FAILED"
	CodeFleetPartialFailures ErrorCode = "FLEET_PARTIAL_FAILURE"
)

// errorCodeOrder lists sentinels from most to least specific. ProcessingError
// and RouteError unwrap to both a kind and a cause, so the kind must win.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrUnknownAgent, CodeUnknownAgent},
	{ErrNotRunning, CodeNotRunning},
	{ErrUnknownTaskType, CodeUnknownTaskType},
	{ErrInvalidPayload, CodeInvalidPayload},
	{ErrHandlerPanic, CodeHandlerPanic},
	{ErrTimeout, CodeTimeout},
	{ErrCancelled, CodeCancelled},
	{ErrCollaboratorFailure, CodeCollaboratorFailure},
	{ErrDuplicateName, CodeDuplicateName},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrDuplicate, CodeDuplicate},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var fe *FleetError
	if errors.As(err, &fe) {
		return CodeFleetPartialFailures
	}

	var re *RouteError
	if errors.As(err, &re) {
		return codeOfSentinel(re.Kind)
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return codeOfSentinel(pe.Kind)
	}

	if code := codeOfSentinel(err); code != CodeUnknown {
		return code
	}

	var le *LifecycleError
	if errors.As(err, &le) {
		if le.Phase == PhaseShutdown {
			return CodeLifecycleShutdown
		}
		return CodeLifecycleInitialize
	}
	return CodeUnknown
}

func codeOfSentinel(err error) ErrorCode {
	for _, entry := range errorCodeOrder {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}
