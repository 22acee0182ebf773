package actor

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command is an explicit intent entering the actor.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks command preconditions before execution
	Validate() error
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// Source identifies where the command originated.
type Source string

const (
	// SourceUser indicates a direct user request (CLI or API).
	SourceUser Source = "user"
	// SourceTimer indicates the periodic expiry check.
	SourceTimer Source = "timer"
	// SourceAdapter indicates an event reported by the enforcement adapter.
	SourceAdapter Source = "adapter"
	// SourceInternal indicates a system-generated follow-up.
	SourceInternal Source = "internal"
)

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      Source
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source Source) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

// ID returns the unique command identifier.
func (b *BaseCommand) ID() string {
	return b.id
}

// Type returns the command type for handler routing.
func (b *BaseCommand) Type() CommandType {
	return b.cmdType
}

// CreatedAt returns when the command was created.
func (b *BaseCommand) CreatedAt() time.Time {
	return b.createdAt
}

// Source returns the origin of this command.
func (b *BaseCommand) Source() Source {
	return b.source
}

// TraceID returns the trace ID of the attached span context, if any.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return ""
}

// SpanContext returns the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SpanContext() trace.SpanContext {
	return b.spanContext
}

// SetSpanContext links the command to the span that submitted it.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// Validate is a no-op for BaseCommand. Concrete commands should override this.
func (b *BaseCommand) Validate() error {
	return nil
}

// Result contains the outcome of command execution.
type Result struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Error contains the error if Success is false.
	Error error
	// Data contains optional result data for the caller.
	Data any
}

// OK builds a successful Result carrying data.
func OK(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed Result.
func Fail(err error) *Result {
	return &Result{Success: false, Error: err}
}

var (
	// ErrQueueFull is returned when the command queue has reached capacity.
	ErrQueueFull = errors.New("command queue is full")

	// ErrNotRunning is returned when submitting to a processor that is not running.
	ErrNotRunning = errors.New("command processor is not running")

	// ErrUnknownCommandType is returned when no handler is registered for a command type.
	ErrUnknownCommandType = errors.New("unknown command type")
)
