package engine

import (
	"errors"
	"time"

	"github.com/zjrosen/deepfocus/internal/attempts"
)

// State is the engine's position in the session lifecycle.
type State string

const (
	// StateIdle means no session is running and none has finished since startup.
	StateIdle State = "idle"
	// StateStarting means enforcement is being engaged for a new session.
	StateStarting State = "starting"
	// StateActive means apps are blocked and attempts are counted.
	StateActive State = "active"
	// StateCompleting means enforcement is being released.
	StateCompleting State = "completing"
	// StateCompleted means the last session finished. A new start is allowed.
	StateCompleted State = "completed"
)

func (s State) String() string {
	return string(s)
}

// Busy reports whether a session is in flight.
func (s State) Busy() bool {
	return s == StateStarting || s == StateActive || s == StateCompleting
}

var (
	// ErrStartCancelled is returned to a pending Start when Stop arrives first.
	ErrStartCancelled = errors.New("session start cancelled")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrNotOpen is returned by operations before Open or Run.
	ErrNotOpen = errors.New("engine not open")
)

// AttemptPayload is the overlay notification content for one attempt.
type AttemptPayload = attempts.Payload

// SessionHandle identifies a started session.
type SessionHandle struct {
	ID                     string
	StartTime              time.Time
	PlannedDurationMinutes int
	BlockedAppIDs          []string
}

// Status is a point-in-time view of the engine.
type Status struct {
	State     State
	SessionID string

	// RemainingSeconds is nil for indefinite sessions and when no session is active.
	RemainingSeconds *int64

	// Attempts holds per-app counts for the current or last finished session.
	Attempts map[string]int

	PlannedDurationMinutes int
	BlockedAppIDs          []string
	StartTime              time.Time
	EndTime                *time.Time
}

// StateChange describes one transition, or a non-fatal warning when Err is set.
type StateChange struct {
	From      State
	To        State
	SessionID string
	Reason    string
	At        time.Time
	Err       error
}

// Reasons carried on StateChange.
const (
	ReasonStart          = "start"
	ReasonActivated      = "activated"
	ReasonStopped        = "stopped"
	ReasonExpired        = "expired"
	ReasonCancelled      = "cancelled"
	ReasonBlockFailed    = "block_failed"
	ReasonPersistFailed  = "persist_failed"
	ReasonRecovered      = "recovered"
	ReasonRecoveryFailed = "recovery_failed"
	ReasonExternal       = "external"
)

// RecoveryOutcome summarizes what recovery found.
type RecoveryOutcome string

const (
	RecoveryNone      RecoveryOutcome = "none"
	RecoveryResumed   RecoveryOutcome = "resumed"
	RecoveryExpired   RecoveryOutcome = "expired"
	RecoveryCompleted RecoveryOutcome = "completed"
	RecoveryAborted   RecoveryOutcome = "aborted"
	RecoveryReset     RecoveryOutcome = "reset"
	RecoverySkipped   RecoveryOutcome = "skipped"
)

// RecoveryReport is the result of Recover. Warning carries non-fatal problems
// such as domain.ErrInconsistentStateRecovered; recovery itself never fails.
type RecoveryReport struct {
	Outcome   RecoveryOutcome
	SessionID string
	Warning   error
}
