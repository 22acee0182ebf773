package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error surfaced by the engine matches one of these
// with errors.Is.
var (
	// ErrValidation reports a bad duration or an empty app set.
	ErrValidation = errors.New("validation error")

	// ErrQuotaExceeded reports that an unsubscribed identity used its free sessions.
	ErrQuotaExceeded = errors.New("free tier quota exceeded")

	// ErrEnforcementUnavailable reports that blocking could not be engaged after retries.
	ErrEnforcementUnavailable = errors.New("enforcement unavailable")

	// ErrEnforcementTimeout reports an enforcement call that exceeded its deadline.
	ErrEnforcementTimeout = errors.New("enforcement timed out")

	// ErrPersistence reports a failed store read or write.
	ErrPersistence = errors.New("persistence error")

	// ErrInconsistentStateRecovered is a warning: persisted state could not be
	// loaded and was reset to idle.
	ErrInconsistentStateRecovered = errors.New("inconsistent state recovered")

	// ErrSessionActive reports a start while another session is non-terminal.
	ErrSessionActive = errors.New("a focus session is already in progress")

	// ErrNoActiveSession reports an operation that needs an active session.
	ErrNoActiveSession = errors.New("no active focus session")

	// ErrSessionNotFound reports a missing session record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCorruptRecord reports a persisted record that cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")

	// ErrInvalidTransition reports a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrAppNotBlocked reports an attempt on an app outside the blocked set.
	ErrAppNotBlocked = errors.New("app is not blocked by this session")
)

// ValidationError describes which input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SessionNotFoundError is returned when a session id has no record.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

// Is makes SessionNotFoundError match ErrSessionNotFound.
func (e *SessionNotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}

// CorruptRecordError is returned when a record exists but cannot be decoded.
type CorruptRecordError struct {
	ID  string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt session record %s: %v", e.ID, e.Err)
}

// Is makes CorruptRecordError match ErrCorruptRecord.
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	From SessionStatus
	To   SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move session from %s to %s", e.From, e.To)
}

// Is makes TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UnblockedAppError is returned for attempts on apps the session does not block.
type UnblockedAppError struct {
	SessionID string
	AppID     string
}

func (e *UnblockedAppError) Error() string {
	return fmt.Sprintf("app %s is not blocked by session %s", e.AppID, e.SessionID)
}

// Is makes UnblockedAppError match ErrAppNotBlocked.
func (e *UnblockedAppError) Is(target error) bool {
	return target == ErrAppNotBlocked
}
