// Package domain provides the pure domain layer for focus sessions with no
// infrastructure dependencies.
//
// It defines the FocusSession entity with encapsulated state and transitions,
// the store interfaces that persistence adapters implement, the block list,
// and the error taxonomy shared by every layer.
package domain

import (
	"maps"
	"slices"
	"time"
)

// SessionStatus represents the lifecycle state of a focus session.
type SessionStatus string

const (
	// StatusStarting means enforcement is being engaged and no record exists yet.
	StatusStarting SessionStatus = "starting"

	// StatusActive means apps are blocked and attempts are being counted.
	StatusActive SessionStatus = "active"

	// StatusCompleting means the session is ending and enforcement is being released.
	StatusCompleting SessionStatus = "completing"

	// StatusCompleted means the session ended by stop or expiry.
	StatusCompleted SessionStatus = "completed"

	// StatusAborted means the session ended without its protection holding.
	StatusAborted SessionStatus = "aborted"
)

// String returns the string representation of the session status.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized session status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusStarting, StatusActive, StatusCompleting, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for Completed and Aborted.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// FocusSession is a time-boxed or indefinite commitment during which a fixed
// set of apps is blocked. Fields are unexported; use NewFocusSession or
// ReconstituteFocusSession and the transition methods.
type FocusSession struct {
	id                     string
	startTime              time.Time
	endTime                *time.Time
	plannedDurationMinutes int
	blockedAppIDs          []string
	status                 SessionStatus
	attempts               map[string]int

	// quotaEligible records whether the identity was unsubscribed at start.
	quotaEligible      bool
	countedTowardQuota bool
	quotaIdentity      string

	createdAt time.Time
	updatedAt time.Time
}

// NewFocusSession creates a session in the Starting state. The blocked app set
// is normalized (trimmed, deduplicated, sorted) and fixed for the session's
// lifetime.
func NewFocusSession(id string, start time.Time, plannedMinutes int, appIDs []string, quotaEligible bool) *FocusSession {
	return &FocusSession{
		id:                     id,
		startTime:              start,
		plannedDurationMinutes: plannedMinutes,
		blockedAppIDs:          NewBlockList(appIDs...).Apps(),
		status:                 StatusStarting,
		attempts:               make(map[string]int),
		quotaEligible:          quotaEligible,
		quotaIdentity:          DefaultQuotaIdentity,
		createdAt:              start,
		updatedAt:              start,
	}
}

// ReconstituteFocusSession rebuilds a session from persisted data.
func ReconstituteFocusSession(
	id string,
	startTime time.Time,
	endTime *time.Time,
	plannedMinutes int,
	blockedAppIDs []string,
	status SessionStatus,
	attempts map[string]int,
	quotaEligible, countedTowardQuota bool,
	createdAt, updatedAt time.Time,
) *FocusSession {
	if attempts == nil {
		attempts = make(map[string]int)
	}
	return &FocusSession{
		id:                     id,
		startTime:              startTime,
		endTime:                endTime,
		plannedDurationMinutes: plannedMinutes,
		blockedAppIDs:          blockedAppIDs,
		status:                 status,
		attempts:               attempts,
		quotaEligible:          quotaEligible,
		countedTowardQuota:     countedTowardQuota,
		quotaIdentity:          DefaultQuotaIdentity,
		createdAt:              createdAt,
		updatedAt:              updatedAt,
	}
}

// ID returns the session identifier.
func (s *FocusSession) ID() string { return s.id }

// StartTime returns when enforcement was engaged.
func (s *FocusSession) StartTime() time.Time { return s.startTime }

// EndTime returns when the session reached a terminal state, or nil.
func (s *FocusSession) EndTime() *time.Time { return s.endTime }

// PlannedDurationMinutes returns the planned length; 0 means indefinite.
func (s *FocusSession) PlannedDurationMinutes() int { return s.plannedDurationMinutes }

// PlannedDuration returns the planned length as a time.Duration.
func (s *FocusSession) PlannedDuration() time.Duration {
	return time.Duration(s.plannedDurationMinutes) * time.Minute
}

// Indefinite reports whether the session runs until stopped.
func (s *FocusSession) Indefinite() bool { return s.plannedDurationMinutes == 0 }

// BlockedAppIDs returns a copy of the blocked app set.
func (s *FocusSession) BlockedAppIDs() []string { return slices.Clone(s.blockedAppIDs) }

// Blocks reports whether appID is part of this session's blocked set.
func (s *FocusSession) Blocks(appID string) bool {
	_, found := slices.BinarySearch(s.blockedAppIDs, appID)
	return found
}

// Status returns the current lifecycle status.
func (s *FocusSession) Status() SessionStatus { return s.status }

// Attempts returns a copy of the per-app attempt counts.
func (s *FocusSession) Attempts() map[string]int { return maps.Clone(s.attempts) }

// AttemptCount returns the attempt count for one app.
func (s *FocusSession) AttemptCount(appID string) int { return s.attempts[appID] }

// QuotaEligible reports whether the identity was unsubscribed at session start.
func (s *FocusSession) QuotaEligible() bool { return s.quotaEligible }

// CountedTowardQuota reports whether completion consumed a free tier slot.
func (s *FocusSession) CountedTowardQuota() bool { return s.countedTowardQuota }

// QuotaIdentity returns the identity a counted completion is charged to.
func (s *FocusSession) QuotaIdentity() string { return s.quotaIdentity }

// SetQuotaIdentity records the identity completions are charged to. Empty
// values keep the default.
func (s *FocusSession) SetQuotaIdentity(identity string) {
	if identity != "" {
		s.quotaIdentity = identity
	}
}

// CreatedAt returns when the record was created.
func (s *FocusSession) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the record was last changed.
func (s *FocusSession) UpdatedAt() time.Time { return s.updatedAt }

// Elapsed returns wall-clock time since start, never negative.
func (s *FocusSession) Elapsed(now time.Time) time.Duration {
	if now.Before(s.startTime) {
		return 0
	}
	return now.Sub(s.startTime)
}

// Remaining returns planned duration minus elapsed time, floored at zero.
// The boolean is false for indefinite sessions.
func (s *FocusSession) Remaining(now time.Time) (time.Duration, bool) {
	if s.Indefinite() {
		return 0, false
	}
	remaining := s.PlannedDuration() - s.Elapsed(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Expired reports whether a timed session has reached its planned end.
func (s *FocusSession) Expired(now time.Time) bool {
	if s.Indefinite() {
		return false
	}
	return s.Elapsed(now) >= s.PlannedDuration()
}

// Activate moves Starting to Active once enforcement is engaged.
func (s *FocusSession) Activate(now time.Time) error {
	if s.status != StatusStarting {
		return &TransitionError{From: s.status, To: StatusActive}
	}
	s.status = StatusActive
	s.updatedAt = now
	return nil
}

// BeginCompleting moves Active to Completing.
func (s *FocusSession) BeginCompleting(now time.Time) error {
	if s.status != StatusActive {
		return &TransitionError{From: s.status, To: StatusCompleting}
	}
	s.status = StatusCompleting
	s.updatedAt = now
	return nil
}

// Complete finalizes the session. end_time is set exactly once and clamped so
// it is never before start_time. counted_toward_quota is fixed here from the
// subscription state captured at start.
func (s *FocusSession) Complete(now time.Time) error {
	if s.status != StatusCompleting && s.status != StatusActive {
		return &TransitionError{From: s.status, To: StatusCompleted}
	}
	s.finish(now, StatusCompleted)
	s.countedTowardQuota = s.quotaEligible
	return nil
}

// Abort ends a non-terminal session without consuming quota.
func (s *FocusSession) Abort(now time.Time) error {
	if s.status.IsTerminal() {
		return &TransitionError{From: s.status, To: StatusAborted}
	}
	s.finish(now, StatusAborted)
	s.countedTowardQuota = false
	return nil
}

func (s *FocusSession) finish(now time.Time, status SessionStatus) {
	end := now
	if end.Before(s.startTime) {
		end = s.startTime
	}
	s.endTime = &end
	s.status = status
	s.updatedAt = now
}

// RecordAttempt increments the attempt count for appID and returns the new
// count. Only Active sessions accept attempts, and only for blocked apps.
func (s *FocusSession) RecordAttempt(appID string, now time.Time) (int, error) {
	if s.status != StatusActive {
		return 0, &TransitionError{From: s.status, To: StatusActive}
	}
	if !s.Blocks(appID) {
		return 0, &UnblockedAppError{SessionID: s.id, AppID: appID}
	}
	s.attempts[appID]++
	s.updatedAt = now
	return s.attempts[appID], nil
}

// SetAttemptCount overwrites one app's count, used when restoring persisted counts.
func (s *FocusSession) SetAttemptCount(appID string, count int) {
	s.attempts[appID] = count
}

// FinalPatch builds the store patch that mirrors the session's current
// status, end time and quota flag.
func (s *FocusSession) FinalPatch() SessionPatch {
	status := s.status
	counted := s.countedTowardQuota
	return SessionPatch{
		Status:             &status,
		EndTime:            s.endTime,
		CountedTowardQuota: &counted,
		UpdatedAt:          s.updatedAt,
	}
}
