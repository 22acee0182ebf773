package domain

import (
	"context"
	"time"
)

// SessionPatch lists the fields Update may change. Nil fields are left as is.
type SessionPatch struct {
	Status             *SessionStatus
	EndTime            *time.Time
	CountedTowardQuota *bool

	// UpdatedAt is written when non-zero.
	UpdatedAt time.Time
}

// HistoryFilter narrows ListHistory results.
type HistoryFilter struct {
	// Status filters by lifecycle status. Empty means all.
	Status SessionStatus

	// Since excludes sessions that started before it. Zero means no bound.
	Since time.Time

	// Limit restricts the number of sessions returned. 0 means no limit.
	Limit int
}

// SessionStore is the durable record of focus sessions plus a pointer to the
// current non-terminal session.
//
// Implementations must keep the pointer consistent with the records across
// process death: the pointer never references a record that was not durably
// written, and moving a record to a terminal status clears the pointer in the
// same atomic write.
type SessionStore interface {
	// Create writes a new record and points the active pointer at it.
	// Returns ErrSessionActive if the pointer already references a session.
	Create(ctx context.Context, session *FocusSession) error

	// Update applies patch to the record with the given id. A terminal status
	// clears the active pointer. Returns SessionNotFoundError if missing.
	Update(ctx context.Context, id string, patch SessionPatch) error

	// LoadActive returns the session the pointer references, or nil if none.
	// Returns CorruptRecordError if the pointer references a record that
	// cannot be loaded.
	LoadActive(ctx context.Context) (*FocusSession, error)

	// ClearActive removes the active pointer without touching any record.
	ClearActive(ctx context.Context) error

	// Get returns the record with the given id, including attempt counts.
	Get(ctx context.Context, id string) (*FocusSession, error)

	// ListHistory returns sessions newest first.
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*FocusSession, error)

	// IncrementAttempt adds one attempt for (sessionID, appID) and returns the
	// new count. Fails with ErrInvalidTransition unless the session is Active.
	IncrementAttempt(ctx context.Context, sessionID, appID string) (int, error)

	// Prune deletes terminal records that ended before olderThan and returns
	// how many were removed. Non-terminal records are never pruned.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// QuotaStore persists the free tier completion counter per identity.
type QuotaStore interface {
	// CompletedCount returns the number of quota-counted completions.
	CompletedCount(ctx context.Context, identity string) (int, error)

	// IncrementCompleted adds one completion and returns the new count.
	IncrementCompleted(ctx context.Context, identity string) (int, error)
}
