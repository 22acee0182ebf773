// Package testutil builds focus session fixtures and seeds them into any
// domain.SessionStore.
package testutil

import (
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// Epoch is the default start time for fixtures.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// sessionData holds everything needed to build one session.
type sessionData struct {
	id       string
	start    time.Time
	minutes  int
	apps     []string
	eligible bool
	attempts map[string]int
	status   domain.SessionStatus
	endAfter time.Duration
}

func defaultSession(id string) sessionData {
	return sessionData{
		id:       id,
		start:    Epoch,
		minutes:  25,
		apps:     []string{"com.example.video"},
		eligible: true,
		status:   domain.StatusActive,
	}
}

// SessionOption configures a session during builder setup.
type SessionOption func(*sessionData)

// StartedAt sets the start time.
func StartedAt(t time.Time) SessionOption {
	return func(s *sessionData) { s.start = t }
}

// Minutes sets the planned duration. 0 is indefinite.
func Minutes(n int) SessionOption {
	return func(s *sessionData) { s.minutes = n }
}

// Apps sets the blocked app ids.
func Apps(ids ...string) SessionOption {
	return func(s *sessionData) { s.apps = ids }
}

// Subscribed marks the session as started by a subscribed identity, so it
// never counts toward the free quota.
func Subscribed() SessionOption {
	return func(s *sessionData) { s.eligible = false }
}

// Attempts records bypass attempts per app while the session is active.
func Attempts(counts map[string]int) SessionOption {
	return func(s *sessionData) { s.attempts = counts }
}

// Completed ends the session after d.
func Completed(d time.Duration) SessionOption {
	return func(s *sessionData) {
		s.status = domain.StatusCompleted
		s.endAfter = d
	}
}

// Aborted aborts the session after d.
func Aborted(d time.Duration) SessionOption {
	return func(s *sessionData) {
		s.status = domain.StatusAborted
		s.endAfter = d
	}
}
