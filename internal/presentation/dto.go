// Package presentation converts engine and domain values into the shapes
// printed by the command line.
package presentation

import (
	"time"

	"github.com/zjrosen/deepfocus/internal/engine"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// StatusDTO represents engine status for presentation.
type StatusDTO struct {
	State                  string         `json:"state"`
	SessionID              string         `json:"session_id,omitempty"`
	RemainingSeconds       *int64         `json:"remaining_seconds"` // null when indefinite or idle
	PlannedDurationMinutes int            `json:"planned_duration_minutes"`
	BlockedAppIDs          []string       `json:"blocked_app_ids"`
	Attempts               map[string]int `json:"attempts"`
	StartTime              *time.Time     `json:"start_time,omitempty"`
	EndTime                *time.Time     `json:"end_time,omitempty"`
}

// SessionDTO represents one history entry.
type SessionDTO struct {
	ID                     string         `json:"id"`
	Status                 string         `json:"status"`
	StartTime              time.Time      `json:"start_time"`
	EndTime                *time.Time     `json:"end_time"`
	PlannedDurationMinutes int            `json:"planned_duration_minutes"`
	BlockedAppIDs          []string       `json:"blocked_app_ids"`
	Attempts               map[string]int `json:"attempts"`
	TotalAttempts          int            `json:"total_attempts"`
	CountedTowardQuota     bool           `json:"counted_toward_quota"`
}

// UsageDTO represents the free tier allowance.
type UsageDTO struct {
	Identity  string `json:"identity"`
	Completed int    `json:"completed"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// FromStatus converts an engine status to a DTO.
func FromStatus(s engine.Status) StatusDTO {
	dto := StatusDTO{
		State:                  s.State.String(),
		SessionID:              s.SessionID,
		RemainingSeconds:       s.RemainingSeconds,
		PlannedDurationMinutes: s.PlannedDurationMinutes,
		BlockedAppIDs:          nonNil(s.BlockedAppIDs),
		Attempts:               s.Attempts,
		EndTime:                s.EndTime,
	}
	if dto.Attempts == nil {
		dto.Attempts = map[string]int{}
	}
	if !s.StartTime.IsZero() {
		start := s.StartTime
		dto.StartTime = &start
	}
	return dto
}

// FromSession converts a domain session to a DTO.
func FromSession(s *domain.FocusSession) SessionDTO {
	attempts := s.Attempts()
	total := 0
	for _, n := range attempts {
		total += n
	}
	return SessionDTO{
		ID:                     s.ID(),
		Status:                 s.Status().String(),
		StartTime:              s.StartTime(),
		EndTime:                s.EndTime(),
		PlannedDurationMinutes: s.PlannedDurationMinutes(),
		BlockedAppIDs:          nonNil(s.BlockedAppIDs()),
		Attempts:               attempts,
		TotalAttempts:          total,
		CountedTowardQuota:     s.CountedTowardQuota(),
	}
}

// FromSessions converts a history page.
func FromSessions(sessions []*domain.FocusSession) []SessionDTO {
	dtos := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dtos = append(dtos, FromSession(s))
	}
	return dtos
}

// FromUsage converts a quota snapshot.
func FromUsage(q domain.UsageQuota) UsageDTO {
	return UsageDTO{
		Identity:  q.Identity,
		Completed: q.Completed,
		Limit:     q.Limit,
		Remaining: q.Remaining(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
