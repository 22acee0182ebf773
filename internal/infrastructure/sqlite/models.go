package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// sessionModel represents the database row for the focus_sessions table.
// Time values are stored as Unix milliseconds.
type sessionModel struct {
	ID                     string
	StartTime              int64
	EndTime                *int64 // nullable
	PlannedDurationMinutes int
	BlockedAppIDs          string // JSON encoded
	Status                 string
	QuotaEligible          bool
	CountedTowardQuota     bool
	QuotaIdentity          string
	CreatedAt              int64
	UpdatedAt              int64
}

// toSessionModel converts a domain FocusSession to a database row.
func toSessionModel(s *domain.FocusSession) (*sessionModel, error) {
	apps, err := json.Marshal(s.BlockedAppIDs())
	if err != nil {
		return nil, fmt.Errorf("encoding blocked apps: %w", err)
	}
	m := &sessionModel{
		ID:                     s.ID(),
		StartTime:              s.StartTime().UnixMilli(),
		PlannedDurationMinutes: s.PlannedDurationMinutes(),
		BlockedAppIDs:          string(apps),
		Status:                 string(s.Status()),
		QuotaEligible:          s.QuotaEligible(),
		CountedTowardQuota:     s.CountedTowardQuota(),
		QuotaIdentity:          s.QuotaIdentity(),
		CreatedAt:              s.CreatedAt().UnixMilli(),
		UpdatedAt:              s.UpdatedAt().UnixMilli(),
	}
	if end := s.EndTime(); end != nil {
		ms := end.UnixMilli()
		m.EndTime = &ms
	}
	return m, nil
}

// toDomain converts a row and its attempt counts back to a FocusSession.
// Rows that cannot be decoded yield a CorruptRecordError.
func (m *sessionModel) toDomain(attempts map[string]int) (*domain.FocusSession, error) {
	var apps []string
	if err := json.Unmarshal([]byte(m.BlockedAppIDs), &apps); err != nil {
		return nil, &domain.CorruptRecordError{ID: m.ID, Err: fmt.Errorf("decoding blocked apps: %w", err)}
	}
	if len(apps) == 0 {
		return nil, &domain.CorruptRecordError{ID: m.ID, Err: fmt.Errorf("empty blocked app set")}
	}
	status := domain.SessionStatus(m.Status)
	if !status.IsValid() {
		return nil, &domain.CorruptRecordError{ID: m.ID, Err: fmt.Errorf("unknown status %q", m.Status)}
	}
	if m.PlannedDurationMinutes < 0 {
		return nil, &domain.CorruptRecordError{ID: m.ID, Err: fmt.Errorf("negative planned duration")}
	}

	var endTime *time.Time
	if m.EndTime != nil {
		t := time.UnixMilli(*m.EndTime)
		endTime = &t
	}

	session := domain.ReconstituteFocusSession(
		m.ID,
		time.UnixMilli(m.StartTime),
		endTime,
		m.PlannedDurationMinutes,
		domain.NewBlockList(apps...).Apps(),
		status,
		attempts,
		m.QuotaEligible,
		m.CountedTowardQuota,
		time.UnixMilli(m.CreatedAt),
		time.UnixMilli(m.UpdatedAt),
	)
	session.SetQuotaIdentity(m.QuotaIdentity)
	return session, nil
}
