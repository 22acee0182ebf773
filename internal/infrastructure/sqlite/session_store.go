package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

// sessionColumns is the list of columns to select for session queries.
const sessionColumns = `id, start_time, end_time, planned_duration_minutes, blocked_app_ids, status,
	quota_eligible, counted_toward_quota, quota_identity, created_at, updated_at`

// SessionStore implements domain.SessionStore using SQLite.
type SessionStore struct {
	db *sql.DB
}

func newSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Ensure SessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionStore)(nil)

// scanSession scans a row into a sessionModel.
func scanSession(scanner interface{ Scan(...any) error }) (*sessionModel, error) {
	var model sessionModel
	err := scanner.Scan(
		&model.ID, &model.StartTime, &model.EndTime, &model.PlannedDurationMinutes,
		&model.BlockedAppIDs, &model.Status,
		&model.QuotaEligible, &model.CountedTowardQuota, &model.QuotaIdentity,
		&model.CreatedAt, &model.UpdatedAt,
	)
	return &model, err
}

// Create inserts the record and the active pointer in one transaction.
func (s *SessionStore) Create(ctx context.Context, session *domain.FocusSession) error {
	model, err := toSessionModel(session)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM active_session WHERE slot = 1`).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("session %s is active: %w", existing, domain.ErrSessionActive)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to read active pointer: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO focus_sessions (
				id, start_time, end_time, planned_duration_minutes, blocked_app_ids, status,
				quota_eligible, counted_toward_quota, quota_identity, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			model.ID, model.StartTime, model.EndTime, model.PlannedDurationMinutes, model.BlockedAppIDs, model.Status,
			model.QuotaEligible, model.CountedTowardQuota, model.QuotaIdentity, model.CreatedAt, model.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if !session.Status().IsTerminal() {
			_, err = tx.ExecContext(ctx, `INSERT INTO active_session (slot, session_id) VALUES (1, ?)`, model.ID)
			if errors.Is(err, sqlite3.CONSTRAINT) {
				return fmt.Errorf("active pointer taken: %w", domain.ErrSessionActive)
			}
			if err != nil {
				return fmt.Errorf("failed to set active pointer: %w", err)
			}
		}
		return nil
	})
}

// Update applies patch to the record. A terminal status clears the active
// pointer in the same transaction. Terminal records are never modified again.
func (s *SessionStore) Update(ctx context.Context, id string, patch domain.SessionPatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM focus_sessions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.SessionNotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}

		from := domain.SessionStatus(current)
		if from.IsTerminal() {
			to := from
			if patch.Status != nil {
				to = *patch.Status
			}
			return &domain.TransitionError{From: from, To: to}
		}

		sets := make([]string, 0, 4)
		args := make([]any, 0, 5)
		if patch.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, string(*patch.Status))
		}
		if patch.EndTime != nil {
			sets = append(sets, "end_time = ?")
			args = append(args, patch.EndTime.UnixMilli())
		}
		if patch.CountedTowardQuota != nil {
			sets = append(sets, "counted_toward_quota = ?")
			args = append(args, *patch.CountedTowardQuota)
		}
		updatedAt := patch.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, updatedAt.UnixMilli(), id)

		//nolint:gosec // G202: column list is built from fixed strings
		if _, err := tx.ExecContext(ctx, `UPDATE focus_sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		if patch.Status != nil && patch.Status.IsTerminal() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM active_session WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("failed to clear active pointer: %w", err)
			}
		}
		return nil
	})
}

// LoadActive returns the session the active pointer references, or nil.
func (s *SessionStore) LoadActive(ctx context.Context) (*domain.FocusSession, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM active_session WHERE slot = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active pointer: %w", err)
	}

	session, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, &domain.CorruptRecordError{ID: id, Err: err}
	}
	if err != nil {
		return nil, err
	}
	if session.Status().IsTerminal() {
		return nil, &domain.CorruptRecordError{ID: id, Err: fmt.Errorf("pointer references %s session", session.Status())}
	}
	return session, nil
}

// ClearActive removes the active pointer.
func (s *SessionStore) ClearActive(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_session`); err != nil {
		return fmt.Errorf("failed to clear active pointer: %w", err)
	}
	return nil
}

// Get retrieves a session with its attempt counts.
// Returns SessionNotFoundError if no matching session exists.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.FocusSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM focus_sessions WHERE id = ?`, id)
	model, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	attempts, err := s.attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.toDomain(attempts)
}

// ListHistory returns sessions newest first. Undecodable rows are skipped and
// logged rather than failing the whole listing.
func (s *SessionStore) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	query += ` ORDER BY start_time DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	models := make([]*sessionModel, 0)
	for rows.Next() {
		model, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	_ = rows.Close()

	sessions := make([]*domain.FocusSession, 0, len(models))
	for _, model := range models {
		attempts, err := s.attempts(ctx, model.ID)
		if err != nil {
			return nil, err
		}
		session, err := model.toDomain(attempts)
		if err != nil {
			log.Warn(log.CatStore, "skipping corrupt session in history", "id", model.ID, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// IncrementAttempt adds one attempt for (sessionID, appID). Only Active
// sessions accept attempts.
func (s *SessionStore) IncrementAttempt(ctx context.Context, sessionID, appID string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM focus_sessions WHERE id = ?`, sessionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.SessionNotFoundError{ID: sessionID}
		}
		if err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}
		if domain.SessionStatus(status) != domain.StatusActive {
			return &domain.TransitionError{From: domain.SessionStatus(status), To: domain.StatusActive}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO session_attempts (session_id, app_id, count) VALUES (?, ?, 1)
			ON CONFLICT (session_id, app_id) DO UPDATE SET count = count + 1
			RETURNING count`,
			sessionID, appID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to increment attempt: %w", err)
		}
		return nil
	})
	return count, err
}

// Prune deletes terminal sessions that ended before olderThan.
func (s *SessionStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM focus_sessions
		WHERE status IN (?, ?) AND end_time IS NOT NULL AND end_time < ?
		AND id NOT IN (SELECT session_id FROM active_session)`,
		string(domain.StatusCompleted), string(domain.StatusAborted), olderThan.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the owning DB closes the connection.
func (s *SessionStore) Close() error {
	return nil
}

func (s *SessionStore) attempts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT app_id, count FROM session_attempts WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts := make(map[string]int)
	for rows.Next() {
		var appID string
		var count int
		if err := rows.Scan(&appID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts[appID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

func (s *SessionStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
