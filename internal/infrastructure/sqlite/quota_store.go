package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// QuotaStore implements domain.QuotaStore using SQLite.
type QuotaStore struct {
	db  *sql.DB
	now func() time.Time
}

func newQuotaStore(db *sql.DB) *QuotaStore {
	return &QuotaStore{db: db, now: time.Now}
}

var _ domain.QuotaStore = (*QuotaStore)(nil)

// CompletedCount returns the larger of the stored counter and the number of
// the identity's counted Completed sessions, so a crash between finalizing a
// session and incrementing the counter never hands out an extra free session.
func (q *QuotaStore) CompletedCount(ctx context.Context, identity string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT MAX(
			COALESCE((SELECT completed_count FROM usage_quota WHERE identity = ?), 0),
			(SELECT COUNT(*) FROM focus_sessions WHERE status = ? AND counted_toward_quota = 1 AND quota_identity = ?)
		)`,
		identity, string(domain.StatusCompleted), identity,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return count, nil
}

// IncrementCompleted adds one to the identity's counter.
func (q *QuotaStore) IncrementCompleted(ctx context.Context, identity string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO usage_quota (identity, completed_count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (identity) DO UPDATE SET completed_count = completed_count + 1, updated_at = excluded.updated_at
		RETURNING completed_count`,
		identity, q.now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return count, nil
}
