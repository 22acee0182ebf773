// Package memory provides an in-memory focus session store for tests and
// ephemeral runs. It honors the same contract as the SQLite store and can
// inject failures per operation.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpCreate           Op = "create"
	OpUpdate           Op = "update"
	OpLoadActive       Op = "load_active"
	OpIncrementAttempt Op = "increment_attempt"
	OpIncrementQuota   Op = "increment_quota"
)

// record is an immutable snapshot of a session row.
type record struct {
	id                 string
	start              time.Time
	end                *time.Time
	plannedMinutes     int
	apps               []string
	status             domain.SessionStatus
	attempts           map[string]int
	quotaEligible      bool
	countedTowardQuota bool
	quotaIdentity      string
	createdAt          time.Time
	updatedAt          time.Time
	corrupt            bool
}

func snapshot(s *domain.FocusSession) *record {
	r := &record{
		id:                 s.ID(),
		start:              s.StartTime(),
		plannedMinutes:     s.PlannedDurationMinutes(),
		apps:               s.BlockedAppIDs(),
		status:             s.Status(),
		attempts:           s.Attempts(),
		quotaEligible:      s.QuotaEligible(),
		countedTowardQuota: s.CountedTowardQuota(),
		quotaIdentity:      s.QuotaIdentity(),
		createdAt:          s.CreatedAt(),
		updatedAt:          s.UpdatedAt(),
	}
	if end := s.EndTime(); end != nil {
		e := *end
		r.end = &e
	}
	return r
}

func (r *record) toDomain() (*domain.FocusSession, error) {
	if r.corrupt {
		return nil, &domain.CorruptRecordError{ID: r.id, Err: fmt.Errorf("record marked corrupt")}
	}
	var end *time.Time
	if r.end != nil {
		e := *r.end
		end = &e
	}
	s := domain.ReconstituteFocusSession(
		r.id, r.start, end, r.plannedMinutes, slices.Clone(r.apps), r.status,
		maps.Clone(r.attempts), r.quotaEligible, r.countedTowardQuota, r.createdAt, r.updatedAt,
	)
	s.SetQuotaIdentity(r.quotaIdentity)
	return s, nil
}

// Store is an in-memory implementation of domain.SessionStore and
// domain.QuotaStore. It is thread-safe using sync.Mutex.
type Store struct {
	mu       sync.Mutex
	records  map[string]*record
	order    []string
	activeID string
	quota    map[string]int
	failures map[Op][]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]*record),
		quota:    make(map[string]int),
		failures: make(map[Op][]error),
	}
}

var (
	_ domain.SessionStore = (*Store)(nil)
	_ domain.QuotaStore   = (*Store)(nil)
)

// FailNext queues err to be returned by the next call of op. Multiple calls
// queue multiple failures in order.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Corrupt marks a stored record as undecodable.
func (s *Store) Corrupt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.corrupt = true
	}
}

// Put writes a record directly, bypassing the single-active check, and points
// the active pointer at it when non-terminal. Used to seed crash scenarios.
func (s *Store) Put(session *domain.FocusSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[session.ID()]; !ok {
		s.order = append(s.order, session.ID())
	}
	s.records[session.ID()] = snapshot(session)
	if !session.Status().IsTerminal() {
		s.activeID = session.ID()
	}
}

// SetActivePointer points the active pointer at id without checking it exists.
func (s *Store) SetActivePointer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}

func (s *Store) injected(op Op) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

// Create stores the record and sets the active pointer.
func (s *Store) Create(_ context.Context, session *domain.FocusSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpCreate); err != nil {
		return err
	}
	if s.activeID != "" {
		return fmt.Errorf("session %s is active: %w", s.activeID, domain.ErrSessionActive)
	}
	if _, ok := s.records[session.ID()]; ok {
		return fmt.Errorf("session %s already exists", session.ID())
	}
	s.records[session.ID()] = snapshot(session)
	s.order = append(s.order, session.ID())
	if !session.Status().IsTerminal() {
		s.activeID = session.ID()
	}
	return nil
}

// Update applies patch. Terminal records are never modified again.
func (s *Store) Update(_ context.Context, id string, patch domain.SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpUpdate); err != nil {
		return err
	}
	r, ok := s.records[id]
	if !ok {
		return &domain.SessionNotFoundError{ID: id}
	}
	if r.status.IsTerminal() {
		to := r.status
		if patch.Status != nil {
			to = *patch.Status
		}
		return &domain.TransitionError{From: r.status, To: to}
	}

	next := *r
	if patch.Status != nil {
		next.status = *patch.Status
	}
	if patch.EndTime != nil {
		e := *patch.EndTime
		next.end = &e
	}
	if patch.CountedTowardQuota != nil {
		next.countedTowardQuota = *patch.CountedTowardQuota
	}
	if !patch.UpdatedAt.IsZero() {
		next.updatedAt = patch.UpdatedAt
	}
	s.records[id] = &next

	if next.status.IsTerminal() && s.activeID == id {
		s.activeID = ""
	}
	return nil
}

// LoadActive returns the session the pointer references, or nil.
func (s *Store) LoadActive(_ context.Context) (*domain.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpLoadActive); err != nil {
		return nil, err
	}
	if s.activeID == "" {
		return nil, nil
	}
	r, ok := s.records[s.activeID]
	if !ok {
		return nil, &domain.CorruptRecordError{ID: s.activeID, Err: &domain.SessionNotFoundError{ID: s.activeID}}
	}
	if r.status.IsTerminal() {
		return nil, &domain.CorruptRecordError{ID: r.id, Err: fmt.Errorf("pointer references %s session", r.status)}
	}
	return r.toDomain()
}

// ClearActive removes the active pointer.
func (s *Store) ClearActive(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(_ context.Context, id string) (*domain.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, &domain.SessionNotFoundError{ID: id}
	}
	return r.toDomain()
}

// ListHistory returns sessions newest first.
func (s *Store) ListHistory(_ context.Context, filter domain.HistoryFilter) ([]*domain.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.FocusSession, 0, len(s.records))
	for _, id := range s.order {
		r, ok := s.records[id]
		if !ok || r.corrupt {
			continue
		}
		if filter.Status != "" && r.status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.start.Before(filter.Since) {
			continue
		}
		session, _ := r.toDomain()
		result = append(result, session)
	}

	slices.SortStableFunc(result, func(a, b *domain.FocusSession) int {
		return b.StartTime().Compare(a.StartTime())
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// IncrementAttempt adds one attempt for an Active session.
func (s *Store) IncrementAttempt(_ context.Context, sessionID, appID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpIncrementAttempt); err != nil {
		return 0, err
	}
	r, ok := s.records[sessionID]
	if !ok {
		return 0, &domain.SessionNotFoundError{ID: sessionID}
	}
	if r.status != domain.StatusActive {
		return 0, &domain.TransitionError{From: r.status, To: domain.StatusActive}
	}
	next := *r
	next.attempts = maps.Clone(r.attempts)
	next.attempts[appID]++
	s.records[sessionID] = &next
	return next.attempts[appID], nil
}

// Prune deletes terminal records that ended before olderThan.
func (s *Store) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		r := s.records[id]
		if r == nil || !r.status.IsTerminal() || r.end == nil || !r.end.Before(olderThan) {
			return false
		}
		delete(s.records, id)
		pruned++
		return true
	})
	return pruned, nil
}

// CompletedCount returns the larger of the counter and the counted
// completions, matching the SQLite store.
func (s *Store) CompletedCount(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	derived := 0
	for _, r := range s.records {
		if r.status == domain.StatusCompleted && r.countedTowardQuota && r.quotaIdentity == identity {
			derived++
		}
	}
	return max(s.quota[identity], derived), nil
}

// IncrementCompleted adds one to the identity's counter.
func (s *Store) IncrementCompleted(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpIncrementQuota); err != nil {
		return 0, err
	}
	s.quota[identity]++
	return s.quota[identity], nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
