package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// NewSession builds a session in its final fixture state without storing it.
// Attempts are applied to the entity directly.
func NewSession(t *testing.T, id string, opts ...SessionOption) *domain.FocusSession {
	t.Helper()
	data := build(id, opts)

	s := activate(t, data)
	for app, n := range data.attempts {
		for range n {
			_, err := s.RecordAttempt(app, data.start)
			require.NoError(t, err)
		}
	}
	finish(t, s, data)
	return s
}

// Builder accumulates sessions and writes them through a store in order.
type Builder struct {
	t        *testing.T
	store    domain.SessionStore
	sessions []sessionData
}

// NewBuilder creates a builder for the given store.
func NewBuilder(t *testing.T, store domain.SessionStore) *Builder {
	t.Helper()
	return &Builder{t: t, store: store}
}

// WithSession adds a session with optional configuration.
func (b *Builder) WithSession(id string, opts ...SessionOption) *Builder {
	b.sessions = append(b.sessions, build(id, opts))
	return b
}

// Build writes every session: Create, then one IncrementAttempt per attempt,
// then the terminal patch for finished sessions. At most one session may be
// left non-terminal.
func (b *Builder) Build() []*domain.FocusSession {
	b.t.Helper()
	ctx := context.Background()

	out := make([]*domain.FocusSession, 0, len(b.sessions))
	for _, data := range b.sessions {
		s := activate(b.t, data)
		require.NoError(b.t, b.store.Create(ctx, s), "create %s", data.id)

		for app, n := range data.attempts {
			for range n {
				count, err := b.store.IncrementAttempt(ctx, data.id, app)
				require.NoError(b.t, err)
				s.SetAttemptCount(app, count)
			}
		}

		if finish(b.t, s, data) {
			require.NoError(b.t, b.store.Update(ctx, data.id, s.FinalPatch()), "finish %s", data.id)
		}
		out = append(out, s)
	}
	return out
}

func build(id string, opts []SessionOption) sessionData {
	data := defaultSession(id)
	for _, opt := range opts {
		opt(&data)
	}
	return data
}

func activate(t *testing.T, data sessionData) *domain.FocusSession {
	t.Helper()
	s := domain.NewFocusSession(data.id, data.start, data.minutes, data.apps, data.eligible)
	require.NoError(t, s.Activate(data.start))
	return s
}

// finish applies the terminal transition and reports whether one was applied.
func finish(t *testing.T, s *domain.FocusSession, data sessionData) bool {
	t.Helper()
	end := data.start.Add(data.endAfter)
	switch data.status {
	case domain.StatusCompleted:
		require.NoError(t, s.Complete(end))
	case domain.StatusAborted:
		require.NoError(t, s.Abort(end))
	default:
		return false
	}
	return true
}
