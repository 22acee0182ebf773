// Package attempts counts bypass attempts per (session, app) and builds the
// payload for attempt overlay notifications.
package attempts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

// Payload describes one counted attempt.
type Payload struct {
	SessionID string
	AppID     string
	Count     int
	Ordinal   string
	At        time.Time

	// Remaining is nil for indefinite sessions.
	Remaining *time.Duration
}

// Message renders the overlay text, e.g. "com.example.video: 2nd attempt, 24m remaining".
func (p Payload) Message() string {
	if p.Remaining == nil {
		return fmt.Sprintf("%s: %s attempt, until you stop", p.AppID, p.Ordinal)
	}
	return fmt.Sprintf("%s: %s attempt, %s remaining", p.AppID, p.Ordinal, formatRemaining(*p.Remaining))
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// Ordinal returns the English ordinal for n: 1st, 2nd, 3rd, 4th, 11th, 21st.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// Tracker increments attempt counts on the live session and, when persist is
// on, in the store so counts survive a restart.
type Tracker struct {
	store   domain.SessionStore
	persist bool
}

// NewTracker creates a Tracker.
func NewTracker(store domain.SessionStore, persist bool) *Tracker {
	return &Tracker{store: store, persist: persist}
}

// Increment counts one attempt on appID. Every call counts; nothing is
// debounced. Attempts on apps the session does not block return
// domain.ErrAppNotBlocked and change nothing.
func (t *Tracker) Increment(ctx context.Context, session *domain.FocusSession, appID string, now time.Time) (Payload, error) {
	count, err := session.RecordAttempt(appID, now)
	if err != nil {
		return Payload{}, err
	}

	if t.persist {
		stored, err := t.store.IncrementAttempt(ctx, session.ID(), appID)
		switch {
		case err != nil:
			log.Warn(log.CatAttempt, "attempt not persisted", "session", session.ID(), "app", appID, "error", err)
		case stored != count:
			// The store is authoritative when another process also counted.
			session.SetAttemptCount(appID, stored)
			count = stored
		}
	}

	p := Payload{
		SessionID: session.ID(),
		AppID:     appID,
		Count:     count,
		Ordinal:   Ordinal(count),
		At:        now,
	}
	if remaining, timed := session.Remaining(now); timed {
		p.Remaining = &remaining
	}
	log.Info(log.CatAttempt, "attempt counted", "session", session.ID(), "app", appID, "count", count)
	return p, nil
}
