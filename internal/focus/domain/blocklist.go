package domain

import (
	"slices"
	"strings"
	"time"
)

// BlockList is the user-configured set of app ids. It is read once at
// session start; later edits never alter a running session's blocked set.
type BlockList struct {
	apps []string
}

// NewBlockList trims, drops empty entries, deduplicates and sorts ids.
func NewBlockList(ids ...string) BlockList {
	apps := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		apps = append(apps, id)
	}
	slices.Sort(apps)
	return BlockList{apps: slices.Compact(apps)}
}

// Apps returns a sorted copy of the app ids.
func (b BlockList) Apps() []string { return slices.Clone(b.apps) }

// Len returns the number of apps.
func (b BlockList) Len() int { return len(b.apps) }

// Contains reports whether id is in the list.
func (b BlockList) Contains(id string) bool {
	_, found := slices.BinarySearch(b.apps, id)
	return found
}

// Add returns a new list with ids added.
func (b BlockList) Add(ids ...string) BlockList {
	return NewBlockList(append(b.Apps(), ids...)...)
}

// Remove returns a new list without ids.
func (b BlockList) Remove(ids ...string) BlockList {
	apps := slices.DeleteFunc(b.Apps(), func(app string) bool {
		return slices.Contains(ids, app)
	})
	return BlockList{apps: apps}
}

// AttemptEvent is one OS-reported open of a blocked app.
type AttemptEvent struct {
	SessionID string
	AppID     string
	Timestamp time.Time
}

// DefaultFreeSessions is the number of completed sessions an unsubscribed
// identity may use.
const DefaultFreeSessions = 3

// DefaultQuotaIdentity is the identity sessions count against when none is
// configured.
const DefaultQuotaIdentity = "local"

// UsageQuota is the derived free tier allowance for one identity.
type UsageQuota struct {
	Identity  string
	Completed int
	Limit     int
}

// Remaining returns how many free sessions are left, floored at zero.
func (q UsageQuota) Remaining() int {
	if q.Completed >= q.Limit {
		return 0
	}
	return q.Limit - q.Completed
}

// Exhausted reports whether no free sessions are left.
func (q UsageQuota) Exhausted() bool {
	return q.Completed >= q.Limit
}
