// Package quota implements the free tier gate: unsubscribed identities may
// complete a fixed number of sessions.
package quota

import (
	"context"
	"fmt"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

// DefaultIdentity is the identity used when none is configured.
const DefaultIdentity = domain.DefaultQuotaIdentity

// Decision is the result of CanStart.
type Decision struct {
	Allowed bool

	// Subscribed is the subscription state captured at start. Sessions
	// started while unsubscribed count toward the quota on completion.
	Subscribed bool

	Usage domain.UsageQuota
}

// Gate decides whether a session may start and counts completions.
type Gate struct {
	store        domain.QuotaStore
	subscription SubscriptionStatus
	identity     string
	limit        int
}

// Option configures a Gate.
type Option func(*Gate)

// WithIdentity sets the identity counted against the quota.
func WithIdentity(identity string) Option {
	return func(g *Gate) {
		if identity != "" {
			g.identity = identity
		}
	}
}

// WithLimit sets the number of free sessions.
func WithLimit(limit int) Option {
	return func(g *Gate) {
		g.limit = limit
	}
}

// NewGate creates a Gate.
func NewGate(store domain.QuotaStore, subscription SubscriptionStatus, opts ...Option) *Gate {
	g := &Gate{
		store:        store,
		subscription: subscription,
		identity:     DefaultIdentity,
		limit:        domain.DefaultFreeSessions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Identity returns the counted identity.
func (g *Gate) Identity() string {
	return g.identity
}

// CanStart allows subscribed identities unconditionally and unsubscribed ones
// while their counted completions are below the limit. A failed subscription
// lookup with no last known answer is treated as unsubscribed.
func (g *Gate) CanStart(ctx context.Context) (Decision, error) {
	subscribed, err := g.subscription.IsSubscribed(ctx)
	if err != nil {
		log.Warn(log.CatQuota, "subscription lookup failed, treating as unsubscribed", "identity", g.identity, "error", err)
		subscribed = false
	}

	usage, err := g.Usage(ctx)
	if subscribed {
		// Usage is informational here; a read failure must not block.
		if err != nil {
			log.Warn(log.CatQuota, "quota unreadable for subscribed identity", "identity", g.identity, "error", err)
			usage = domain.UsageQuota{Identity: g.identity, Limit: g.limit}
		}
		return Decision{Allowed: true, Subscribed: true, Usage: usage}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	allowed := !usage.Exhausted()
	log.Debug(log.CatQuota, "free tier check", "identity", g.identity, "completed", usage.Completed, "limit", usage.Limit, "allowed", allowed)
	return Decision{Allowed: allowed, Usage: usage}, nil
}

// OnCompleted increments the counter when the session counted toward the
// quota. Aborted sessions and sessions started while subscribed are ignored.
func (g *Gate) OnCompleted(ctx context.Context, session *domain.FocusSession) error {
	if session.Status() != domain.StatusCompleted || !session.CountedTowardQuota() {
		return nil
	}
	count, err := g.store.IncrementCompleted(ctx, g.identity)
	if err != nil {
		return fmt.Errorf("%w: incrementing quota: %w", domain.ErrPersistence, err)
	}
	log.Info(log.CatQuota, "free session used", "identity", g.identity, "session", session.ID(), "completed", count, "limit", g.limit)
	return nil
}

// Usage returns the identity's current allowance.
func (g *Gate) Usage(ctx context.Context) (domain.UsageQuota, error) {
	count, err := g.store.CompletedCount(ctx, g.identity)
	if err != nil {
		return domain.UsageQuota{}, fmt.Errorf("%w: reading quota: %w", domain.ErrPersistence, err)
	}
	return domain.UsageQuota{Identity: g.identity, Completed: count, Limit: g.limit}, nil
}
