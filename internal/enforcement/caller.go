package enforcement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

// Default policy values.
const (
	DefaultTimeout = 5 * time.Second
)

// DefaultSchedule is the wait before each retry. One initial try plus one
// retry per entry.
var DefaultSchedule = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1000 * time.Millisecond}

// Policy bounds every adapter call.
type Policy struct {
	// Schedule is the wait before each retry.
	Schedule []time.Duration

	// Timeout bounds a single adapter call.
	Timeout time.Duration
}

// DefaultPolicy returns the 250/500/1000ms schedule with a 5s per-call timeout.
func DefaultPolicy() Policy {
	return Policy{Schedule: slices.Clone(DefaultSchedule), Timeout: DefaultTimeout}
}

// MaxTries is the total number of calls, initial plus retries.
func (p Policy) MaxTries() uint {
	return uint(len(p.Schedule)) + 1
}

// scheduleBackOff walks a fixed list of waits, then stops.
type scheduleBackOff struct {
	schedule []time.Duration
	next     int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.schedule) {
		return backoff.Stop
	}
	d := b.schedule[b.next]
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// FailureObserver is notified of every failed adapter call.
type FailureObserver func(op string, kind Kind)

// Caller wraps an Adapter with the retry schedule and per-call timeout.
type Caller struct {
	adapter   Adapter
	policy    Policy
	onFailure FailureObserver

	// Tracks adapter calls still running, including abandoned ones.
	inflight sync.WaitGroup
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithFailureObserver registers fn for every failed call.
func WithFailureObserver(fn FailureObserver) CallerOption {
	return func(c *Caller) {
		c.onFailure = fn
	}
}

// NewCaller creates a Caller for adapter.
func NewCaller(adapter Adapter, policy Policy, opts ...CallerOption) *Caller {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	c := &Caller{adapter: adapter, policy: policy}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption configures a single Block call.
type CallOption func(*callOptions)

type callOptions struct {
	onLateSuccess func()
}

// OnLateSuccess registers fn to run when an adapter call that was already
// given up on (timeout or cancellation) returns success afterwards. fn runs
// once per such call, on the adapter call's goroutine.
func OnLateSuccess(fn func()) CallOption {
	return func(o *callOptions) {
		o.onLateSuccess = fn
	}
}

// Wait blocks until every adapter call started by c has returned and its
// late-success callback, if any, has finished.
func (c *Caller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adapter returns the wrapped adapter.
func (c *Caller) Adapter() Adapter {
	return c.adapter
}

// Block engages blocking with retries. On exhaustion the error matches
// domain.ErrEnforcementUnavailable and wraps the last failure.
func (c *Caller) Block(ctx context.Context, appIDs []string, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	apps := slices.Clone(appIDs)
	return c.retry(ctx, "block", func(callCtx context.Context) error {
		return c.adapter.Block(callCtx, apps)
	}, o.onLateSuccess)
}

// Unblock releases blocking with retries.
func (c *Caller) Unblock(ctx context.Context) error {
	return c.retry(ctx, "unblock", c.adapter.Unblock, nil)
}

// UnblockOnce makes a single bounded unblock call with no retries.
func (c *Caller) UnblockOnce(ctx context.Context) error {
	return c.call(ctx, "unblock", c.adapter.Unblock, nil)
}

func (c *Caller) retry(ctx context.Context, op string, fn func(context.Context) error, late func()) error {
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := c.call(ctx, op, fn, late)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil || !KindOf(err).Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&scheduleBackOff{schedule: c.policy.Schedule}),
		backoff.WithMaxTries(c.policy.MaxTries()),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn(log.CatEnforce, "enforcement call failed, retrying", "op", op, "attempt", tries, "wait", wait, "error", err)
		}),
	)
	if err == nil {
		if tries > 1 {
			log.Info(log.CatEnforce, "enforcement call succeeded after retry", "op", op, "attempts", tries)
		}
		return nil
	}
	log.Error(log.CatEnforce, "enforcement call failed", "op", op, "attempts", tries, "error", err)
	return fmt.Errorf("%w: %w", domain.ErrEnforcementUnavailable, err)
}

// call runs fn with the per-call timeout. The result is awaited on a
// separate goroutine so an adapter that ignores ctx cannot hold the caller
// past the deadline. If such a call later succeeds, late is invoked so the
// owner can undo it.
func (c *Caller) call(ctx context.Context, op string, fn func(context.Context) error, late func()) error {
	callCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		finished  bool
		abandoned bool
	)
	result := make(chan error, 1)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		err := fn(callCtx)

		mu.Lock()
		finished = true
		lateSuccess := abandoned && err == nil
		mu.Unlock()

		result <- err
		if lateSuccess {
			log.Warn(log.CatEnforce, "abandoned enforcement call succeeded", "op", op)
			if late != nil {
				late()
			}
		}
	}()

	var err error
	select {
	case err = <-result:
	case <-callCtx.Done():
		mu.Lock()
		settled := finished
		abandoned = !finished
		mu.Unlock()
		if settled {
			err = <-result
		} else {
			err = callCtx.Err()
		}
	}
	if err == nil {
		return nil
	}

	var typed *Error
	switch {
	case errors.As(err, &typed):
	case errors.Is(err, context.DeadlineExceeded):
		typed = NewError(op, KindTimeout, err)
	default:
		typed = NewError(op, KindUnknown, err)
	}
	if c.onFailure != nil {
		c.onFailure(op, typed.Kind)
	}
	return typed
}
