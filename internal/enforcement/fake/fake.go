package fake

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/deepfocus/internal/enforcement"
)

// Adapter is a scriptable enforcement.Adapter.
type Adapter struct {
	mu           sync.Mutex
	blocked      bool
	apps         []string
	blockCalls   int
	unblockCalls int
	blockErrs    []error
	unblockErrs  []error
	blockGate    chan struct{}
	subs         map[int]func(enforcement.Attempt)
	nextSub      int
}

// New creates an adapter with nothing blocked.
func New() *Adapter {
	return &Adapter{subs: make(map[int]func(enforcement.Attempt))}
}

var _ enforcement.Adapter = (*Adapter)(nil)

// FailBlock makes the next len(errs) Block calls return errs in order.
func (a *Adapter) FailBlock(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blockErrs = append(a.blockErrs, errs...)
}

// FailUnblock makes the next len(errs) Unblock calls return errs in order.
func (a *Adapter) FailUnblock(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unblockErrs = append(a.unblockErrs, errs...)
}

// HoldBlock makes Block wait until the returned release function is called
// or the call's context ends.
func (a *Adapter) HoldBlock() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.blockGate = gate
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.blockGate == gate {
				a.blockGate = nil
			}
			a.mu.Unlock()
			close(gate)
		})
	}
}

// Block records appIDs as blocked.
func (a *Adapter) Block(ctx context.Context, appIDs []string) error {
	a.mu.Lock()
	a.blockCalls++
	gate := a.blockGate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return enforcement.NewError("block", enforcement.KindTimeout, ctx.Err())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.blockErrs) > 0 {
		err := a.blockErrs[0]
		a.blockErrs = a.blockErrs[1:]
		return err
	}
	a.blocked = true
	a.apps = slices.Clone(appIDs)
	slices.Sort(a.apps)
	return nil
}

// Unblock clears the blocked set.
func (a *Adapter) Unblock(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unblockCalls++
	if len(a.unblockErrs) > 0 {
		err := a.unblockErrs[0]
		a.unblockErrs = a.unblockErrs[1:]
		return err
	}
	a.blocked = false
	a.apps = nil
	return nil
}

// SubscribeAttempts registers fn until ctx is done.
func (a *Adapter) SubscribeAttempts(ctx context.Context, fn func(enforcement.Attempt)) error {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}()
	return nil
}

// Emit reports an attempt on appID to every subscriber, synchronously.
// Attempts on apps that are not blocked are still reported, as an OS helper
// with a stale policy would.
func (a *Adapter) Emit(appID string, at time.Time) {
	a.mu.Lock()
	subs := make([]func(enforcement.Attempt), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(enforcement.Attempt{AppID: appID, Timestamp: at})
	}
}

// Blocked returns the blocked app set and whether blocking is engaged.
func (a *Adapter) Blocked() ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.apps), a.blocked
}

// BlockCalls returns how many times Block was called.
func (a *Adapter) BlockCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blockCalls
}

// UnblockCalls returns how many times Unblock was called.
func (a *Adapter) UnblockCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unblockCalls
}

// Subscribers returns the number of live attempt subscribers.
func (a *Adapter) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}
