package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/enforcement/fake"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/infrastructure/memory"
	"github.com/zjrosen/deepfocus/internal/quota"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastPolicy keeps the retry shape but shrinks the waits.
func fastPolicy() enforcement.Policy {
	return enforcement.Policy{
		Schedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Timeout:  500 * time.Millisecond,
	}
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []AttemptPayload
}

func (s *recordingSink) OnAttempt(p AttemptPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
}

func (s *recordingSink) all() []AttemptPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AttemptPayload(nil), s.payloads...)
}

type harness struct {
	clock   *fakeClock
	store   *memory.Store
	adapter *fake.Adapter
	sink    *recordingSink
	engine  *Engine
	report  RecoveryReport
}

type harnessConfig struct {
	subscribed bool
	store      *memory.Store
	adapter    *fake.Adapter
	clock      *fakeClock
}

func build(cfg harnessConfig) (*harness, error) {
	h := &harness{
		clock:   cfg.clock,
		store:   cfg.store,
		adapter: cfg.adapter,
		sink:    &recordingSink{},
	}
	if h.clock == nil {
		h.clock = newFakeClock(t0)
	}
	if h.store == nil {
		h.store = memory.NewStore()
	}
	if h.adapter == nil {
		h.adapter = fake.New()
	}

	eng, err := New(Deps{
		Store:   h.store,
		Gate:    quota.NewGate(h.store, quota.StaticSubscription(cfg.subscribed)),
		Adapter: h.adapter,
		Clock:   h.clock,
		Sink:    h.sink,
	}, WithPolicy(fastPolicy()))
	if err != nil {
		return nil, err
	}
	h.engine = eng

	h.report, err = eng.Open(context.Background())
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return h, nil
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	h, err := build(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) status(t require.TestingT) Status {
	st, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	return st
}

// seedActive persists an Active session as if a previous process crashed.
func seedActive(store *memory.Store, id string, start time.Time, minutes int, apps ...string) *domain.FocusSession {
	s := domain.NewFocusSession(id, start, minutes, apps, true)
	_ = s.Activate(start)
	store.Put(s)
	return s
}

func nonTerminal(t require.TestingT, store *memory.Store) int {
	sessions, err := store.ListHistory(context.Background(), domain.HistoryFilter{})
	require.NoError(t, err)
	n := 0
	for _, s := range sessions {
		if !s.Status().IsTerminal() {
			n++
		}
	}
	return n
}

func openEngine(t *testing.T, store *memory.Store, adapter enforcement.Adapter, clock *fakeClock, policy enforcement.Policy) *Engine {
	t.Helper()
	eng, err := New(Deps{
		Store:   store,
		Gate:    quota.NewGate(store, quota.StaticSubscription(false)),
		Adapter: adapter,
		Clock:   clock,
	}, WithPolicy(policy))
	require.NoError(t, err)
	_, err = eng.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// slowAdapter engages blocking only after delay and ignores cancellation,
// like a helper process that cannot be interrupted mid-call.
type slowAdapter struct {
	delay time.Duration

	mu          sync.Mutex
	blocked     bool
	blockCalls  int
	blocksDone  int
	unblockDone int
}

func (a *slowAdapter) Block(context.Context, []string) error {
	a.mu.Lock()
	a.blockCalls++
	a.mu.Unlock()

	time.Sleep(a.delay)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = true
	a.blocksDone++
	return nil
}

func (a *slowAdapter) Unblock(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = false
	a.unblockDone++
	return nil
}

func (a *slowAdapter) SubscribeAttempts(context.Context, func(enforcement.Attempt)) error {
	return nil
}

func (a *slowAdapter) snapshot() (blocked bool, started, done int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocked, a.blockCalls, a.blocksDone
}

// clockedAdapter advances the clock on every unblock call, as slow retries do.
type clockedAdapter struct {
	*fake.Adapter
	clock *fakeClock
	step  time.Duration
}

func (a *clockedAdapter) Unblock(ctx context.Context) error {
	a.clock.Advance(a.step)
	return a.Adapter.Unblock(ctx)
}
