package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/enforcement/fake"
	"github.com/zjrosen/deepfocus/internal/flags"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/infrastructure/memory"
	"github.com/zjrosen/deepfocus/internal/quota"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	store := memory.NewStore()
	gate := quota.NewGate(store, quota.StaticSubscription(false))

	_, err := New(Deps{Gate: gate, Adapter: fake.New()})
	require.Error(t, err)
	_, err = New(Deps{Store: store, Adapter: fake.New()})
	require.Error(t, err)
	_, err = New(Deps{Store: store, Gate: gate})
	require.Error(t, err)
}

func TestEngine_NotOpen(t *testing.T) {
	store := memory.NewStore()
	eng, err := New(Deps{Store: store, Gate: quota.NewGate(store, quota.StaticSubscription(false)), Adapter: fake.New()})
	require.NoError(t, err)

	_, err = eng.Status(context.Background())
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestEngine_Scenario(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	handle, err := h.engine.Start(ctx, 30, []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, handle.BlockedAppIDs)
	require.Equal(t, t0, handle.StartTime)

	apps, blocked := h.adapter.Blocked()
	require.True(t, blocked)
	require.Equal(t, []string{"A", "B"}, apps)

	h.clock.Advance(5 * time.Minute)
	h.adapter.Emit("A", h.clock.Now())

	st := h.status(t)
	require.Equal(t, StateActive, st.State)
	require.Equal(t, map[string]int{"A": 1}, st.Attempts)
	require.NotNil(t, st.RemainingSeconds)
	require.Equal(t, int64(25*60), *st.RemainingSeconds)

	payloads := h.sink.all()
	require.Len(t, payloads, 1)
	require.Equal(t, "1st", payloads[0].Ordinal)
	require.NotNil(t, payloads[0].Remaining)
	require.Equal(t, 25*time.Minute, *payloads[0].Remaining)

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.engine.Stop(ctx))

	st = h.status(t)
	require.Equal(t, StateCompleted, st.State)
	require.Nil(t, st.RemainingSeconds)
	require.Equal(t, map[string]int{"A": 1}, st.Attempts)

	stored, err := h.store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, stored.Status())
	require.Equal(t, t0.Add(10*time.Minute), *stored.EndTime())
	require.True(t, stored.CountedTowardQuota())

	count, err := h.store.CompletedCount(ctx, quota.DefaultIdentity)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, blocked = h.adapter.Blocked()
	require.False(t, blocked)
}

func TestEngine_StartValidation(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, 10, nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.engine.Start(ctx, 10, []string{"  ", ""})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "app_ids", verr.Field)

	_, err = h.engine.Start(ctx, 1<<40, []string{"A"})
	require.ErrorIs(t, err, domain.ErrValidation)

	require.Equal(t, StateIdle, h.status(t).State)
	require.Equal(t, 0, h.adapter.BlockCalls())
}

func TestEngine_SecondStartRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	first, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)

	_, err = h.engine.Start(ctx, 10, []string{"B"})
	require.ErrorIs(t, err, domain.ErrSessionActive)

	st := h.status(t)
	require.Equal(t, first.ID, st.SessionID)
	require.Equal(t, []string{"A"}, st.BlockedAppIDs)
	require.Equal(t, 1, h.adapter.BlockCalls())
}

func TestEngine_StartRejectedWhenAnotherProcessOwnsPointer(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	seedActive(h.store, "other-process", t0, 30, "A")

	_, err := h.engine.Start(context.Background(), 10, []string{"B"})
	require.ErrorIs(t, err, domain.ErrSessionActive)
	require.Equal(t, StateIdle, h.status(t).State)
}

func TestEngine_StartAfterCompletion(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.Stop(ctx))
	require.Equal(t, StateCompleted, h.status(t).State)

	second, err := h.engine.Start(ctx, 15, []string{"B"})
	require.NoError(t, err)
	st := h.status(t)
	require.Equal(t, StateActive, st.State)
	require.Equal(t, second.ID, st.SessionID)
	require.Empty(t, st.Attempts)
}

func TestEngine_QuotaExceeded(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	for i := 0; i < domain.DefaultFreeSessions; i++ {
		_, err := h.engine.Start(ctx, 30, []string{"A"})
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
		require.NoError(t, h.engine.Stop(ctx))
	}

	_, err := h.engine.Start(ctx, 30, []string{"A"})
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	require.Equal(t, StateCompleted, h.status(t).State)

	usage, err := h.engine.Usage(ctx)
	require.NoError(t, err)
	require.True(t, usage.Exhausted())
}

func TestEngine_SubscribedNeverBlockedByQuota(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.IncrementCompleted(ctx, quota.DefaultIdentity)
		require.NoError(t, err)
	}

	h := newHarness(t, harnessConfig{store: store, subscribed: true})

	handle, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.Stop(ctx))

	stored, err := store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.False(t, stored.CountedTowardQuota())

	count, err := store.CompletedCount(ctx, quota.DefaultIdentity)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestEngine_BlockFailureAfterRetries(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	timeout := enforcement.NewError("block", enforcement.KindTimeout, errors.New("helper slow"))
	h.adapter.FailBlock(timeout, timeout, timeout, timeout)

	_, err := h.engine.Start(context.Background(), 30, []string{"A"})
	require.ErrorIs(t, err, domain.ErrEnforcementUnavailable)
	require.ErrorIs(t, err, domain.ErrEnforcementTimeout)
	require.Equal(t, 4, h.adapter.BlockCalls())

	require.Equal(t, StateIdle, h.status(t).State)
	sessions, err := h.engine.History(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestEngine_PermissionDeniedNotRetried(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.adapter.FailBlock(enforcement.NewError("block", enforcement.KindPermissionDenied, errors.New("no entitlement")))

	_, err := h.engine.Start(context.Background(), 30, []string{"A"})
	require.ErrorIs(t, err, domain.ErrEnforcementUnavailable)
	require.ErrorIs(t, err, enforcement.ErrPermissionDenied)
	require.Equal(t, 1, h.adapter.BlockCalls())
}

func TestEngine_BlockRecoversWithinRetries(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.adapter.FailBlock(errors.New("transient"), errors.New("transient"))

	_, err := h.engine.Start(context.Background(), 30, []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 3, h.adapter.BlockCalls())
	require.Equal(t, StateActive, h.status(t).State)
}

func TestEngine_PersistFailureUnblocks(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.store.FailNext(memory.OpCreate, errors.New("disk full"))

	_, err := h.engine.Start(context.Background(), 30, []string{"A"})
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, blocked := h.adapter.Blocked()
	require.False(t, blocked)
	require.Equal(t, StateIdle, h.status(t).State)
}

func TestEngine_StopFailsOpen(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	handle, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)

	boom := errors.New("helper gone")
	h.adapter.FailUnblock(boom, boom, boom, boom)
	require.NoError(t, h.engine.Stop(ctx))
	require.Equal(t, 4, h.adapter.UnblockCalls())

	require.Equal(t, StateCompleted, h.status(t).State)
	stored, err := h.store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, stored.Status())
}

func TestEngine_StopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.NoError(t, h.engine.Stop(context.Background()))
	require.Equal(t, StateIdle, h.status(t).State)
	require.Equal(t, 0, h.adapter.UnblockCalls())
}

func TestEngine_StopDuringStartingCancels(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	release := h.adapter.HoldBlock()
	defer release()

	result := make(chan error, 1)
	go func() {
		_, err := h.engine.Start(ctx, 30, []string{"A"})
		result <- err
	}()

	require.Eventually(t, func() bool {
		return h.status(t).State == StateStarting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Stop(ctx))
	require.ErrorIs(t, <-result, ErrStartCancelled)
	require.GreaterOrEqual(t, h.adapter.UnblockCalls(), 1)

	require.Equal(t, StateIdle, h.status(t).State)
	require.Equal(t, 0, nonTerminal(t, h.store))

	// A new session can start once the cancelled block has drained.
	release()
	_, err := h.engine.Start(ctx, 30, []string{"B"})
	require.NoError(t, err)
}

func TestEngine_LateBlockAfterStopIsReleased(t *testing.T) {
	adapter := &slowAdapter{delay: 150 * time.Millisecond}
	store := memory.NewStore()
	eng := openEngine(t, store, adapter, newFakeClock(t0), fastPolicy())
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		_, err := eng.Start(ctx, 30, []string{"A"})
		result <- err
	}()
	require.Eventually(t, func() bool {
		_, started, _ := adapter.snapshot()
		return started == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, eng.Stop(ctx))
	require.ErrorIs(t, <-result, ErrStartCancelled)

	require.Eventually(t, func() bool {
		blocked, _, done := adapter.snapshot()
		return done == 1 && !blocked
	}, 2*time.Second, 5*time.Millisecond)

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateIdle, st.State)
	require.Equal(t, 0, nonTerminal(t, store))
}

func TestEngine_LateBlockAfterTimeoutIsReleased(t *testing.T) {
	adapter := &slowAdapter{delay: 80 * time.Millisecond}
	store := memory.NewStore()
	policy := enforcement.Policy{
		Schedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Timeout:  20 * time.Millisecond,
	}
	eng := openEngine(t, store, adapter, newFakeClock(t0), policy)
	ctx := context.Background()

	_, err := eng.Start(ctx, 30, []string{"A"})
	require.ErrorIs(t, err, domain.ErrEnforcementUnavailable)
	require.ErrorIs(t, err, domain.ErrEnforcementTimeout)

	require.Eventually(t, func() bool {
		blocked, started, done := adapter.snapshot()
		return started == 4 && done == 4 && !blocked
	}, 2*time.Second, 5*time.Millisecond)

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateIdle, st.State)
	require.Equal(t, 0, nonTerminal(t, store))
}

func TestEngine_CloseReleasesBlockStillEngaging(t *testing.T) {
	adapter := &slowAdapter{delay: 100 * time.Millisecond}
	store := memory.NewStore()
	eng, err := New(Deps{
		Store:   store,
		Gate:    quota.NewGate(store, quota.StaticSubscription(false)),
		Adapter: adapter,
		Clock:   newFakeClock(t0),
	}, WithPolicy(fastPolicy()))
	require.NoError(t, err)
	_, err = eng.Open(context.Background())
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := eng.Start(context.Background(), 30, []string{"A"})
		result <- err
	}()
	require.Eventually(t, func() bool {
		_, started, _ := adapter.snapshot()
		return started == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, eng.Close())
	require.ErrorIs(t, <-result, ErrClosed)

	blocked, _, done := adapter.snapshot()
	require.Equal(t, 1, done)
	require.False(t, blocked)
}

func TestEngine_StartContextEndsWhileStarting(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	release := h.adapter.HoldBlock()
	defer release()
	time.AfterFunc(100*time.Millisecond, release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.engine.Start(ctx, 30, []string{"A"})
	require.ErrorIs(t, err, ErrStartCancelled)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The withdrawn start never goes live, even once the helper responds.
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateIdle, h.status(t).State)
	require.Equal(t, 0, nonTerminal(t, h.store))
	_, blocked := h.adapter.Blocked()
	require.False(t, blocked)
}

func TestEngine_EndTimeIsStopInstant(t *testing.T) {
	clock := newFakeClock(t0)
	adapter := &clockedAdapter{Adapter: fake.New(), clock: clock, step: 10 * time.Second}
	store := memory.NewStore()
	eng := openEngine(t, store, adapter, clock, fastPolicy())
	ctx := context.Background()

	handle, err := eng.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	stopAt := clock.Now()
	boom := errors.New("helper gone")
	adapter.FailUnblock(boom, boom, boom, boom)
	require.NoError(t, eng.Stop(ctx))
	require.True(t, clock.Now().After(stopAt), "unblock retries moved the clock")

	stored, err := store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, stored.Status())
	require.Equal(t, stopAt, *stored.EndTime())
}

func TestEngine_SessionChargedToGateIdentity(t *testing.T) {
	store := memory.NewStore()
	eng, err := New(Deps{
		Store:   store,
		Gate:    quota.NewGate(store, quota.StaticSubscription(false), quota.WithIdentity("alice")),
		Adapter: fake.New(),
		Clock:   newFakeClock(t0),
	}, WithPolicy(fastPolicy()))
	require.NoError(t, err)
	_, err = eng.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	ctx := context.Background()
	handle, err := eng.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, eng.Stop(ctx))

	stored, err := store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", stored.QuotaIdentity())

	usage, err := eng.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, usage.Completed)
}

func TestEngine_AutoExpiry(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	handle, err := h.engine.Start(ctx, 1, []string{"A"})
	require.NoError(t, err)

	h.clock.Advance(59 * time.Second)
	require.NoError(t, h.engine.Tick(ctx))
	st := h.status(t)
	require.Equal(t, StateActive, st.State)
	require.Equal(t, int64(1), *st.RemainingSeconds)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.engine.Tick(ctx))
	require.Equal(t, StateCompleted, h.status(t).State)

	stored, err := h.store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, t0.Add(61*time.Second), *stored.EndTime())

	_, blocked := h.adapter.Blocked()
	require.False(t, blocked)
}

func TestEngine_ResumeChecksExpiry(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, 20, []string{"A"})
	require.NoError(t, err)

	h.clock.Advance(3 * time.Hour)
	require.NoError(t, h.engine.Resume(ctx))
	require.Equal(t, StateCompleted, h.status(t).State)
}

func TestEngine_IndefiniteNeverExpires(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, 0, []string{"A"})
	require.NoError(t, err)

	h.clock.Advance(100 * time.Hour)
	require.NoError(t, h.engine.Tick(ctx))

	st := h.status(t)
	require.Equal(t, StateActive, st.State)
	require.Nil(t, st.RemainingSeconds)
}

func TestEngine_AttemptsCountedPerApp(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	handle, err := h.engine.Start(ctx, 30, []string{"A", "B"})
	require.NoError(t, err)

	h.adapter.Emit("A", h.clock.Now())
	h.adapter.Emit("A", h.clock.Now())
	h.adapter.Emit("B", h.clock.Now())
	h.adapter.Emit("Z", h.clock.Now())

	st := h.status(t)
	require.Equal(t, map[string]int{"A": 2, "B": 1}, st.Attempts)

	var ordinals []string
	for _, p := range h.sink.all() {
		ordinals = append(ordinals, p.AppID+":"+p.Ordinal)
	}
	require.Equal(t, []string{"A:1st", "A:2nd", "B:1st"}, ordinals)

	stored, err := h.store.Get(ctx, handle.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"A": 2, "B": 1}, stored.Attempts())
}

func TestEngine_AttemptsIgnoredWhenIdle(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.adapter.Emit("A", h.clock.Now())
	require.Empty(t, h.status(t).Attempts)
	require.Empty(t, h.sink.all())
}

func TestEngine_Subscribe(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var states []State
	var attempts []string
	h.engine.Subscribe(ctx,
		func(c StateChange) {
			mu.Lock()
			states = append(states, c.To)
			mu.Unlock()
		},
		func(p AttemptPayload) {
			mu.Lock()
			attempts = append(attempts, p.Message())
			mu.Unlock()
		},
	)

	_, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)
	h.adapter.Emit("A", h.clock.Now())
	require.NoError(t, h.engine.Stop(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4 && len(attempts) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateStarting, StateActive, StateCompleting, StateCompleted}, states)
	require.Equal(t, "A: 1st attempt, 30m remaining", attempts[0])
}

func TestEngine_AdoptsExternalCompletion(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	handle, err := h.engine.Start(ctx, 30, []string{"A"})
	require.NoError(t, err)

	// Another invocation stops the session.
	other := domain.ReconstituteFocusSession(handle.ID, handle.StartTime, nil, 30, []string{"A"},
		domain.StatusActive, nil, true, false, t0, t0)
	require.NoError(t, other.Complete(t0.Add(time.Minute)))
	require.NoError(t, h.store.Update(ctx, handle.ID, other.FinalPatch()))

	require.NoError(t, h.engine.Tick(ctx))
	st := h.status(t)
	require.Equal(t, StateCompleted, st.State)
	require.Equal(t, t0.Add(time.Minute), *st.EndTime)
}

func TestEngine_StopAndTickRace(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, 1, []string{"A"})
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	for _, op := range []func(context.Context) error{h.engine.Stop, h.engine.Tick} {
		wg.Add(1)
		go func(op func(context.Context) error) {
			defer wg.Done()
			require.NoError(t, op(ctx))
		}(op)
	}
	wg.Wait()

	require.Equal(t, StateCompleted, h.status(t).State)
	require.Equal(t, 1, h.adapter.UnblockCalls())
	count, err := h.store.CompletedCount(ctx, quota.DefaultIdentity)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestEngine_ClosedRejectsCalls(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.NoError(t, h.engine.Close())
	require.NoError(t, h.engine.Close())

	_, err := h.engine.Start(context.Background(), 10, []string{"A"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestEngine_RunTicksUntilCancelled(t *testing.T) {
	clock := newFakeClock(t0)
	store := memory.NewStore()
	adapter := fake.New()
	eng, err := New(Deps{
		Store:   store,
		Gate:    quota.NewGate(store, quota.StaticSubscription(false)),
		Adapter: adapter,
		Clock:   clock,
	}, WithPolicy(fastPolicy()), WithTickInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = eng.Open(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	handle, err := eng.Start(ctx, 1, []string{"A"})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		s, err := store.Get(context.Background(), handle.ID)
		return err == nil && s.Status() == domain.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func finishedAt(id string, end time.Time) *domain.FocusSession {
	s := domain.NewFocusSession(id, end.Add(-25*time.Minute), 25, []string{"A"}, true)
	_ = s.Activate(end.Add(-25 * time.Minute))
	_ = s.Complete(end)
	return s
}

func TestEngine_OpenPrunesOldHistory(t *testing.T) {
	tests := []struct {
		name     string
		flags    map[string]bool
		wantKept []string
	}{
		{name: "enabled", wantKept: []string{"recent"}},
		{name: "disabled by flag", flags: map[string]bool{flags.FlagPruneOnStart: false}, wantKept: []string{"old", "recent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			store.Put(finishedAt("old", t0.Add(-40*24*time.Hour)))
			store.Put(finishedAt("recent", t0.Add(-24*time.Hour)))

			eng, err := New(Deps{
				Store:   store,
				Gate:    quota.NewGate(store, quota.StaticSubscription(false)),
				Adapter: fake.New(),
				Clock:   newFakeClock(t0),
				Flags:   flags.New(tt.flags),
			}, WithPolicy(fastPolicy()), WithRetention(30*24*time.Hour))
			require.NoError(t, err)
			_, err = eng.Open(ctx)
			require.NoError(t, err)
			t.Cleanup(func() { _ = eng.Close() })

			sessions, err := store.ListHistory(ctx, domain.HistoryFilter{})
			require.NoError(t, err)
			var kept []string
			for _, s := range sessions {
				kept = append(kept, s.ID())
			}
			require.ElementsMatch(t, tt.wantKept, kept)
		})
	}
}
