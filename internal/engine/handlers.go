package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/deepfocus/internal/actor"
	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/pubsub"
	"github.com/zjrosen/deepfocus/internal/tracing"
)

func (e *Engine) setState(to State, reason string, err error) {
	from := e.state
	e.state = to
	change := StateChange{From: from, To: to, Reason: reason, At: e.clock.Now(), Err: err}
	if e.session != nil {
		change.SessionID = e.session.ID()
	}
	log.Info(log.CatEngine, "state changed", "from", from, "to", to, "reason", reason, "session", change.SessionID)
	e.stateBroker.Publish(pubsub.StateChangedEvent, change)
}

func (e *Engine) warn(reason string, err error) {
	change := StateChange{From: e.state, To: e.state, Reason: reason, At: e.clock.Now(), Err: err}
	if e.session != nil {
		change.SessionID = e.session.ID()
	}
	log.Warn(log.CatEngine, "recovered from inconsistent state", "reason", reason, "error", err)
	e.stateBroker.Publish(pubsub.WarningEvent, change)
}

func (e *Engine) block(ctx context.Context, sessionID string, apps []string) error {
	ctx, end := tracing.StartEnforcementSpan(ctx, e.tracer, "block", sessionID)
	err := e.caller.Block(ctx, apps, enforcement.OnLateSuccess(func() {
		e.lateBlock(sessionID)
	}))
	end(err)
	return err
}

// unblock releases enforcement with retries. Failures are logged and
// swallowed: the session ends regardless.
func (e *Engine) unblock(ctx context.Context, sessionID string) {
	ctx, end := tracing.StartEnforcementSpan(ctx, e.tracer, "unblock", sessionID)
	err := e.caller.Unblock(ctx)
	end(err)
	if err != nil {
		log.ErrorErr(log.CatEnforce, "unblock failed, session ends anyway", err, "session", sessionID)
	}
}

// unblockOnce is a single best-effort unblock, used to clean up after
// cancelled or failed starts.
func (e *Engine) unblockOnce(ctx context.Context, sessionID string) {
	ctx, end := tracing.StartEnforcementSpan(ctx, e.tracer, "unblock", sessionID)
	err := e.caller.UnblockOnce(ctx)
	end(err)
	if err != nil {
		log.Warn(log.CatEnforce, "best-effort unblock failed", "session", sessionID, "error", err)
	}
}

func validateStart(minutes uint, appIDs []string) (int, domain.BlockList, error) {
	if minutes > math.MaxInt32 {
		return 0, domain.BlockList{}, &domain.ValidationError{Field: "duration", Reason: "too large"}
	}
	apps := domain.NewBlockList(appIDs...)
	if apps.Len() == 0 {
		return 0, domain.BlockList{}, &domain.ValidationError{Field: "app_ids", Reason: "at least one app is required"}
	}
	return int(minutes), apps, nil
}

func (e *Engine) handleStart(ctx context.Context, c actor.Command) (*actor.Result, error) {
	cmd := c.(*startCommand)

	minutes, apps, err := validateStart(cmd.minutes, cmd.appIDs)
	if err != nil {
		e.metrics.RecordRejected("validation")
		return actor.Fail(err), nil
	}

	if e.state.Busy() {
		e.metrics.RecordRejected("active")
		return actor.Fail(fmt.Errorf("%w: state is %s", domain.ErrSessionActive, e.state)), nil
	}

	// Another process may own the active pointer.
	existing, err := e.store.LoadActive(ctx)
	var corrupt *domain.CorruptRecordError
	switch {
	case errors.As(err, &corrupt):
		if clearErr := e.store.ClearActive(ctx); clearErr != nil {
			return actor.Fail(fmt.Errorf("%w: %w", domain.ErrPersistence, clearErr)), nil
		}
		e.warn(ReasonRecovered, fmt.Errorf("%w: %w", domain.ErrInconsistentStateRecovered, err))
	case err != nil:
		return actor.Fail(fmt.Errorf("%w: %w", domain.ErrPersistence, err)), nil
	case existing != nil:
		e.metrics.RecordRejected("active")
		return actor.Fail(fmt.Errorf("%w: session %s", domain.ErrSessionActive, existing.ID())), nil
	}

	decision, err := e.gate.CanStart(ctx)
	if err != nil {
		return actor.Fail(err), nil
	}
	if !decision.Allowed {
		e.metrics.RecordRejected("quota")
		return actor.Fail(fmt.Errorf("%w: %d of %d free sessions used",
			domain.ErrQuotaExceeded, decision.Usage.Completed, decision.Usage.Limit)), nil
	}

	now := e.clock.Now()
	session := domain.NewFocusSession(uuid.NewString(), now, minutes, apps.Apps(), !decision.Subscribed)
	session.SetQuotaIdentity(e.gate.Identity())

	blockCtx, cancel := context.WithCancel(ctx)
	p := &pendingStart{session: session, cancel: cancel, outcome: make(chan startOutcome, 1)}
	e.pending = p
	e.session = session
	e.setState(StateStarting, ReasonStart, nil)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		blockErr := e.block(blockCtx, session.ID(), session.BlockedAppIDs())
		cancel()
		if blockErr == nil && !e.trackEngaged(session.ID()) {
			return
		}
		if err := e.proc.Enqueue(ctx, newBlockCompleteCommand(session.ID(), blockErr)); err != nil {
			log.Warn(log.CatEngine, "block result dropped", "session", session.ID(), "error", err)
		}
	}()

	return actor.OK(startTicket{sessionID: session.ID(), outcome: p.outcome}), nil
}

func (e *Engine) handleBlockComplete(ctx context.Context, c actor.Command) (*actor.Result, error) {
	cmd := c.(*blockCompleteCommand)
	if cmd.err == nil {
		e.settle(cmd.sessionID)
	}

	p := e.pending
	if p == nil || p.session.ID() != cmd.sessionID {
		// The start was cancelled. If blocking engaged anyway, release it.
		if cmd.err == nil {
			log.Info(log.CatEngine, "releasing block engaged after cancellation", "session", cmd.sessionID)
			e.unblockOnce(ctx, cmd.sessionID)
		}
		return actor.OK(nil), nil
	}
	e.pending = nil

	if cmd.err != nil {
		e.unblockOnce(ctx, cmd.sessionID)
		e.session = nil
		e.metrics.RecordRejected("enforcement")
		err := cmd.err
		if !errors.Is(err, domain.ErrEnforcementUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrEnforcementUnavailable, err)
		}
		e.setState(StateIdle, ReasonBlockFailed, err)
		p.outcome <- startOutcome{err: err}
		return actor.OK(nil), nil
	}

	session := p.session
	now := e.clock.Now()
	if err := session.Activate(now); err != nil {
		return nil, err
	}

	if err := e.store.Create(ctx, session); err != nil {
		e.unblock(ctx, session.ID())
		e.session = nil
		if !errors.Is(err, domain.ErrSessionActive) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		e.setState(StateIdle, ReasonPersistFailed, err)
		p.outcome <- startOutcome{err: err}
		return actor.OK(nil), nil
	}

	e.metrics.RecordStarted()
	e.setState(StateActive, ReasonActivated, nil)
	p.outcome <- startOutcome{handle: SessionHandle{
		ID:                     session.ID(),
		StartTime:              session.StartTime(),
		PlannedDurationMinutes: session.PlannedDurationMinutes(),
		BlockedAppIDs:          session.BlockedAppIDs(),
	}}
	return actor.OK(nil), nil
}

func (e *Engine) handleStop(ctx context.Context, _ actor.Command) (*actor.Result, error) {
	switch e.state {
	case StateStarting:
		e.cancelPending(ctx)
		return actor.OK(nil), nil
	case StateActive:
		return actor.OK(nil), e.finish(ctx, ReasonStopped)
	default:
		log.Debug(log.CatEngine, "stop with no active session", "state", e.state)
		return actor.OK(nil), nil
	}
}

// cancelPending abandons the start in flight. A block call that ignores the
// cancellation and engages later is released by handleLateBlock.
func (e *Engine) cancelPending(ctx context.Context) {
	p := e.pending
	e.pending = nil
	p.cancel()
	e.session = nil
	e.setState(StateIdle, ReasonCancelled, nil)
	p.outcome <- startOutcome{err: ErrStartCancelled}
	e.unblockOnce(ctx, p.session.ID())
}

func (e *Engine) handleCancelStart(ctx context.Context, c actor.Command) (*actor.Result, error) {
	cmd := c.(*cancelStartCommand)
	if e.state != StateStarting || e.pending == nil || e.pending.session.ID() != cmd.sessionID {
		// The start already resolved one way or the other.
		return actor.OK(nil), nil
	}
	log.Info(log.CatEngine, "start abandoned by caller", "session", cmd.sessionID)
	e.cancelPending(ctx)
	return actor.OK(nil), nil
}

// handleLateBlock reconciles enforcement with the current state after a
// block call engaged once the engine had stopped waiting for it.
func (e *Engine) handleLateBlock(ctx context.Context, c actor.Command) (*actor.Result, error) {
	cmd := c.(*lateBlockCommand)
	e.settle(cmd.sessionID)

	owned := e.session != nil && e.session.ID() == cmd.sessionID
	switch {
	case owned && (e.state == StateStarting || e.state == StateActive):
		// Still wanted, or the pending block result decides.
		return actor.OK(nil), nil
	case e.state == StateActive:
		// The late call may have replaced the current session's block list.
		log.Warn(log.CatEnforce, "stale block engaged during another session, re-blocking",
			"stale", cmd.sessionID, "session", e.session.ID())
		if err := e.block(ctx, e.session.ID(), e.session.BlockedAppIDs()); err != nil {
			log.ErrorErr(log.CatEnforce, "re-block after stale block failed", err, "session", e.session.ID())
		}
		return actor.OK(nil), nil
	case e.state == StateStarting:
		// The pending start's own result settles enforcement.
		return actor.OK(nil), nil
	default:
		log.Info(log.CatEngine, "releasing block engaged after the call was abandoned", "session", cmd.sessionID, "state", e.state)
		e.unblockOnce(ctx, cmd.sessionID)
		return actor.OK(nil), nil
	}
}

// finish drives Active (or a recovered Completing session) to Completed.
// Unblocking fails open: the session completes even if enforcement cannot
// be released.
func (e *Engine) finish(ctx context.Context, reason string) error {
	session := e.session
	// end_time is the stop or expiry instant, not when unblocking returned.
	now := e.clock.Now()

	if session.Status() == domain.StatusActive {
		if err := session.BeginCompleting(now); err != nil {
			return err
		}
		if err := e.store.Update(ctx, session.ID(), session.FinalPatch()); err != nil {
			log.Warn(log.CatStore, "completing status not persisted", "session", session.ID(), "error", err)
		}
	}
	e.setState(StateCompleting, reason, nil)

	e.unblock(ctx, session.ID())

	if err := session.Complete(now); err != nil {
		return err
	}
	persistErr := e.store.Update(ctx, session.ID(), session.FinalPatch())
	if persistErr != nil {
		// The record stays non-terminal and recovery will finalize and count it.
		log.ErrorErr(log.CatStore, "completed session not persisted", persistErr, "session", session.ID())
		persistErr = fmt.Errorf("%w: %w", domain.ErrPersistence, persistErr)
	} else if err := e.gate.OnCompleted(ctx, session); err != nil {
		log.Warn(log.CatQuota, "quota counter not incremented", "session", session.ID(), "error", err)
	}

	e.metrics.RecordFinished(string(domain.StatusCompleted))
	e.setState(StateCompleted, reason, persistErr)
	return persistErr
}

// abort ends a session whose protection could not be re-engaged.
func (e *Engine) abort(ctx context.Context, reason string, cause error) {
	session := e.session
	if err := session.Abort(e.clock.Now()); err != nil {
		log.Warn(log.CatEngine, "abort rejected", "session", session.ID(), "error", err)
		return
	}
	if err := e.store.Update(ctx, session.ID(), session.FinalPatch()); err != nil {
		log.ErrorErr(log.CatStore, "aborted session not persisted", err, "session", session.ID())
		if clearErr := e.store.ClearActive(ctx); clearErr != nil {
			log.ErrorErr(log.CatStore, "active pointer not cleared", clearErr, "session", session.ID())
		}
	}
	e.unblockOnce(ctx, session.ID())
	e.metrics.RecordFinished(string(domain.StatusAborted))
	e.setState(StateIdle, reason, cause)
	e.session = nil
}

func (e *Engine) handleTick(ctx context.Context, _ actor.Command) (*actor.Result, error) {
	if e.state != StateActive {
		return actor.OK(nil), nil
	}

	if e.adoptExternal(ctx) {
		return actor.OK(nil), nil
	}

	if e.session.Expired(e.clock.Now()) {
		log.Info(log.CatEngine, "session expired", "session", e.session.ID(), "planned_minutes", e.session.PlannedDurationMinutes())
		return actor.OK(nil), e.finish(ctx, ReasonExpired)
	}
	return actor.OK(nil), nil
}

// adoptExternal picks up a terminal status written by another process, for
// example a separate stop invocation. Returns true when the session ended.
func (e *Engine) adoptExternal(ctx context.Context) bool {
	active, err := e.store.LoadActive(ctx)
	if err == nil && active != nil && active.ID() == e.session.ID() {
		return false
	}
	if err != nil {
		var corrupt *domain.CorruptRecordError
		if !errors.As(err, &corrupt) {
			log.Warn(log.CatStore, "active pointer unreadable during tick", "error", err)
			return false
		}
	}

	stored, err := e.store.Get(ctx, e.session.ID())
	if err != nil {
		log.Warn(log.CatStore, "session unreadable during tick", "session", e.session.ID(), "error", err)
		return false
	}
	if !stored.Status().IsTerminal() {
		return false
	}

	log.Info(log.CatEngine, "session finished by another process", "session", stored.ID(), "status", stored.Status())
	e.session = stored
	e.metrics.RecordFinished(string(stored.Status()))
	if stored.Status() == domain.StatusCompleted {
		e.setState(StateCompleted, ReasonExternal, nil)
	} else {
		e.setState(StateIdle, ReasonExternal, nil)
		e.session = nil
	}
	return true
}

func (e *Engine) handleAttempt(ctx context.Context, c actor.Command) (*actor.Result, error) {
	cmd := c.(*attemptCommand)

	if e.state != StateActive {
		log.Warn(log.CatAttempt, "attempt outside active session ignored", "app", cmd.appID, "state", e.state)
		return actor.OK(nil), nil
	}

	payload, err := e.tracker.Increment(ctx, e.session, cmd.appID, cmd.at)
	if errors.Is(err, domain.ErrAppNotBlocked) {
		log.Warn(log.CatAttempt, "attempt on app not blocked by session", "session", e.session.ID(), "app", cmd.appID)
		return actor.OK(nil), nil
	}
	if err != nil {
		return nil, err
	}

	e.metrics.RecordAttempt(cmd.appID)
	e.sink.OnAttempt(payload)
	e.attemptBroker.Publish(pubsub.AttemptEvent, payload)
	return actor.OK(payload), nil
}

func (e *Engine) handleStatus(context.Context, actor.Command) (*actor.Result, error) {
	st := Status{State: e.state}
	if e.session == nil {
		return actor.OK(st), nil
	}

	s := e.session
	st.SessionID = s.ID()
	st.Attempts = s.Attempts()
	st.PlannedDurationMinutes = s.PlannedDurationMinutes()
	st.BlockedAppIDs = s.BlockedAppIDs()
	st.StartTime = s.StartTime()
	st.EndTime = s.EndTime()

	if e.state == StateActive || e.state == StateCompleting {
		if remaining, timed := s.Remaining(e.clock.Now()); timed {
			secs := int64(remaining / time.Second)
			st.RemainingSeconds = &secs
		}
	}
	return actor.OK(st), nil
}
