package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/deepfocus/internal/actor"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

// handleRecover never fails. Problems degrade to Idle and surface as the
// report's Warning.
func (e *Engine) handleRecover(ctx context.Context, _ actor.Command) (*actor.Result, error) {
	if e.state.Busy() {
		return actor.OK(RecoveryReport{Outcome: RecoverySkipped, SessionID: e.session.ID()}), nil
	}
	return actor.OK(e.recover(ctx)), nil
}

func (e *Engine) recover(ctx context.Context) RecoveryReport {
	session, err := e.store.LoadActive(ctx)
	if err != nil {
		var corrupt *domain.CorruptRecordError
		if errors.As(err, &corrupt) {
			warning := fmt.Errorf("%w: %w", domain.ErrInconsistentStateRecovered, err)
			if clearErr := e.store.ClearActive(ctx); clearErr != nil {
				log.ErrorErr(log.CatStore, "active pointer not cleared", clearErr)
			}
			e.session = nil
			e.state = StateIdle
			e.warn(ReasonRecoveryFailed, warning)
			return RecoveryReport{Outcome: RecoveryReset, SessionID: corrupt.ID, Warning: warning}
		}
		warning := fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		e.warn(ReasonRecoveryFailed, warning)
		return RecoveryReport{Outcome: RecoveryNone, Warning: warning}
	}
	if session == nil {
		log.Debug(log.CatEngine, "nothing to recover")
		return RecoveryReport{Outcome: RecoveryNone}
	}

	e.session = session
	report := RecoveryReport{SessionID: session.ID()}
	now := e.clock.Now()
	log.Info(log.CatEngine, "recovering session",
		"session", session.ID(),
		"status", session.Status(),
		"elapsed", session.Elapsed(now),
		"planned_minutes", session.PlannedDurationMinutes(),
	)

	switch session.Status() {
	case domain.StatusStarting:
		// Never persisted by this engine; enforcement state is unknown.
		e.state = StateStarting
		report.Outcome = RecoveryAborted
		report.Warning = fmt.Errorf("%w: session %s was still starting", domain.ErrInconsistentStateRecovered, session.ID())
		e.abort(ctx, ReasonRecoveryFailed, report.Warning)
		return report

	case domain.StatusCompleting:
		e.state = StateCompleting
		report.Outcome = RecoveryCompleted
		if err := e.finish(ctx, ReasonRecovered); err != nil {
			report.Warning = err
		}
		return report
	}

	if session.Expired(now) {
		e.state = StateActive
		report.Outcome = RecoveryExpired
		if err := e.finish(ctx, ReasonExpired); err != nil {
			report.Warning = err
		}
		return report
	}

	// The OS may have dropped the block across a reboot.
	if err := e.block(ctx, session.ID(), session.BlockedAppIDs()); err != nil {
		report.Outcome = RecoveryAborted
		report.Warning = err
		e.abort(ctx, ReasonRecoveryFailed, err)
		return report
	}

	report.Outcome = RecoveryResumed
	e.metrics.RecordRecovered()
	e.setState(StateActive, ReasonRecovered, nil)
	return report
}
