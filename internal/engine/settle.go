package engine

import (
	"context"
	"time"

	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/log"
)

// trackEngaged records that blocking for sessionID is in effect and that the
// processing goroutine still has to see it. After Close has swept, nothing
// will process it, so the block is released here unless it belongs to the
// session that was active at shutdown. Returns false in that case.
func (e *Engine) trackEngaged(sessionID string) bool {
	e.lateMu.Lock()
	if e.swept {
		keep := e.engagedAtClose == sessionID
		e.lateMu.Unlock()
		if !keep {
			e.releaseDetached(sessionID)
		}
		return false
	}
	e.unsettled[sessionID]++
	e.lateMu.Unlock()
	return true
}

// settle marks one engaged block for sessionID as handled.
func (e *Engine) settle(sessionID string) {
	e.lateMu.Lock()
	defer e.lateMu.Unlock()
	if n := e.unsettled[sessionID]; n > 1 {
		e.unsettled[sessionID] = n - 1
	} else {
		delete(e.unsettled, sessionID)
	}
}

// lateBlock is called when a block call engaged after it was given up on.
func (e *Engine) lateBlock(sessionID string) {
	if !e.trackEngaged(sessionID) {
		return
	}
	if err := e.proc.Enqueue(e.runCtx, newLateBlockCommand(sessionID)); err != nil {
		// Close sweeps it.
		log.Warn(log.CatEngine, "late block not queued", "session", sessionID, "error", err)
	}
}

// settleEnforcement runs once the processing goroutine has stopped. It waits
// for block calls still in flight, bounded by the per-call timeout, then
// releases every engaged block that did not become the active session.
func (e *Engine) settleEnforcement() {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout())
	defer cancel()

	starts := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(starts)
	}()
	select {
	case <-starts:
		if err := e.caller.Wait(ctx); err != nil {
			log.Warn(log.CatEnforce, "enforcement calls still running at shutdown", "error", err)
		}
	case <-ctx.Done():
		log.Warn(log.CatEnforce, "block calls still running at shutdown")
	}

	var engaged string
	if e.state == StateActive && e.session != nil {
		engaged = e.session.ID()
	}

	e.lateMu.Lock()
	e.swept = true
	e.engagedAtClose = engaged
	var stale []string
	for id := range e.unsettled {
		if id != engaged {
			stale = append(stale, id)
		}
	}
	clear(e.unsettled)
	e.lateMu.Unlock()

	if len(stale) > 0 {
		log.Info(log.CatEngine, "releasing blocks left by unfinished starts", "sessions", stale)
		e.releaseDetached(stale[0])
	}
}

// releaseDetached unblocks outside the processing goroutine. Unblock is
// global, so one call covers every stale session.
func (e *Engine) releaseDetached(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout())
	defer cancel()
	e.unblockOnce(ctx, sessionID)
}

func (e *Engine) callTimeout() time.Duration {
	if e.policy.Timeout > 0 {
		return e.policy.Timeout
	}
	return enforcement.DefaultTimeout
}