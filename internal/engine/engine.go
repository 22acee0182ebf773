// Package engine implements the focus session state machine.
//
// Every transition (start, stop, attempt, tick, recovery) is a command handled
// by a single actor.Processor goroutine, so the single-active-session rule and
// the attempt counters never see concurrent writers. Enforcement calls made
// while starting run off that goroutine so a Stop can cancel them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/deepfocus/internal/actor"
	"github.com/zjrosen/deepfocus/internal/attempts"
	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/flags"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/metrics"
	"github.com/zjrosen/deepfocus/internal/pubsub"
	"github.com/zjrosen/deepfocus/internal/quota"
	"github.com/zjrosen/deepfocus/internal/tracing"
)

// DefaultTickInterval is how often Run checks for expiry.
const DefaultTickInterval = 5 * time.Second

// Deps are the collaborators the engine is constructed with.
type Deps struct {
	Store   domain.SessionStore
	Gate    *quota.Gate
	Adapter enforcement.Adapter

	// Optional.
	Clock   domain.Clock
	Sink    NotificationSink
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Flags   *flags.Registry
}

// Option configures the Engine.
type Option func(*Engine)

// WithTickInterval sets the expiry check interval used by Run.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithPolicy sets the enforcement retry schedule and per-call timeout.
func WithPolicy(p enforcement.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithRetention prunes terminal sessions older than d when the engine opens.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
	}
}

// WithQueueCapacity sets the command queue size.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		e.queueCapacity = n
	}
}

// Engine is the focus session state machine.
type Engine struct {
	store   domain.SessionStore
	gate    *quota.Gate
	caller  *enforcement.Caller
	clock   domain.Clock
	sink    NotificationSink
	metrics *metrics.Metrics
	tracer  trace.Tracer
	flags   *flags.Registry
	tracker *attempts.Tracker

	tickInterval  time.Duration
	policy        enforcement.Policy
	retention     time.Duration
	queueCapacity int

	proc          *actor.Processor
	stateBroker   *pubsub.Broker[StateChange]
	attemptBroker *pubsub.Broker[AttemptPayload]

	runCtx    context.Context
	runCancel context.CancelFunc
	openOnce  sync.Once
	opened    atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	report    RecoveryReport
	openErr   error

	// Start goroutines still waiting on a block call.
	inflight sync.WaitGroup

	// Sessions whose block engaged but whose result the processing
	// goroutine has not handled yet. Guarded by lateMu.
	lateMu         sync.Mutex
	unsettled      map[string]int
	swept          bool
	engagedAtClose string

	// Owned by the processing goroutine.
	state   State
	session *domain.FocusSession
	pending *pendingStart
}

// pendingStart tracks a session whose block call is in flight.
type pendingStart struct {
	session *domain.FocusSession
	cancel  context.CancelFunc
	outcome chan startOutcome
}

type startOutcome struct {
	handle SessionHandle
	err    error
}

// startTicket is handed back by the start handler while blocking engages.
type startTicket struct {
	sessionID string
	outcome   chan startOutcome
}

// New creates an Engine. Call Open or Run before using it.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("engine: quota gate is required")
	}
	if deps.Adapter == nil {
		return nil, errors.New("engine: enforcement adapter is required")
	}

	e := &Engine{
		store:         deps.Store,
		gate:          deps.Gate,
		clock:         deps.Clock,
		sink:          deps.Sink,
		metrics:       deps.Metrics,
		tracer:        deps.Tracer,
		flags:         deps.Flags,
		tickInterval:  DefaultTickInterval,
		policy:        enforcement.DefaultPolicy(),
		queueCapacity: actor.DefaultQueueCapacity,
		stateBroker:   pubsub.NewBroker[StateChange](),
		attemptBroker: pubsub.NewBroker[AttemptPayload](),
		closed:        make(chan struct{}),
		unsettled:     make(map[string]int),
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = domain.RealClock{}
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	if e.flags == nil {
		e.flags = flags.New(nil)
	}

	e.caller = enforcement.NewCaller(deps.Adapter, e.policy,
		enforcement.WithFailureObserver(func(op string, kind enforcement.Kind) {
			e.metrics.RecordEnforcementFailure(op, kind.String())
		}),
	)
	e.tracker = attempts.NewTracker(e.store, e.flags.Enabled(flags.FlagPersistAttempts))

	middlewares := []actor.Middleware{
		actor.NewRecoverMiddleware(),
		tracing.NewMiddleware(e.tracer),
		actor.NewLoggingMiddleware(),
		actor.NewTimeoutMiddleware(0),
	}
	if e.metrics != nil {
		middlewares = append(middlewares, e.metrics.Middleware())
	}
	e.proc = actor.NewProcessor(
		actor.WithQueueCapacity(e.queueCapacity),
		actor.WithMiddleware(middlewares...),
	)
	e.proc.RegisterHandler(cmdStart, actor.HandlerFunc(e.handleStart))
	e.proc.RegisterHandler(cmdStop, actor.HandlerFunc(e.handleStop))
	e.proc.RegisterHandler(cmdTick, actor.HandlerFunc(e.handleTick))
	e.proc.RegisterHandler(cmdAttempt, actor.HandlerFunc(e.handleAttempt))
	e.proc.RegisterHandler(cmdBlockComplete, actor.HandlerFunc(e.handleBlockComplete))
	e.proc.RegisterHandler(cmdCancelStart, actor.HandlerFunc(e.handleCancelStart))
	e.proc.RegisterHandler(cmdLateBlock, actor.HandlerFunc(e.handleLateBlock))
	e.proc.RegisterHandler(cmdRecover, actor.HandlerFunc(e.handleRecover))
	e.proc.RegisterHandler(cmdStatus, actor.HandlerFunc(e.handleStatus))

	return e, nil
}

// Open starts the processing goroutine, prunes old history, recovers any
// persisted session and subscribes to attempt events. It is safe to call
// more than once; later calls return the first result.
func (e *Engine) Open(ctx context.Context) (RecoveryReport, error) {
	e.openOnce.Do(func() {
		e.runCtx, e.runCancel = context.WithCancel(context.Background())
		go e.proc.Run(e.runCtx)
		if err := e.proc.WaitForReady(ctx); err != nil {
			e.openErr = err
			return
		}
		e.opened.Store(true)

		e.prune(ctx)

		report, err := e.Recover(ctx)
		if err != nil {
			e.openErr = err
			return
		}
		e.report = report

		err = e.caller.Adapter().SubscribeAttempts(e.runCtx, func(a enforcement.Attempt) {
			at := a.Timestamp
			if at.IsZero() {
				at = e.clock.Now()
			}
			if err := e.proc.Enqueue(e.runCtx, newAttemptCommand(a.AppID, at)); err != nil {
				log.Warn(log.CatAttempt, "attempt dropped", "app", a.AppID, "error", err)
			}
		})
		if err != nil {
			// Sessions still work without attempt counting.
			log.Warn(log.CatEnforce, "attempt subscription unavailable", "error", err)
		}
	})
	return e.report, e.openErr
}

// Run opens the engine and checks for expiry every tick interval until ctx
// is done, then closes the engine.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.closed:
			return nil
		case <-ticker.C:
			if err := e.proc.Submit(newTickCommand(actor.SourceTimer)); err != nil && !errors.Is(err, actor.ErrQueueFull) {
				log.Warn(log.CatEngine, "tick not submitted", "error", err)
			}
		}
	}
}

// Close stops the processing goroutine and the event brokers. Pending starts
// are cancelled, and any block that engaged without reaching an active
// session is released. The store is not closed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.runCancel != nil {
			e.runCancel()
		}
		e.proc.Stop()
		e.settleEnforcement()
		e.stateBroker.Close()
		e.attemptBroker.Close()
	})
	return nil
}

func (e *Engine) prune(ctx context.Context) {
	if e.retention <= 0 || !e.flags.Enabled(flags.FlagPruneOnStart) {
		return
	}
	n, err := e.store.Prune(ctx, e.clock.Now().Add(-e.retention))
	if err != nil {
		log.Warn(log.CatStore, "history prune failed", "error", err)
		return
	}
	if n > 0 {
		log.Info(log.CatStore, "pruned session history", "removed", n, "retention", e.retention)
	}
}

// submit runs cmd on the processing goroutine and returns its result data.
func (e *Engine) submit(ctx context.Context, cmd actor.Command) (any, error) {
	select {
	case <-e.closed:
		return nil, ErrClosed
	default:
	}
	if !e.opened.Load() {
		return nil, ErrNotOpen
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if setter, ok := cmd.(interface{ SetSpanContext(trace.SpanContext) }); ok {
			setter.SetSpanContext(sc)
		}
	}

	result, err := e.proc.SubmitAndWait(ctx, cmd)
	if err != nil {
		if errors.Is(err, actor.ErrNotRunning) {
			return nil, ErrClosed
		}
		return nil, err
	}
	if !result.Success {
		return nil, result.Error
	}
	return result.Data, nil
}

// Start begins a session blocking appIDs for durationMinutes (0 means until
// stopped). It returns once enforcement is engaged and the session is
// persisted, or with ValidationError, QuotaExceeded, SessionActive or
// EnforcementUnavailable.
//
// If ctx ends while enforcement is engaging, the start is withdrawn and the
// error wraps both ErrStartCancelled and ctx.Err(). A start that went live
// before the withdrawal was processed is reported as a success.
func (e *Engine) Start(ctx context.Context, durationMinutes uint, appIDs []string) (SessionHandle, error) {
	data, err := e.submit(ctx, newStartCommand(durationMinutes, appIDs))
	if err != nil {
		return SessionHandle{}, err
	}
	ticket, ok := data.(startTicket)
	if !ok {
		return SessionHandle{}, fmt.Errorf("unexpected start result %T", data)
	}

	select {
	case o := <-ticket.outcome:
		return o.handle, o.err
	case <-e.closed:
		return SessionHandle{}, ErrClosed
	case <-ctx.Done():
	}

	if err := e.proc.Enqueue(e.runCtx, newCancelStartCommand(ticket.sessionID)); err != nil {
		return SessionHandle{}, ErrClosed
	}
	select {
	case o := <-ticket.outcome:
		if errors.Is(o.err, ErrStartCancelled) {
			return SessionHandle{}, fmt.Errorf("%w: %w", ErrStartCancelled, ctx.Err())
		}
		return o.handle, o.err
	case <-e.closed:
		return SessionHandle{}, ErrClosed
	}
}

// Stop ends the current session. It is a no-op when nothing is running.
// A start still engaging enforcement is cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	_, err := e.submit(ctx, newStopCommand())
	return err
}

// Tick runs one expiry check.
func (e *Engine) Tick(ctx context.Context) error {
	_, err := e.submit(ctx, newTickCommand(actor.SourceTimer))
	return err
}

// Resume runs an immediate expiry check after the host returns from
// background or sleep.
func (e *Engine) Resume(ctx context.Context) error {
	log.Debug(log.CatEngine, "resume from background")
	_, err := e.submit(ctx, newTickCommand(actor.SourceUser))
	return err
}

// Recover loads a persisted non-terminal session and completes, resumes or
// aborts it. It only acts while no session is in flight.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	data, err := e.submit(ctx, newRecoverCommand())
	if err != nil {
		return RecoveryReport{}, err
	}
	report, _ := data.(RecoveryReport)
	return report, nil
}

// Status returns the current state, remaining time and attempt counts.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	data, err := e.submit(ctx, newStatusCommand())
	if err != nil {
		return Status{}, err
	}
	status, _ := data.(Status)
	return status, nil
}

// Subscribe delivers state changes and attempt notifications until ctx is
// done. Either callback may be nil. Callbacks run on their own goroutines.
func (e *Engine) Subscribe(ctx context.Context, onStateChange func(StateChange), onAttempt func(AttemptPayload)) {
	if onStateChange != nil {
		e.stateBroker.SubscribeFunc(ctx, func(ev pubsub.Event[StateChange]) {
			onStateChange(ev.Payload)
		})
	}
	if onAttempt != nil {
		e.attemptBroker.SubscribeFunc(ctx, func(ev pubsub.Event[AttemptPayload]) {
			onAttempt(ev.Payload)
		})
	}
}

// History returns finished and in-flight sessions, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*domain.FocusSession, error) {
	sessions, err := e.store.ListHistory(ctx, domain.HistoryFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return sessions, nil
}

// Usage returns the free tier allowance.
func (e *Engine) Usage(ctx context.Context) (domain.UsageQuota, error) {
	return e.gate.Usage(ctx)
}
