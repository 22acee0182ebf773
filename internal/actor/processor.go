// Package actor provides the FIFO command processor that serializes every
// state transition. A single goroutine handles commands in strict arrival
// order, so handlers never race each other and need no locks of their own.
package actor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/deepfocus/internal/log"
)

// DefaultQueueCapacity is the default buffer size for the command queue.
const DefaultQueueCapacity = 256

// Handler processes a single command type.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (*Result, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// Option configures the Processor.
type Option func(*Processor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *Processor) {
		p.queueCapacity = capacity
	}
}

// WithMiddleware adds middleware to be applied to all handlers.
// Middleware is applied in order: first middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *Processor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// Processor processes commands sequentially in FIFO order.
type Processor struct {
	queue         chan queueItem
	queueCapacity int

	handlers    map[CommandType]Handler
	middlewares []Middleware

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	started  atomic.Bool
	readyCh  chan struct{}
	readyMu  sync.Mutex
	readySet bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

// queueItem wraps a command with an optional result channel for SubmitAndWait.
type queueItem struct {
	cmd      Command
	resultCh chan *Result // nil for fire-and-forget Submit
}

// NewProcessor creates a new Processor with the given options.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		queueCapacity: DefaultQueueCapacity,
		handlers:      make(map[CommandType]Handler),
		readyCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.queue = make(chan queueItem, p.queueCapacity)
	return p
}

// RegisterHandler registers a handler for a command type.
// Must be called before Run() is called.
// The handler is wrapped with all configured middleware.
func (p *Processor) RegisterHandler(cmdType CommandType, handler Handler) {
	p.handlers[cmdType] = ChainMiddleware(handler, p.middlewares...)
}

// Run starts the command processing loop.
// This method blocks until the context is cancelled or Stop() is called.
// Run can only be called once - subsequent calls return immediately.
func (p *Processor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	// Add to wait group BEFORE setting running to avoid race with Drain()
	p.wg.Add(1)
	p.running.Store(true)

	p.readyMu.Lock()
	if !p.readySet {
		close(p.readyCh)
		p.readySet = true
	}
	p.readyMu.Unlock()

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				// Queue closed during Drain
				return
			}
			p.processItem(item)
		}
	}
}

// WaitForReady blocks until the processor is ready to accept commands.
func (p *Processor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit adds a command to the queue for asynchronous processing.
// Returns immediately. Returns ErrQueueFull if the queue is at capacity.
func (p *Processor) Submit(cmd Command) error {
	if !p.running.Load() {
		return ErrNotRunning
	}

	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue adds a command for asynchronous processing, waiting for queue space
// until ctx is done or the processor stops.
func (p *Processor) Enqueue(ctx context.Context, cmd Command) error {
	if !p.running.Load() {
		return ErrNotRunning
	}

	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrNotRunning
	}
}

// SubmitAndWait adds a command to the queue and waits for the result.
// Respects context cancellation while queued and while waiting.
func (p *Processor) SubmitAndWait(ctx context.Context, cmd Command) (*Result, error) {
	if !p.running.Load() {
		return nil, ErrNotRunning
	}

	resultCh := make(chan *Result, 1)
	item := queueItem{cmd: cmd, resultCh: resultCh}

	select {
	case p.queue <- item:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, context.Canceled
	}
}

// Stop cancels the processing context and waits for shutdown.
// Any pending commands in the queue are NOT processed.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain processes all remaining commands in the queue before stopping.
func (p *Processor) Drain() {
	if !p.running.Load() {
		return
	}

	p.running.Store(false)
	close(p.queue)
	p.wg.Wait()
}

// IsRunning returns true if the processor is currently accepting commands.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

// ProcessedCount returns the total number of commands processed.
func (p *Processor) ProcessedCount() int64 {
	return p.processedCount.Load()
}

// ErrorCount returns the total number of commands that resulted in errors.
func (p *Processor) ErrorCount() int64 {
	return p.errorCount.Load()
}

// QueueLength returns the current number of pending commands.
func (p *Processor) QueueLength() int {
	return len(p.queue)
}

func (p *Processor) processItem(item queueItem) {
	result := p.processCommand(item.cmd)

	p.processedCount.Add(1)
	if !result.Success {
		p.errorCount.Add(1)
	}

	if item.resultCh != nil {
		item.resultCh <- result
		close(item.resultCh)
	}
}

// processCommand validates, routes and executes a command. Errors are
// wrapped in the Result, never returned separately.
func (p *Processor) processCommand(cmd Command) *Result {
	if err := cmd.Validate(); err != nil {
		return Fail(err)
	}

	handler, ok := p.handlers[cmd.Type()]
	if !ok {
		log.Error(log.CatActor, "no handler registered", "command_type", cmd.Type().String())
		return Fail(ErrUnknownCommandType)
	}

	result, err := handler.Handle(p.ctx, cmd)
	if err != nil {
		return Fail(err)
	}
	if result == nil {
		return OK(nil)
	}
	return result
}
