package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testCommand CommandType = "test"

type testCmd struct {
	BaseCommand
	n       int
	invalid bool
}

func newTestCmd(n int) *testCmd {
	return &testCmd{BaseCommand: NewBaseCommand(testCommand, SourceUser), n: n}
}

func (c *testCmd) Validate() error {
	if c.invalid {
		return errors.New("invalid command")
	}
	return nil
}

func startProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	require.NoError(t, p.WaitForReady(context.Background()))
	t.Cleanup(func() {
		cancel()
		p.Stop()
	})
}

func TestBaseCommand_Fields(t *testing.T) {
	cmd := NewBaseCommand(testCommand, SourceTimer)
	require.NotEmpty(t, cmd.ID())
	require.Equal(t, testCommand, cmd.Type())
	require.Equal(t, SourceTimer, cmd.Source())
	require.False(t, cmd.CreatedAt().IsZero())
	require.Empty(t, cmd.TraceID())
	require.NoError(t, cmd.Validate())

	other := NewBaseCommand(testCommand, SourceTimer)
	require.NotEqual(t, cmd.ID(), other.ID())
}

func TestProcessor_SubmitAndWait_ReturnsHandlerData(t *testing.T) {
	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(_ context.Context, cmd Command) (*Result, error) {
		return OK(cmd.(*testCmd).n * 2), nil
	}))
	startProcessor(t, p)

	result, err := p.SubmitAndWait(context.Background(), newTestCmd(21))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 42, result.Data)
	require.Equal(t, int64(1), p.ProcessedCount())
	require.Equal(t, int64(0), p.ErrorCount())
}

func TestProcessor_HandlerErrorBecomesFailedResult(t *testing.T) {
	boom := errors.New("boom")
	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		return nil, boom
	}))
	startProcessor(t, p)

	result, err := p.SubmitAndWait(context.Background(), newTestCmd(1))
	require.NoError(t, err)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Error, boom)
	require.Equal(t, int64(1), p.ErrorCount())
}

func TestProcessor_ValidationAndRouting(t *testing.T) {
	p := NewProcessor()
	startProcessor(t, p)

	cmd := newTestCmd(1)
	cmd.invalid = true
	result, err := p.SubmitAndWait(context.Background(), cmd)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.EqualError(t, result.Error, "invalid command")

	result, err = p.SubmitAndWait(context.Background(), newTestCmd(1))
	require.NoError(t, err)
	require.ErrorIs(t, result.Error, ErrUnknownCommandType)
}

func TestProcessor_NilResultIsSuccess(t *testing.T) {
	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		return nil, nil
	}))
	startProcessor(t, p)

	result, err := p.SubmitAndWait(context.Background(), newTestCmd(1))
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestProcessor_ProcessesInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(_ context.Context, cmd Command) (*Result, error) {
		mu.Lock()
		seen = append(seen, cmd.(*testCmd).n)
		mu.Unlock()
		return OK(nil), nil
	}))
	startProcessor(t, p)

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(newTestCmd(i)))
	}
	_, err := p.SubmitAndWait(context.Background(), newTestCmd(50))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 51)
	for i, n := range seen {
		require.Equal(t, i, n)
	}
}

func TestProcessor_HandlersNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex

	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return OK(nil), nil
	}))
	startProcessor(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.SubmitAndWait(context.Background(), newTestCmd(i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, maxInFlight)
}

func TestProcessor_SubmitBeforeRun(t *testing.T) {
	p := NewProcessor()
	require.ErrorIs(t, p.Submit(newTestCmd(1)), ErrNotRunning)

	_, err := p.SubmitAndWait(context.Background(), newTestCmd(1))
	require.ErrorIs(t, err, ErrNotRunning)
	require.False(t, p.IsRunning())
}

func TestProcessor_QueueFull(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	p := NewProcessor(WithQueueCapacity(1))
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return OK(nil), nil
	}))
	startProcessor(t, p)
	defer close(release)

	require.NoError(t, p.Submit(newTestCmd(1)))
	<-entered
	require.NoError(t, p.Submit(newTestCmd(2)))
	require.ErrorIs(t, p.Submit(newTestCmd(3)), ErrQueueFull)
	require.Equal(t, 1, p.QueueLength())
}

func TestProcessor_SubmitAndWait_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		<-release
		return OK(nil), nil
	}))
	startProcessor(t, p)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.SubmitAndWait(ctx, newTestCmd(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessor_EnqueueWaitsForSpace(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	done := make(chan int, 4)

	p := NewProcessor(WithQueueCapacity(1))
	p.RegisterHandler(testCommand, HandlerFunc(func(_ context.Context, cmd Command) (*Result, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		done <- cmd.(*testCmd).n
		return OK(nil), nil
	}))
	startProcessor(t, p)

	require.NoError(t, p.Submit(newTestCmd(1)))
	<-entered
	require.NoError(t, p.Submit(newTestCmd(2)))

	enqueued := make(chan error, 1)
	go func() { enqueued <- p.Enqueue(context.Background(), newTestCmd(3)) }()

	close(release)
	require.NoError(t, <-enqueued)
	require.Equal(t, 1, <-done)
	require.Equal(t, 2, <-done)
	require.Equal(t, 3, <-done)
}

func TestProcessor_DrainProcessesRemaining(t *testing.T) {
	var mu sync.Mutex
	count := 0

	p := NewProcessor()
	p.RegisterHandler(testCommand, HandlerFunc(func(context.Context, Command) (*Result, error) {
		mu.Lock()
		count++
		mu.Unlock()
		return OK(nil), nil
	}))
	go p.Run(context.Background())
	require.NoError(t, p.WaitForReady(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(newTestCmd(i)))
	}
	p.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 10, count)
	require.False(t, p.IsRunning())
}

func TestProcessor_RunOnlyOnce(t *testing.T) {
	p := NewProcessor()
	startProcessor(t, p)

	returned := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second Run did not return immediately")
	}
}
