package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepfocus/internal/enforcement"
)

func TestAdapter_Idempotent(t *testing.T) {
	a := New()
	ctx := context.Background()

	require.NoError(t, a.Block(ctx, []string{"b", "a"}))
	require.NoError(t, a.Block(ctx, []string{"b", "a"}))
	apps, blocked := a.Blocked()
	require.True(t, blocked)
	require.Equal(t, []string{"a", "b"}, apps)

	require.NoError(t, a.Unblock(ctx))
	require.NoError(t, a.Unblock(ctx))
	_, blocked = a.Blocked()
	require.False(t, blocked)
	require.Equal(t, 2, a.BlockCalls())
	require.Equal(t, 2, a.UnblockCalls())
}

func TestAdapter_ScriptedFailures(t *testing.T) {
	a := New()
	boom := errors.New("boom")
	a.FailBlock(boom)

	require.ErrorIs(t, a.Block(context.Background(), []string{"a"}), boom)
	_, blocked := a.Blocked()
	require.False(t, blocked)
	require.NoError(t, a.Block(context.Background(), []string{"a"}))
}

func TestAdapter_HoldBlockRespectsContext(t *testing.T) {
	a := New()
	release := a.HoldBlock()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.Block(ctx, []string{"a"})
	require.ErrorIs(t, err, enforcement.ErrTimeout)
}

func TestAdapter_EmitToSubscribers(t *testing.T) {
	a := New()
	ctx, cancel := context.WithCancel(context.Background())

	var got []enforcement.Attempt
	require.NoError(t, a.SubscribeAttempts(ctx, func(at enforcement.Attempt) { got = append(got, at) }))

	a.Emit("a", time.Unix(1, 0))
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].AppID)

	cancel()
	require.Eventually(t, func() bool { return a.Subscribers() == 0 }, time.Second, time.Millisecond)
}
