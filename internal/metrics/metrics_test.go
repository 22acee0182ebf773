package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepfocus/internal/actor"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New()

	m.RecordStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionActive))

	m.RecordAttempt("com.video")
	m.RecordAttempt("com.video")
	m.RecordAttempt("com.chat")
	require.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("com.video")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("com.chat")))

	m.RecordFinished("completed")
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.SessionActive))

	m.RecordRejected("quota")
	m.RecordEnforcementFailure("block", "timeout")
	require.Equal(t, 1.0, testutil.ToFloat64(m.StartsRejected.WithLabelValues("quota")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EnforcementFailures.WithLabelValues("block", "timeout")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordStarted()
	m.RecordFinished("aborted")
	m.RecordRecovered()
	m.RecordRejected("validation")
	m.RecordAttempt("x")
	m.RecordEnforcementFailure("unblock", "unknown")

	h := m.Middleware()(actor.HandlerFunc(func(context.Context, actor.Command) (*actor.Result, error) {
		return actor.OK(nil), nil
	}))
	cmd := actor.NewBaseCommand("tick", actor.SourceTimer)
	_, err := h.Handle(context.Background(), &cmd)
	require.NoError(t, err)
}

func TestMetrics_MiddlewareObservesDuration(t *testing.T) {
	m := New()
	h := m.Middleware()(actor.HandlerFunc(func(context.Context, actor.Command) (*actor.Result, error) {
		return actor.OK(nil), nil
	}))
	cmd := actor.NewBaseCommand("stop", actor.SourceUser)
	_, err := h.Handle(context.Background(), &cmd)
	require.NoError(t, err)

	require.Equal(t, 1, testutil.CollectAndCount(m.CommandDuration))
}

func TestMetrics_Serve(t *testing.T) {
	m := New()
	m.RecordStarted()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "deepfocus_sessions_started_total 1"))
}
