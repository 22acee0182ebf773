package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepfocus/internal/engine"
	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/metrics"
)

var (
	watchMetricsAddr string
	watchUntilDone   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run in the foreground: enforce, count attempts and end sessions on time",
	Long: `Run the engine in the foreground until interrupted. While watching,
deepfocus ends timed sessions when they expire, prints a line for every
attempt to open a blocked app, and reports state changes.

Examples:
  deepfocus watch
  deepfocus watch --until-done=false
  deepfocus watch --metrics-addr localhost:9464
  deepfocus watch --debug`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	watchCmd.Flags().BoolVar(&watchUntilDone, "until-done", true, "exit when the current session finishes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	m := metrics.New()

	opts := defaultOptions()
	opts.sink = engine.NewWriterSink(out)
	opts.metrics = m
	rt, err := openRuntime(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	rt.reportRecovery(cmd.ErrOrStderr())

	if watchMetricsAddr != "" {
		addr, err := m.Serve(ctx, watchMetricsAddr)
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		fmt.Fprintf(out, "Metrics on http://%s/metrics\n", addr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if debugFlag {
		go streamLogs(runCtx, cmd.ErrOrStderr())
	}

	rt.engine.Subscribe(runCtx, func(change engine.StateChange) {
		if change.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", change.Err)
			return
		}
		fmt.Fprintf(out, "%s -> %s (%s)\n", change.From, change.To, change.Reason)
		if watchUntilDone && (change.To == engine.StateCompleted || change.To == engine.StateIdle) {
			cancel()
		}
	}, nil)

	status, err := rt.engine.Status(runCtx)
	if err != nil {
		return err
	}
	if watchUntilDone && !status.State.Busy() {
		fmt.Fprintln(out, "No focus session is running.")
		return nil
	}
	fmt.Fprintf(out, "Watching (%s). Press Ctrl+C to stop.\n", status.State)

	err = rt.engine.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.ErrorErr(log.CatCLI, "watch stopped", err)
		return err
	}
	return nil
}

// streamLogs copies debug log lines to w until ctx is done.
func streamLogs(ctx context.Context, w io.Writer) {
	listener := log.NewListener(ctx)
	if listener == nil {
		return
	}
	for {
		event, ok := listener.Next()
		if !ok {
			return
		}
		_, _ = io.WriteString(w, event.Payload)
	}
}
