package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepfocus/internal/engine"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the current focus session",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), cfg, defaultOptions())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	rt.reportRecovery(cmd.ErrOrStderr())

	before, err := rt.engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	if before.State != engine.StateActive {
		fmt.Fprintln(cmd.OutOrStdout(), "No focus session is running.")
		return nil
	}

	if err := rt.engine.Stop(cmd.Context()); err != nil {
		return err
	}

	after, err := rt.engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Focus session %s %s.\n", shortID(before.SessionID), after.State)
	return nil
}
