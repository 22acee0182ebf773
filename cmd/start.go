package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	startMinutes uint
	startApps    []string
)

var startCmd = &cobra.Command{
	Use:   "start [app-id...]",
	Short: "Start a focus session",
	Long: `Start a focus session that blocks the given apps. With no app ids the
block list from the config file is used.

A duration of 0 runs the session until "deepfocus stop".

Examples:
  deepfocus start -m 25 com.example.video com.example.chat
  deepfocus start -m 50 --app com.example.video --app com.example.chat
  deepfocus start --minutes 0`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().UintVarP(&startMinutes, "minutes", "m", 25, "session length in minutes (0 = until stopped)")
	startCmd.Flags().StringArrayVarP(&startApps, "app", "a", nil, "app id to block (repeatable)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	apps := append(append([]string(nil), startApps...), args...)
	if len(apps) == 0 {
		apps = cfg.BlockList.Apps
	}

	rt, err := openRuntime(cmd.Context(), cfg, defaultOptions())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	rt.reportRecovery(cmd.ErrOrStderr())

	handle, err := rt.engine.Start(cmd.Context(), startMinutes, apps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if handle.PlannedDurationMinutes == 0 {
		fmt.Fprintf(out, "Focus session %s started until stopped.\n", shortID(handle.ID))
	} else {
		fmt.Fprintf(out, "Focus session %s started for %d minutes, ends at %s.\n",
			shortID(handle.ID), handle.PlannedDurationMinutes,
			handle.StartTime.Add(time.Duration(handle.PlannedDurationMinutes)*time.Minute).Local().Format("15:04"))
	}
	fmt.Fprintf(out, "Blocking %d app(s).\n", len(handle.BlockedAppIDs))
	return nil
}
