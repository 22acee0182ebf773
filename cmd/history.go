package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/deepfocus/internal/presentation"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past focus sessions, newest first",
	Long: `List past focus sessions, newest first.

Examples:
  deepfocus history
  deepfocus history -n 5
  deepfocus history --json | jq '.[].total_attempts'`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum sessions to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print history as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), cfg, defaultOptions())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	sessions, err := rt.engine.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	dtos := presentation.FromSessions(sessions)
	formatter := presentation.NewFormatter(cmd.OutOrStdout())
	if historyJSON {
		return formatter.FormatJSON(dtos)
	}
	return formatter.FormatHistory(dtos)
}
