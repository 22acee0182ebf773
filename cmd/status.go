package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/presentation"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current focus session",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), cfg, defaultOptions())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	rt.reportRecovery(cmd.ErrOrStderr())

	status, err := rt.engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	dto := presentation.FromStatus(status)

	var usage *presentation.UsageDTO
	if !cfg.Subscription.Subscribed {
		q, err := rt.engine.Usage(cmd.Context())
		if err != nil {
			log.Warn(log.CatCLI, "usage lookup failed", "error", err)
		} else {
			u := presentation.FromUsage(q)
			usage = &u
		}
	}

	formatter := presentation.NewFormatter(cmd.OutOrStdout())
	if statusJSON {
		return formatter.FormatJSON(struct {
			presentation.StatusDTO
			Usage *presentation.UsageDTO `json:"usage,omitempty"`
		}{dto, usage})
	}
	return formatter.FormatStatus(dto, usage)
}
