package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepfocus/internal/config"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Manage the default set of apps to block",
	Long: `Manage the default block list stored in the config file. "deepfocus start"
uses it when no app ids are given. Changes never affect a running session.`,
}

var blocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the default block list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		list := domain.NewBlockList(cfg.BlockList.Apps...)
		if list.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "The block list is empty.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(list.Apps(), "\n"))
		return nil
	},
}

var blocklistAddCmd = &cobra.Command{
	Use:   "add app-id...",
	Short: "Add apps to the default block list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list := domain.NewBlockList(cfg.BlockList.Apps...).Add(args...)
		return saveBlockList(cmd, list)
	},
}

var blocklistRemoveCmd = &cobra.Command{
	Use:     "remove app-id...",
	Aliases: []string{"rm"},
	Short:   "Remove apps from the default block list",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list := domain.NewBlockList(cfg.BlockList.Apps...).Remove(args...)
		return saveBlockList(cmd, list)
	},
}

func init() {
	blocklistCmd.AddCommand(blocklistListCmd, blocklistAddCmd, blocklistRemoveCmd)
	rootCmd.AddCommand(blocklistCmd)
}

func saveBlockList(cmd *cobra.Command, list domain.BlockList) error {
	path := configFilePath()
	if err := config.SaveBlockList(path, list.Apps()); err != nil {
		log.ErrorErr(log.CatConfig, "saving block list failed", err, "path", path)
		return fmt.Errorf("saving block list: %w", err)
	}
	cfg.BlockList.Apps = list.Apps()
	fmt.Fprintf(cmd.OutOrStdout(), "Block list has %d app(s).\n", list.Len())
	return nil
}
