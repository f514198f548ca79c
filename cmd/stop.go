package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/launcher"
)

var stopCmd = &cobra.Command{
	Use:   "stop [machine-tag]",
	Short: "Stop this machine's worker instances (SIGTERM, then SIGKILL after grace)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lcfg := cfg.Launcher
		if len(args) == 1 {
			lcfg.MachineTag = args[0]
		}

		stopped, err := launcher.New(lcfg).Stop()
		if err != nil {
			return err
		}
		fmt.Printf("stopped %d instance(s)\n", stopped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
