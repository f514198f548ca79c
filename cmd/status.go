package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/launcher"
	"github.com/majlabs/docflow/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-phase progress and running instances on this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}

		items, err := store.Scan()
		if err != nil {
			return err
		}
		fmt.Printf("input items: %d\n\n", len(items))

		fmt.Printf("%-8s %10s %8s %10s %6s\n", "phase", "completed", "failed", "deferred", "done")
		for _, phase := range model.AnalyzerPhases {
			marker := ""
			if store.PhaseDone(phase) {
				marker = "yes"
			}
			fmt.Printf("%-8d %10d %8d %10d %6s\n",
				int(phase),
				store.CountArtifacts(phase),
				store.CountFailures(phase),
				store.CountDeferred(phase),
				marker)
		}

		running, err := launcher.New(cfg.Launcher).Running()
		if err != nil {
			return err
		}
		fmt.Printf("\nrunning instances (%s): %d\n", cfg.Launcher.MachineTag, running)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
