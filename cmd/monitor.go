package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/resource"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print resource-monitor samples and the instance recommendation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		monitor := resource.NewMonitor(cfg.Resource)
		monitor.Sample(ctx)
		printSnapshot(monitor)
		if monitorOnce {
			return nil
		}
		go monitor.Run(ctx)

		interval := time.Duration(cfg.Resource.SampleIntervalSecs) * time.Second
		if interval <= 0 {
			interval = 2 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				printSnapshot(monitor)
			}
		}
	},
}

func printSnapshot(m *resource.Monitor) {
	snap := m.Current()
	gpu := "n/a"
	if snap.GPUPresent {
		gpu = fmt.Sprintf("%.0f%%", snap.GPUPercent)
	}
	state := "ok"
	if snap.Throttled {
		state = "THROTTLED"
	}
	fmt.Printf("cpu %.0f%%  ram %.0f%%  gpu %s  disk free %.1f GiB  instances %d  [%s]\n",
		snap.CPUPercent, snap.RAMPercent, gpu, snap.MinDiskFree,
		m.RecommendedInstances(), state)
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "print one sample and exit")
	rootCmd.AddCommand(monitorCmd)
}
