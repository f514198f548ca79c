package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/launcher"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/resource"
)

var launchCmd = &cobra.Command{
	Use:   "launch <phase> [machine-tag]",
	Short: "Start the configured worker instances for a phase on this machine",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phaseNum, err := strconv.Atoi(args[0])
		if err != nil || phaseNum < 1 || phaseNum > 3 {
			return fmt.Errorf("invalid phase %q (want 1, 2, or 3)", args[0])
		}
		phase := model.Phase(phaseNum)

		lcfg := cfg.Launcher
		if len(args) == 2 {
			lcfg.MachineTag = args[1]
		}
		if lcfg.Instances[args[0]] < 1 {
			n := autoInstanceCount(cmd.Context())
			if lcfg.Instances == nil {
				lcfg.Instances = map[string]int{}
			}
			lcfg.Instances[args[0]] = n
			fmt.Printf("no instance count configured for phase %d, using %d\n", phaseNum, n)
		}

		store, err := newStore()
		if err != nil {
			return err
		}
		items, err := workerItems(store, phase, 0, 0)
		if err != nil {
			return err
		}
		// A new phase starting means the previous phase's failure stream
		// is now being consumed.
		if phase > model.PhaseLayout {
			if err := store.MarkPhaseDone(phase - 1); err != nil {
				return err
			}
		}

		// Instances partition the slot space, so the bound is the highest
		// slot still in play, not the item count.
		total := 0
		for _, item := range items {
			if item.Slot+1 > total {
				total = item.Slot + 1
			}
		}

		instances, err := launcher.New(lcfg).Launch(phase, total)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			fmt.Printf("phase %d instance %d pid %d slots [%d, %d)\n",
				int(inst.Phase), inst.Index, inst.PID, inst.Range.Start, inst.Range.End)
		}
		if len(instances) == 0 {
			fmt.Println("nothing to launch: no items in this machine's range")
		}
		return nil
	},
}

// autoInstanceCount sizes the instance count from one resource sample,
// capped by launcher.max_auto_instances.
func autoInstanceCount(ctx context.Context) int {
	monitor := resource.NewMonitor(cfg.Resource)
	monitor.Sample(ctx)
	n := monitor.RecommendedInstances()
	if limit := cfg.Launcher.MaxAutoInstances; limit > 0 && n > limit {
		n = limit
	}
	return n
}

func init() {
	rootCmd.AddCommand(launchCmd)
}
