package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/correspondent"
	"github.com/majlabs/docflow/pkg/paperless"
)

var mergeDryRun bool

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold duplicate correspondents on the delivery target into one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Delivery.URL == "" {
			return fmt.Errorf("delivery.url is not configured")
		}
		client := paperless.NewClient(cfg.Delivery.URL, cfg.Delivery.Token)

		report, err := correspondent.NewMerger(client).Run(ctx, mergeDryRun)
		if err != nil {
			return err
		}
		for _, g := range report.Groups {
			fmt.Printf("%s: keep %q (id %d), fold %d duplicate(s)\n",
				g.Key, g.Primary.Name, g.Primary.ID, len(g.Duplicates))
		}
		if report.DryRun {
			fmt.Println("dry run: nothing changed")
			return nil
		}
		fmt.Printf("reassigned %d document(s), deleted %d correspondent(s)\n",
			report.Reassigned, report.Deleted)
		return nil
	},
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "report the merge plan without mutating")
	rootCmd.AddCommand(mergeCmd)
}
