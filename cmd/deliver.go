package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/correspondent"
	"github.com/majlabs/docflow/internal/delivery"
	"github.com/majlabs/docflow/pkg/paperless"
)

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Push all finished artifacts to the document-management service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Delivery.URL == "" {
			return fmt.Errorf("delivery.url is not configured")
		}

		store, err := newStore()
		if err != nil {
			return err
		}
		mappings, err := correspondent.LoadMappings(cfg.Correspondent.KnownMappingsPath)
		if err != nil {
			return err
		}
		client := paperless.NewClient(cfg.Delivery.URL, cfg.Delivery.Token)
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("delivery target unreachable: %w", err)
		}

		report, err := delivery.New(store, client, mappings, cfg.Delivery).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %d, duplicates %d, patched %d, failed %d\n",
			report.Uploaded, report.Duplicates, report.Patched, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%w: %d delivery failures", errPartial, report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliverCmd)
}
