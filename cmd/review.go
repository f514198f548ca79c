package main

import (
	"github.com/spf13/cobra"

	"github.com/majlabs/docflow/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Serve the manual-review API for items the analyzers gave up on",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		return review.NewServer(store, cfg.Review).ListenAndServe()
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
