package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/pipeline"
)

var cfg *config.Config

// errPartial marks a run in which some items failed; the process exits 2 so
// batch schedulers can tell "done with stragglers" from "clean".
var errPartial = errors.New("partial completion")

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Distributed email-archive extraction pipeline",
	Long: "Extracts text from archived emails and attachments, classifies each item through " +
		"staged analyzers, and delivers normalized records to the document-management service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docflow:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures to the documented codes: 1 configuration error,
// 2 partial completion, 3 aborted by throttle/signal or an unusable store.
func exitCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrAborted), errors.Is(err, pipeline.ErrStoreUnavailable):
		return 3
	case errors.Is(err, errPartial):
		return 2
	default:
		return 1
	}
}
