package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/budget"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/ocr"
	"github.com/majlabs/docflow/internal/pipeline"
	"github.com/majlabs/docflow/internal/resource"
	"github.com/majlabs/docflow/internal/rules"
	"github.com/majlabs/docflow/internal/workstore"
	"github.com/majlabs/docflow/pkg/cloudmodel"
	"github.com/majlabs/docflow/pkg/localinfer"
)

var workerFlags struct {
	phase int
	start int
	end   int
}

// workerCmd is spawned by the launcher; it is hidden because operators are
// expected to go through launch.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker instance over a slot range",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context(), model.Phase(workerFlags.phase), workerFlags.start, workerFlags.end)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerFlags.phase, "phase", 1, "pipeline phase (1, 2, or 3)")
	workerCmd.Flags().IntVar(&workerFlags.start, "start", 0, "first slot (inclusive)")
	workerCmd.Flags().IntVar(&workerFlags.end, "end", 0, "last slot (exclusive, 0 = unbounded)")
	rootCmd.AddCommand(workerCmd)
}

func newStore() (*workstore.Store, error) {
	layout := workstore.NewLayout(cfg.Store.Root)
	if err := layout.EnsureDirs(); err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	ttl := time.Duration(cfg.Store.StaleLockTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = workstore.DefaultStaleLockTTL
	}
	return workstore.New(layout, host, strconv.Itoa(os.Getpid()), ttl), nil
}

func runWorker(parent context.Context, phase model.Phase, start, end int) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore()
	if err != nil {
		return err
	}

	var throttled func() bool
	if cfg.Launcher.RespectThrottle {
		monitor := resource.NewMonitor(cfg.Resource)
		go monitor.Run(ctx)
		throttled = monitor.Throttled
	}

	items, err := workerItems(store, phase, start, end)
	if err != nil {
		return err
	}
	process, cleanup, err := newProcessor(ctx, store, phase)
	if err != nil {
		return err
	}
	defer cleanup()

	zap.L().Info("worker starting",
		zap.Int("phase", int(phase)),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("items", len(items)))

	stats, err := pipeline.NewRunner(store, phase, throttled).Run(ctx, items, process)
	zap.L().Info("worker finished",
		zap.Int("claimed", stats.Claimed),
		zap.Int("artifacts", stats.Artifacts),
		zap.Int("failed", stats.Failed),
		zap.Int("deferred", stats.Deferred),
		zap.Int("skipped", stats.Skipped),
		zap.Int("contended", stats.Contended),
		zap.Int("errors", stats.Errors))
	if err != nil {
		return err
	}
	if stats.Failed > 0 || stats.Errors > 0 {
		return fmt.Errorf("%w: %d failed, %d errors", errPartial, stats.Failed, stats.Errors)
	}
	return nil
}

// workerItems selects the phase's input: the scanned range for phase 1,
// the previous phase's failure stream (plus deferred backlog for phase 3)
// afterwards.
func workerItems(store *workstore.Store, phase model.Phase, start, end int) ([]model.WorkItem, error) {
	scanned, err := store.Scan()
	if err != nil {
		return nil, err
	}

	switch phase {
	case model.PhaseLayout:
		return pipeline.SelectRange(scanned, start, end), nil
	case model.PhaseLocal:
		recs, err := store.ReadFailures(model.PhaseLayout)
		if err != nil {
			return nil, err
		}
		return pipeline.SelectRange(pipeline.ItemsForFailures(scanned, recs), start, end), nil
	case model.PhaseExternal:
		recs, err := store.ReadFailures(model.PhaseLocal)
		if err != nil {
			return nil, err
		}
		deferred, err := store.ReadDeferred(model.PhaseExternal)
		if err != nil {
			return nil, err
		}
		return pipeline.SelectRange(pipeline.ItemsForFailures(scanned, append(recs, deferred...)), start, end), nil
	default:
		return nil, fmt.Errorf("phase %d has no worker", int(phase))
	}
}

// newProcessor wires the phase's analyzer stack.
func newProcessor(ctx context.Context, store *workstore.Store, phase model.Phase) (pipeline.Processor, func(), error) {
	nop := func() {}
	switch phase {
	case model.PhaseLayout:
		engine, err := ocr.NewEngine(cfg.OCR)
		if err != nil {
			return nil, nop, err
		}
		classifier, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return nil, nop, err
		}
		return pipeline.NewLayoutWorker(store, engine, classifier, cfg.OCR.Concurrency).Process, nop, nil

	case model.PhaseLocal:
		client := localinfer.NewClient(localinfer.WithBaseURL(cfg.LocalInfer.Endpoint))
		return pipeline.NewLocalWorker(store, client, cfg.LocalInfer).Process, nop, nil

	case model.PhaseExternal:
		guard, err := budget.Open(ctx, cfg.Budget)
		if err != nil {
			return nil, nop, err
		}
		client := cloudmodel.NewClient(cfg.External.APIKey)
		worker := pipeline.NewExternalWorker(store, client, guard, cfg.External)
		return worker.Process, func() { _ = guard.Close() }, nil

	default:
		return nil, nop, fmt.Errorf("phase %d has no worker", int(phase))
	}
}
