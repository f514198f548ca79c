package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/workstore"
)

// Outcome classifies what a processor did with a claimed item.
type Outcome int

const (
	// OutcomeArtifact means the processor wrote the item's artifact.
	OutcomeArtifact Outcome = iota
	// OutcomeFailed means the processor appended the item to its failure
	// stream for the next phase.
	OutcomeFailed
	// OutcomeDeferred means the processor parked the item on the deferred
	// stream without consuming it.
	OutcomeDeferred
)

var (
	// ErrAborted means the run stopped early at an item boundary because
	// of a signal or a resource throttle. Remaining items stay untouched.
	ErrAborted = errors.New("pipeline: run aborted")

	// ErrStoreUnavailable means the shared store failed on several items
	// in a row and the instance should stop rather than burn through the
	// whole range.
	ErrStoreUnavailable = errors.New("pipeline: work store unavailable")
)

// maxConsecutiveStoreErrors bounds how many items in a row may fail on
// store operations before the run gives up.
const maxConsecutiveStoreErrors = 3

// Processor handles one claimed item. A returned error means the store or
// another piece of infrastructure failed, not the item; item-level failures
// are reported through the returned Outcome after the processor has
// appended the failure record itself.
type Processor func(ctx context.Context, item *model.WorkItem) (Outcome, error)

// Stats summarizes one runner pass.
type Stats struct {
	Claimed   int
	Artifacts int
	Failed    int
	Deferred  int
	Skipped   int
	Contended int
	Errors    int
}

// Runner drives the claim-process-release loop over a slice of work items.
// Every instance on every host runs the same loop; the exclusive-create
// locks in the store keep them from colliding.
type Runner struct {
	store     *workstore.Store
	phase     model.Phase
	throttled func() bool
	log       *zap.Logger
}

// NewRunner builds a runner for one phase. throttled is polled at item
// boundaries; nil means never throttle.
func NewRunner(store *workstore.Store, phase model.Phase, throttled func() bool) *Runner {
	return &Runner{
		store:     store,
		phase:     phase,
		throttled: throttled,
		log:       zap.L().With(zap.Int("phase", int(phase))),
	}
}

// Run claims and processes each item in order. Cancellation and throttling
// are honored only between items, so a claimed item is always either
// finished or released.
func (r *Runner) Run(ctx context.Context, items []model.WorkItem, process Processor) (*Stats, error) {
	stats := &Stats{}
	storeErrors := 0

	for i := range items {
		item := &items[i]

		if err := ctx.Err(); err != nil {
			r.log.Warn("run aborted", zap.String("cause", err.Error()), zap.Int("remaining", len(items)-i))
			return stats, ErrAborted
		}
		if r.throttled != nil && r.throttled() {
			r.log.Warn("run aborted by resource throttle", zap.Int("remaining", len(items)-i))
			return stats, ErrAborted
		}

		claim, err := r.store.TryClaim(r.phase, item.ID)
		switch {
		case errors.Is(err, workstore.ErrAlreadyDone):
			stats.Skipped++
			continue
		case errors.Is(err, workstore.ErrContended):
			stats.Contended++
			continue
		case err != nil:
			stats.Errors++
			storeErrors++
			r.log.Error("claim failed", zap.String("item", item.ID), zap.Error(err))
			if storeErrors >= maxConsecutiveStoreErrors {
				return stats, eris.Wrapf(ErrStoreUnavailable, "after %d consecutive claim errors", storeErrors)
			}
			continue
		}

		stats.Claimed++
		outcome, err := process(ctx, item)
		claim.Release()

		if err != nil {
			stats.Errors++
			storeErrors++
			r.log.Error("item processing hit infrastructure error",
				zap.String("item", item.ID), zap.Error(err))
			if storeErrors >= maxConsecutiveStoreErrors {
				return stats, eris.Wrapf(ErrStoreUnavailable, "after %d consecutive store errors", storeErrors)
			}
			continue
		}
		storeErrors = 0

		switch outcome {
		case OutcomeArtifact:
			stats.Artifacts++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeDeferred:
			stats.Deferred++
		}
	}

	return stats, nil
}

// SelectRange filters items to the half-open slot range [start, end).
// end <= 0 means unbounded.
func SelectRange(items []model.WorkItem, start, end int) []model.WorkItem {
	out := make([]model.WorkItem, 0, len(items))
	for _, item := range items {
		if item.Slot < start {
			continue
		}
		if end > 0 && item.Slot >= end {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ItemsForFailures maps a previous phase's failure records back onto the
// scanned work items, preserving failure-stream order and dropping records
// whose item has disappeared from the input.
func ItemsForFailures(items []model.WorkItem, recs []model.FailureRecord) []model.WorkItem {
	byID := make(map[string]model.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	out := make([]model.WorkItem, 0, len(recs))
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.ItemID] {
			continue
		}
		seen[rec.ItemID] = true
		if item, ok := byID[rec.ItemID]; ok {
			out = append(out, item)
		}
	}
	return out
}
