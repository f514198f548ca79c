package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/majlabs/docflow/internal/budget"
	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/resilience"
	"github.com/majlabs/docflow/internal/workstore"
	"github.com/majlabs/docflow/pkg/cloudmodel"
)

// maxCompletionTokens bounds one external answer; it also pads the budget
// reservation made before the call.
const maxCompletionTokens = 2048

// ExternalWorker is the phase-3 processor. It consumes the phase-2 failure
// stream and sends each item to the external large model, under a per-day
// token budget and a client-side rate limit.
type ExternalWorker struct {
	store   *workstore.Store
	client  cloudmodel.Client
	guard   *budget.Guard
	limiter *rate.Limiter
	cfg     config.ExternalConfig
	log     *zap.Logger
}

func NewExternalWorker(store *workstore.Store, client cloudmodel.Client, guard *budget.Guard, cfg config.ExternalConfig) *ExternalWorker {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 0.5
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &ExternalWorker{
		store:   store,
		client:  client,
		guard:   guard,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		cfg:     cfg,
		log:     zap.L().Named("phase3"),
	}
}

// Process implements Processor for one claimed item.
func (w *ExternalWorker) Process(ctx context.Context, item *model.WorkItem) (Outcome, error) {
	if err := eml.LoadItem(item); err != nil {
		w.log.Warn("envelope unreadable", zap.String("item", item.ID), zap.Error(err))
		return w.fail(item, model.ReasonUnparseable, "")
	}
	text := w.itemText(item)
	prompt := buildPrompt(&item.Envelope, text, model.KindUnknown)

	estimate := int64(len(prompt)/4) + maxCompletionTokens
	if err := w.guard.Reserve(ctx, estimate); err != nil {
		if errors.Is(err, budget.ErrExhausted) {
			return w.park(item, text)
		}
		return OutcomeFailed, err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return OutcomeFailed, err
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("cloudmodel", "complete")
	resp, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) (*cloudmodel.Response, error) {
		return w.client.Complete(ctx, cloudmodel.Request{
			Model:     w.cfg.Model,
			MaxTokens: maxCompletionTokens,
			System:    systemPrompt,
			Prompt:    prompt,
		})
	})
	if err != nil {
		w.log.Warn("external call failed", zap.String("item", item.ID), zap.Error(err))
		return w.fail(item, model.ReasonModelTimeout, text)
	}

	if cerr := w.guard.Charge(ctx, resp.TotalTokens()); cerr != nil {
		return OutcomeFailed, cerr
	}

	verdict, err := parseVerdict(w.cfg.Model, resp.Text)
	if err != nil {
		return w.fail(item, model.ReasonUnparseable, text)
	}

	if err := Complete(w.store, item, model.PhaseExternal, verdict.Kind, verdict.Fields, verdict.Confidence, []model.Verdict{*verdict}, text); err != nil {
		return OutcomeFailed, err
	}
	w.log.Info("resolved externally",
		zap.String("item", item.ID),
		zap.String("kind", string(verdict.Kind)),
		zap.Int64("tokens", resp.TotalTokens()))
	return OutcomeArtifact, nil
}

func (w *ExternalWorker) itemText(item *model.WorkItem) string {
	if body := strings.TrimSpace(item.Envelope.Body); body != "" {
		return body
	}
	recs, err := w.store.ReadFailures(model.PhaseLocal)
	if err != nil {
		return ""
	}
	for _, rec := range recs {
		if rec.ItemID == item.ID && rec.TextSnippet != "" {
			return rec.TextSnippet
		}
	}
	return ""
}

// park records the item on the deferred stream without consuming it; a
// later run with fresh budget picks it back up.
func (w *ExternalWorker) park(item *model.WorkItem, text string) (Outcome, error) {
	w.log.Info("daily budget exhausted, deferring", zap.String("item", item.ID))
	err := w.store.AppendDeferred(model.FailureRecord{
		ItemID:      item.ID,
		Phase:       model.PhaseExternal,
		Reason:      model.ReasonQuotaExhausted,
		TextSnippet: clipRunes(text, failureSnippetChars),
		FailedAt:    time.Now().UTC(),
	})
	if err != nil {
		return OutcomeDeferred, err
	}
	return OutcomeDeferred, nil
}

// fail hands the item to manual review through the phase-3 failure stream.
func (w *ExternalWorker) fail(item *model.WorkItem, reason model.FailureReason, text string) (Outcome, error) {
	err := w.store.AppendFailure(model.FailureRecord{
		ItemID:      item.ID,
		Phase:       model.PhaseExternal,
		Reason:      reason,
		TextSnippet: clipRunes(text, failureSnippetChars),
		FailedAt:    time.Now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFailed, nil
}
