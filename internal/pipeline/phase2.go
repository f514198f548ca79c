package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/workstore"
	"github.com/majlabs/docflow/pkg/localinfer"
)

// escalationState is the hierarchical-inference state machine. The item
// walks small, then medium for confirmation, and reaches large only when
// the first two could not settle the kind between them.
type escalationState int

const (
	stateSmall escalationState = iota
	stateMedium
	stateLarge
	stateDone
	stateFailed
)

// LocalWorker is the phase-2 processor. It consumes the phase-1 failure
// stream and runs each item through the model hierarchy.
type LocalWorker struct {
	store  *workstore.Store
	client localinfer.Client
	cfg    config.LocalInferConfig
	log    *zap.Logger
}

func NewLocalWorker(store *workstore.Store, client localinfer.Client, cfg config.LocalInferConfig) *LocalWorker {
	return &LocalWorker{
		store:  store,
		client: client,
		cfg:    cfg,
		log:    zap.L().Named("phase2"),
	}
}

// Process implements Processor for one claimed item.
func (w *LocalWorker) Process(ctx context.Context, item *model.WorkItem) (Outcome, error) {
	if err := eml.LoadItem(item); err != nil {
		w.log.Warn("envelope unreadable", zap.String("item", item.ID), zap.Error(err))
		return w.fail(item, model.ReasonUnparseable, "", nil)
	}
	text := w.itemText(item)
	prompt := buildPrompt(&item.Envelope, text, model.KindUnknown)

	var (
		state   = stateSmall
		trace   []model.Verdict
		small   *model.Verdict
		medium  *model.Verdict
		result  *model.Verdict
		lastErr error
	)

	for state != stateDone && state != stateFailed {
		switch state {
		case stateSmall:
			small, lastErr = w.ask(ctx, w.cfg.SmallModel, w.cfg.SmallTimeoutSecs, prompt)
			trace = appendVerdict(trace, w.cfg.SmallModel, small, lastErr)
			state = stateMedium

		case stateMedium:
			medium, lastErr = w.ask(ctx, w.cfg.MediumModel, w.cfg.MediumTimeoutSecs, prompt)
			trace = appendVerdict(trace, w.cfg.MediumModel, medium, lastErr)
			if small != nil && medium != nil && medium.Kind == small.Kind {
				result = small
				state = stateDone
				break
			}
			state = stateLarge

		case stateLarge:
			large, err := w.ask(ctx, w.cfg.LargeModel, w.cfg.LargeTimeoutSecs, prompt)
			trace = appendVerdict(trace, w.cfg.LargeModel, large, err)
			if err != nil {
				lastErr = err
				state = stateFailed
				break
			}
			result = large
			state = stateDone
		}
	}

	if state == stateFailed {
		reason := model.ReasonModelTimeout
		switch {
		case small != nil && medium != nil:
			reason = model.ReasonDisagreement
		case isUnparseable(lastErr):
			reason = model.ReasonUnparseable
		}
		return w.fail(item, reason, text, trace)
	}

	if err := Complete(w.store, item, model.PhaseLocal, result.Kind, result.Fields, result.Confidence, trace, text); err != nil {
		return OutcomeFailed, err
	}
	w.log.Info("resolved",
		zap.String("item", item.ID),
		zap.String("kind", string(result.Kind)),
		zap.String("model", result.Model),
		zap.Int("models_consulted", len(trace)))
	return OutcomeArtifact, nil
}

// ask runs one model with its timeout and a single reprompt retry when the
// answer cannot be decoded.
func (w *LocalWorker) ask(ctx context.Context, modelName string, timeoutSecs int, prompt string) (*model.Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := w.client.Generate(callCtx, localinfer.GenerateRequest{
			Model:  modelName,
			Prompt: prompt,
			Format: "json",
		})
		if err != nil {
			return nil, err
		}
		verdict, err := parseVerdict(modelName, resp.Response)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		w.log.Debug("unparseable answer, reprompting",
			zap.String("model", modelName), zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

// itemText prefers the full envelope body and falls back to whatever
// snippet phase 1 managed to extract before failing.
func (w *LocalWorker) itemText(item *model.WorkItem) string {
	if body := strings.TrimSpace(item.Envelope.Body); body != "" {
		return body
	}
	recs, err := w.store.ReadFailures(model.PhaseLayout)
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

func (w *LocalWorker) fail(item *model.WorkItem, reason model.FailureReason, text string, trace []model.Verdict) (Outcome, error) {
	w.log.Warn("escalation failed",
		zap.String("item", item.ID),
		zap.String("reason", string(reason)),
		zap.Int("models_consulted", len(trace)))
	err := w.store.AppendFailure(model.FailureRecord{
		ItemID:      item.ID,
		Phase:       model.PhaseLocal,
		Reason:      reason,
		TextSnippet: clipRunes(text, failureSnippetChars),
		FailedAt:    time.Now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFailed, nil
}

// appendVerdict records one model's answer, successful or not, on the
// escalation trace.
func appendVerdict(trace []model.Verdict, modelName string, v *model.Verdict, err error) []model.Verdict {
	if v != nil {
		return append(trace, *v)
	}
	entry := model.Verdict{Model: modelName}
	if err != nil {
		entry.Err = err.Error()
	}
	return append(trace, entry)
}
