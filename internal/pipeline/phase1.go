package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/fields"
	"github.com/majlabs/docflow/internal/isdoc"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/ocr"
	"github.com/majlabs/docflow/internal/rules"
	"github.com/majlabs/docflow/internal/workstore"
)

// minUsableTextChars is the floor under which extracted text that matched
// no rule escalates as ocr_insufficient rather than unclassified.
const minUsableTextChars = 100

// failureSnippetChars bounds the text carried forward on a failure record;
// the store additionally enforces its own byte bound at append time.
const failureSnippetChars = 1500

// LayoutWorker is the phase-1 processor: parse the envelope, OCR the
// attachments, classify by rules, and either write the artifact or hand the
// item to local inference through the failure stream.
type LayoutWorker struct {
	store       *workstore.Store
	extractor   ocr.Extractor
	classifier  *rules.Classifier
	concurrency int
	log         *zap.Logger
}

// NewLayoutWorker wires the phase-1 processor. concurrency bounds the OCR
// fan-out per item.
func NewLayoutWorker(store *workstore.Store, extractor ocr.Extractor, classifier *rules.Classifier, concurrency int) *LayoutWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &LayoutWorker{
		store:       store,
		extractor:   extractor,
		classifier:  classifier,
		concurrency: concurrency,
		log:         zap.L().Named("phase1"),
	}
}

// Process implements Processor for one claimed item.
func (w *LayoutWorker) Process(ctx context.Context, item *model.WorkItem) (Outcome, error) {
	if err := eml.LoadItem(item); err != nil {
		w.log.Warn("envelope unreadable", zap.String("item", item.ID), zap.Error(err))
		return w.fail(item, model.ReasonOCRError, "")
	}

	text, reason := w.extractText(ctx, item)
	if reason != "" {
		return w.fail(item, reason, text)
	}

	// Rules run before the min-text gate: sender-matched notifications are
	// typically short-bodied, and the subject often carries the only
	// classifiable signal.
	classifyText := text
	if subj := strings.TrimSpace(item.Envelope.Subject); subj != "" {
		classifyText = subj + "\n\n" + text
	}
	verdict := w.classifier.Classify(item.Envelope.From.Email, classifyText)
	if verdict.Kind == model.KindUnknown {
		if len([]rune(strings.TrimSpace(text))) < minUsableTextChars {
			return w.fail(item, model.ReasonOCRInsufficient, text)
		}
		return w.fail(item, model.ReasonUnclassified, text)
	}

	fs := fields.Extract(text, &item.Envelope, verdict.Kind)
	if err := Complete(w.store, item, model.PhaseLayout, verdict.Kind, fs, verdict.Confidence, nil, text); err != nil {
		return OutcomeFailed, err
	}

	w.log.Info("classified",
		zap.String("item", item.ID),
		zap.String("kind", string(verdict.Kind)),
		zap.Float64("confidence", verdict.Confidence))
	return OutcomeArtifact, nil
}

// extractText concatenates the envelope body with every attachment's OCR
// text in envelope order. The first attachment error wins and becomes the
// item's failure reason.
func (w *LayoutWorker) extractText(ctx context.Context, item *model.WorkItem) (string, model.FailureReason) {
	texts := make([]string, len(item.Attachments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i := range item.Attachments {
		g.Go(func() error {
			res, err := w.extractor.Extract(gctx, item.Attachments[i].Path)
			if err != nil {
				return err
			}
			texts[i] = res.Text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, ocr.ErrTimeout) {
			return item.Envelope.Body, model.ReasonOCRTimeout
		}
		w.log.Warn("attachment extraction failed", zap.String("item", item.ID), zap.Error(err))
		return item.Envelope.Body, model.ReasonOCRError
	}

	parts := make([]string, 0, len(texts)+1)
	if body := strings.TrimSpace(item.Envelope.Body); body != "" {
		parts = append(parts, body)
	}
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), ""
}

func (w *LayoutWorker) fail(item *model.WorkItem, reason model.FailureReason, text string) (Outcome, error) {
	err := w.store.AppendFailure(model.FailureRecord{
		ItemID:      item.ID,
		Phase:       model.PhaseLayout,
		Reason:      reason,
		TextSnippet: clipRunes(text, failureSnippetChars),
		FailedAt:    time.Now().UTC(),
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFailed, nil
}

// Complete persists the artifact for a successfully analyzed item and,
// for accounting kinds, the companion ISDOC XML.
func Complete(store *workstore.Store, item *model.WorkItem, phase model.Phase, kind model.DocumentKind, fs model.FieldSet, confidence float64, trace []model.Verdict, text string) error {
	md5sum, err := contentMD5(item)
	if err != nil {
		return err
	}

	if kind.IsAccounting() {
		payload, err := isdoc.Emit(item.ID, kind, fs)
		if err == nil {
			if werr := store.WriteXML(item.ID, payload); werr != nil {
				return werr
			}
		} else {
			zap.L().Warn("isdoc emit skipped", zap.String("item", item.ID), zap.Error(err))
		}
	}

	return store.WriteArtifact(&model.Artifact{
		ItemID:          item.ID,
		Phase:           phase,
		Kind:            kind,
		Fields:          fs,
		RawTextSHA256:   textSHA256(text),
		ContentMD5:      md5sum,
		Confidence:      confidence,
		EscalationTrace: trace,
		ProcessedAt:     time.Now().UTC(),
	})
}
