// Package delivery pushes finished artifacts to the downstream
// document-management service, idempotently.
package delivery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/correspondent"
	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/resilience"
	"github.com/majlabs/docflow/internal/workstore"
	"github.com/majlabs/docflow/pkg/paperless"
)

// kindLabels maps each kind to the target's document-type vocabulary.
var kindLabels = map[model.DocumentKind]string{
	model.KindInvoice:            "Faktura",
	model.KindReceipt:            "Účtenka",
	model.KindTaxDocument:        "Daňový doklad",
	model.KindBankStatement:      "Bankovní výpis",
	model.KindOrder:              "Objednávka",
	model.KindContract:           "Smlouva",
	model.KindParkingTicket:      "Parkovací lístek",
	model.KindCarService:         "Autoservis",
	model.KindCarWash:            "Myčka",
	model.KindGlassWork:          "Autosklo",
	model.KindProforma:           "Proforma faktura",
	model.KindDeliveryNote:       "Dodací list",
	model.KindPaymentDocument:    "Platební doklad",
	model.KindSystemNotification: "Systémová notifikace",
	model.KindMarketing:          "Marketing",
	model.KindCorrespondence:     "Korespondence",
	model.KindITNotes:            "IT poznámky",
	model.KindProjectNotes:       "Projektové poznámky",
}

// Report summarizes one delivery run.
type Report struct {
	Uploaded   int
	Duplicates int
	Patched    int
	Failed     int
}

// Deliverer runs phase 5. All create operations are preceded by a lookup,
// so replaying the same artifact set never duplicates documents, tags, or
// correspondents on the target.
type Deliverer struct {
	store    *workstore.Store
	client   paperless.Client
	mappings correspondent.Mappings
	cfg      config.DeliveryConfig
	retry    resilience.RetryConfig
	log      *zap.Logger

	// pollInterval paces the checksum re-query after an upload while the
	// target finishes consuming it.
	pollInterval time.Duration
	pollAttempts int

	mu       sync.Mutex
	fieldIDs map[string]int
}

func New(store *workstore.Store, client paperless.Client, mappings correspondent.Mappings, cfg config.DeliveryConfig) *Deliverer {
	retry := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoffSecs > 0 {
		retry.InitialBackoff = time.Duration(cfg.RetryBackoffSecs) * time.Second
	}
	return &Deliverer{
		store:        store,
		client:       client,
		mappings:     mappings,
		cfg:          cfg,
		retry:        retry,
		log:          zap.L().Named("delivery"),
		pollInterval: 2 * time.Second,
		pollAttempts: 15,
		fieldIDs:     map[string]int{},
	}
}

// Run delivers every artifact from every analyzer phase. Items fan out up
// to the configured limit; failures are recorded per item and do not stop
// the run.
func (d *Deliverer) Run(ctx context.Context) (*Report, error) {
	var arts []model.Artifact
	for _, phase := range model.AnalyzerPhases {
		phaseArts, err := d.store.ListArtifacts(phase)
		if err != nil {
			return nil, err
		}
		arts = append(arts, phaseArts...)
	}

	if err := d.ensureFields(ctx); err != nil {
		return nil, err
	}

	report := &Report{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	fanOut := d.cfg.FanOut
	if fanOut < 1 {
		fanOut = 1
	}
	g.SetLimit(fanOut)

	for i := range arts {
		art := arts[i]
		g.Go(func() error {
			uploaded, err := d.deliverOne(gctx, art)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				d.log.Error("delivery failed", zap.String("item", art.ItemID), zap.Error(err))
				if aerr := d.store.AppendFailure(model.FailureRecord{
					ItemID:   art.ItemID,
					Phase:    model.PhaseDelivery,
					Reason:   model.ReasonDeliveryFatal,
					FailedAt: time.Now().UTC(),
				}); aerr != nil {
					return aerr
				}
				return nil
			}
			if uploaded {
				report.Uploaded++
			} else {
				report.Duplicates++
			}
			report.Patched++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	d.log.Info("delivery finished",
		zap.Int("uploaded", report.Uploaded),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("patched", report.Patched),
		zap.Int("failed", report.Failed))
	return report, nil
}

// deliverOne pushes a single artifact. Returns whether a new document was
// uploaded (false when the content hash matched an existing one).
func (d *Deliverer) deliverOne(ctx context.Context, art model.Artifact) (bool, error) {
	item := model.WorkItem{
		ID:  art.ItemID,
		Dir: filepath.Join(d.store.Layout().InputDir(), art.ItemID),
	}
	if err := eml.LoadItem(&item); err != nil {
		return false, err
	}

	doc, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (*paperless.Document, error) {
		return d.client.FindDocumentByChecksum(ctx, art.ContentMD5)
	})
	if err != nil {
		return false, err
	}

	corrID, typeID, tagIDs, err := d.resolveVocabulary(ctx, &item, art)
	if err != nil {
		return false, err
	}

	uploaded := false
	if doc == nil {
		req := paperless.UploadRequest{
			Path:            documentPath(&item),
			Title:           documentTitle(&item, art),
			CorrespondentID: corrID,
			DocumentTypeID:  typeID,
			TagIDs:          tagIDs,
		}
		if err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
			_, uerr := d.client.UploadDocument(ctx, req)
			return uerr
		}); err != nil {
			return false, err
		}
		uploaded = true

		doc, err = d.awaitDocument(ctx, art.ContentMD5)
		if err != nil {
			return true, err
		}
		if doc == nil {
			d.log.Warn("document not indexed yet, fields follow on the next run",
				zap.String("item", art.ItemID))
			return true, nil
		}
	}

	if err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.client.SetCorrespondent(ctx, doc.ID, corrID)
	}); err != nil {
		return uploaded, err
	}
	if err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.client.SetCustomFields(ctx, doc.ID, d.fieldValues(art))
	}); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

// resolveVocabulary ensures the correspondent, document type, and tags the
// artifact needs exist on the target and returns their ids.
func (d *Deliverer) resolveVocabulary(ctx context.Context, item *model.WorkItem, art model.Artifact) (corrID, typeID int, tagIDs []int, err error) {
	sender := item.Envelope.From.Email
	if item.Envelope.From.Name != "" {
		sender = item.Envelope.From.Name + " <" + item.Envelope.From.Email + ">"
	}
	name := d.mappings.DisplayName(sender)
	if name == "" {
		name = item.Envelope.From.Email
	}

	corrID, err = resilience.DoVal(ctx, d.retry, func(ctx context.Context) (int, error) {
		return d.client.EnsureCorrespondent(ctx, name)
	})
	if err != nil {
		return 0, 0, nil, err
	}

	label, ok := kindLabels[art.Kind]
	if !ok {
		label = "Neznámý"
	}
	typeID, err = resilience.DoVal(ctx, d.retry, func(ctx context.Context) (int, error) {
		return d.client.EnsureDocumentType(ctx, label)
	})
	if err != nil {
		return 0, 0, nil, err
	}

	for _, tag := range []string{"docflow", art.Kind.Category()} {
		id, terr := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (int, error) {
			return d.client.EnsureTag(ctx, tag)
		})
		if terr != nil {
			return 0, 0, nil, terr
		}
		tagIDs = append(tagIDs, id)
	}
	return corrID, typeID, tagIDs, nil
}

// ensureFields resolves the custom-field vocabulary once per run.
func (d *Deliverer) ensureFields(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range model.FieldNames {
		if _, ok := d.fieldIDs[name]; ok {
			continue
		}
		dataType := "string"
		if name == "castka_celkem" {
			dataType = "float"
		}
		id, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (int, error) {
			return d.client.EnsureCustomField(ctx, name, dataType)
		})
		if err != nil {
			return err
		}
		d.fieldIDs[name] = id
	}
	return nil
}

func (d *Deliverer) fieldValues(art model.Artifact) []paperless.CustomFieldValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	values := make([]paperless.CustomFieldValue, 0, len(model.FieldNames))
	for _, name := range model.FieldNames {
		v := art.Fields[name]
		if v == nil {
			continue
		}
		values = append(values, paperless.CustomFieldValue{Field: d.fieldIDs[name], Value: v})
	}
	return values
}

// awaitDocument re-queries the checksum until the target has consumed the
// upload.
func (d *Deliverer) awaitDocument(ctx context.Context, md5 string) (*paperless.Document, error) {
	for attempt := 0; attempt < d.pollAttempts; attempt++ {
		doc, err := d.client.FindDocumentByChecksum(ctx, md5)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
	return nil, nil
}

// documentPath picks the blob to upload: the primary PDF, else the first
// attachment, else the raw message.
func documentPath(item *model.WorkItem) string {
	for _, att := range item.Attachments {
		if strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") {
			return att.Path
		}
	}
	if len(item.Attachments) > 0 {
		return item.Attachments[0].Path
	}
	return filepath.Join(item.Dir, eml.EnvelopeFilename)
}

func documentTitle(item *model.WorkItem, art model.Artifact) string {
	if s := art.Fields.Str("predmet"); s != "" {
		return s
	}
	if item.Envelope.Subject != "" {
		return item.Envelope.Subject
	}
	return fmt.Sprintf("%s %s", kindLabels[art.Kind], art.ItemID)
}
