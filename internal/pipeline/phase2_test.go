package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/pkg/localinfer"
)

type localReply struct {
	text string
	err  error
}

// fakeLocal serves scripted replies per model name; the last reply repeats
// when the script runs out.
type fakeLocal struct {
	replies map[string][]localReply
	calls   map[string]int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{replies: map[string][]localReply{}, calls: map[string]int{}}
}

func (f *fakeLocal) script(model string, replies ...localReply) {
	f.replies[model] = replies
}

func (f *fakeLocal) Generate(ctx context.Context, req localinfer.GenerateRequest) (*localinfer.GenerateResponse, error) {
	idx := f.calls[req.Model]
	f.calls[req.Model]++
	queue := f.replies[req.Model]
	if len(queue) == 0 {
		return nil, eris.Errorf("no script for model %s", req.Model)
	}
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	r := queue[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &localinfer.GenerateResponse{Model: req.Model, Response: r.text, Done: true}, nil
}

var localCfg = config.LocalInferConfig{
	SmallModel:        "small:7b",
	MediumModel:       "medium:14b",
	LargeModel:        "large:32b",
	SmallTimeoutSecs:  5,
	MediumTimeoutSecs: 5,
	LargeTimeoutSecs:  5,
}

const (
	smallInvoiceJSON  = `{"doc_typ":"invoice","protistrana_nazev":"Malý model s.r.o.","confidence":0.65}`
	mediumInvoiceJSON = `{"doc_typ":"invoice","protistrana_nazev":"Střední model a.s.","confidence":0.8}`
	smallReceiptJSON  = `{"doc_typ":"receipt","protistrana_nazev":"Benzina","confidence":0.6}`
	largeInvoiceJSON  = `{"doc_typ":"invoice","protistrana_nazev":"Velký model s.r.o.","castka_celkem":23000.0,"confidence":0.93}`
)

func TestLocalWorker_AgreementStopsAtMedium(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-a", invoiceBody, nil)

	client := newFakeLocal()
	client.script("small:7b", localReply{text: smallInvoiceJSON})
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})

	worker := NewLocalWorker(store, client, localCfg)
	outcome, err := worker.Process(context.Background(), &item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArtifact, outcome)
	assert.Zero(t, client.calls["large:32b"], "agreement must not consult the large model")

	art, err := store.ReadArtifact(model.PhaseLocal, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KindInvoice, art.Kind)
	assert.Equal(t, "Malý model s.r.o.", art.Fields.Str("protistrana_nazev"),
		"fields come from the earliest successful model")
	assert.Len(t, art.EscalationTrace, 2)
}

func TestLocalWorker_DisagreementResolvedByLarge(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-b", invoiceBody, nil)

	client := newFakeLocal()
	client.script("small:7b", localReply{text: smallReceiptJSON})
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})
	client.script("large:32b", localReply{text: largeInvoiceJSON})

	worker := NewLocalWorker(store, client, localCfg)
	outcome, err := worker.Process(context.Background(), &item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArtifact, outcome)

	art, err := store.ReadArtifact(model.PhaseLocal, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KindInvoice, art.Kind)
	assert.Equal(t, "Velký model s.r.o.", art.Fields.Str("protistrana_nazev"),
		"escalated result carries the large model's fields")

	require.Len(t, art.EscalationTrace, 3)
	assert.Equal(t, model.KindReceipt, art.EscalationTrace[0].Kind)
	assert.Equal(t, model.KindInvoice, art.EscalationTrace[1].Kind)
	assert.Equal(t, model.KindInvoice, art.EscalationTrace[2].Kind)
}

func TestLocalWorker_UnresolvedDisagreementFails(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-c", invoiceBody, nil)

	client := newFakeLocal()
	client.script("small:7b", localReply{text: smallReceiptJSON})
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})
	client.script("large:32b", localReply{err: eris.New("model crashed")})

	worker := NewLocalWorker(store, client, localCfg)
	outcome, err := worker.Process(context.Background(), &item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	recs, err := store.ReadFailures(model.PhaseLocal)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonDisagreement, recs[0].Reason)
}

func TestLocalWorker_UnparseableSmallRepromptedOnce(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-d", invoiceBody, nil)

	client := newFakeLocal()
	client.script("small:7b",
		localReply{text: "nevím, co to je"},
		localReply{text: "stále netuším"},
	)
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})
	client.script("large:32b", localReply{text: largeInvoiceJSON})

	worker := NewLocalWorker(store, client, localCfg)
	outcome, err := worker.Process(context.Background(), &item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArtifact, outcome)
	assert.Equal(t, 2, client.calls["small:7b"], "one reprompt for unparseable output")
	assert.Equal(t, 1, client.calls["large:32b"], "no small verdict to agree with")

	art, err := store.ReadArtifact(model.PhaseLocal, item.ID)
	require.NoError(t, err)
	require.Len(t, art.EscalationTrace, 3)
	assert.NotEmpty(t, art.EscalationTrace[0].Err)
}

func TestLocalWorker_AllModelsTimeOutFails(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-e", invoiceBody, nil)

	client := newFakeLocal()
	client.script("small:7b", localReply{err: context.DeadlineExceeded})
	client.script("medium:14b", localReply{err: context.DeadlineExceeded})
	client.script("large:32b", localReply{err: context.DeadlineExceeded})

	worker := NewLocalWorker(store, client, localCfg)
	outcome, err := worker.Process(context.Background(), &item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	recs, err := store.ReadFailures(model.PhaseLocal)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonModelTimeout, recs[0].Reason)
}
