package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/pkg/cloudmodel"
)

// The full escalation path: phase 1 cannot read the scan, phase 2 models
// cannot settle the kind, and the external model finally resolves it. Each
// phase consumes the previous phase's failure stream.
func TestPipeline_EscalatesThroughAllPhases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := writeItem(t, store, "item-hard", "viz příloha", map[string][]byte{"scan.pdf": []byte("%PDF")})

	// Phase 1: blank scan, not enough text to classify.
	layout := NewLayoutWorker(store, &fakeExtractor{text: ""}, defaultClassifier(t), 2)
	stats, err := NewRunner(store, model.PhaseLayout, nil).
		Run(ctx, []model.WorkItem{item}, layout.Process)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Phase 2: small and medium disagree, large is down.
	client := newFakeLocal()
	client.script("small:7b", localReply{text: smallReceiptJSON})
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})
	client.script("large:32b", localReply{err: eris.New("connection refused")})

	phase1Failures, err := store.ReadFailures(model.PhaseLayout)
	require.NoError(t, err)
	local := NewLocalWorker(store, client, localCfg)
	stats, err = NewRunner(store, model.PhaseLocal, nil).
		Run(ctx, ItemsForFailures([]model.WorkItem{item}, phase1Failures), local.Process)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Phase 3: the external model settles it.
	cloud := &fakeCloud{resp: &cloudmodel.Response{
		Text: largeInvoiceJSON, InputTokens: 1000, OutputTokens: 200,
	}}
	phase2Failures, err := store.ReadFailures(model.PhaseLocal)
	require.NoError(t, err)
	external := NewExternalWorker(store, cloud, newTestGuard(t, 1_000_000), externalCfg)
	stats, err = NewRunner(store, model.PhaseExternal, nil).
		Run(ctx, ItemsForFailures([]model.WorkItem{item}, phase2Failures), external.Process)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Artifacts)

	art, err := store.ReadArtifact(model.PhaseExternal, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KindInvoice, art.Kind)
	assert.True(t, store.HasArtifact(item.ID, model.PhaseExternal))
}

// An item resolved by an earlier phase must be invisible to later phases
// even when its ID is still sitting on the failure stream.
func TestPipeline_LaterPhaseSkipsResolvedItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := writeItem(t, store, "item-soft", "viz příloha", nil)

	require.NoError(t, store.AppendFailure(model.FailureRecord{
		ItemID: item.ID, Phase: model.PhaseLayout, Reason: model.ReasonOCRInsufficient,
	}))

	// Phase 2 resolves the item.
	client := newFakeLocal()
	client.script("small:7b", localReply{text: smallInvoiceJSON})
	client.script("medium:14b", localReply{text: mediumInvoiceJSON})
	local := NewLocalWorker(store, client, localCfg)
	stats, err := NewRunner(store, model.PhaseLocal, nil).
		Run(ctx, []model.WorkItem{item}, local.Process)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Artifacts)

	// A rerun of phase 2 over the same failure stream does nothing.
	stats, err = NewRunner(store, model.PhaseLocal, nil).
		Run(ctx, []model.WorkItem{item}, local.Process)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, client.calls["small:7b"], "models are not consulted again")
}
