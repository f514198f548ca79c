package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/workstore"
)

func newTestStore(t *testing.T) *workstore.Store {
	t.Helper()
	layout := workstore.NewLayout(t.TempDir())
	store := workstore.New(layout, "host-a", "1", workstore.DefaultStaleLockTTL)
	require.NoError(t, layout.EnsureDirs())
	return store
}

// writeItem materializes one input item directory with a message and
// optional attachments, then returns the scanned skeleton.
func writeItem(t *testing.T, store *workstore.Store, id, body string, attachments map[string][]byte) model.WorkItem {
	t.Helper()
	dir := filepath.Join(store.Layout().InputDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	eml := fmt.Sprintf("From: Dodavatel s.r.o. <fakturace@dodavatel.cz>\r\n"+
		"To: ucto@majlabs.cz\r\n"+
		"Subject: Podklady\r\n"+
		"Date: Mon, 15 Dec 2024 10:00:00 +0100\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n%s\r\n", body)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message.eml"), []byte(eml), 0o644))
	for name, data := range attachments {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}

	items, err := store.Scan()
	require.NoError(t, err)
	for _, item := range items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("item %s not scanned", id)
	return model.WorkItem{}
}

func TestRunner_ProcessesEachItemOnce(t *testing.T) {
	store := newTestStore(t)
	a := writeItem(t, store, "item-a", "test", nil)
	b := writeItem(t, store, "item-b", "test", nil)

	var processed []string
	runner := NewRunner(store, model.PhaseLayout, nil)
	stats, err := runner.Run(context.Background(), []model.WorkItem{a, b}, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		processed = append(processed, item.ID)
		return OutcomeArtifact, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-a", "item-b"}, processed)
	assert.Equal(t, 2, stats.Claimed)
	assert.Equal(t, 2, stats.Artifacts)
}

func TestRunner_SkipsDoneAndContended(t *testing.T) {
	store := newTestStore(t)
	done := writeItem(t, store, "item-done", "test", nil)
	held := writeItem(t, store, "item-held", "test", nil)

	require.NoError(t, store.WriteArtifact(&model.Artifact{
		ItemID: done.ID, Phase: model.PhaseLayout, Kind: model.KindInvoice,
		Fields: model.NewFieldSet(), ProcessedAt: time.Now(),
	}))

	rival := workstore.New(store.Layout(), "host-b", "7", workstore.DefaultStaleLockTTL)
	claim, err := rival.TryClaim(model.PhaseLayout, held.ID)
	require.NoError(t, err)
	defer claim.Release()

	runner := NewRunner(store, model.PhaseLayout, nil)
	stats, err := runner.Run(context.Background(), []model.WorkItem{done, held}, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		t.Fatalf("processor must not run for %s", item.ID)
		return OutcomeFailed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Contended)
	assert.Zero(t, stats.Claimed)
}

func TestRunner_AbortsOnCancel(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-a", "test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(store, model.PhaseLayout, nil)
	stats, err := runner.Run(ctx, []model.WorkItem{item}, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		return OutcomeArtifact, nil
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Zero(t, stats.Claimed)
}

func TestRunner_AbortsOnThrottle(t *testing.T) {
	store := newTestStore(t)
	item := writeItem(t, store, "item-a", "test", nil)

	runner := NewRunner(store, model.PhaseLayout, func() bool { return true })
	_, err := runner.Run(context.Background(), []model.WorkItem{item}, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		return OutcomeArtifact, nil
	})
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRunner_GivesUpAfterConsecutiveStoreErrors(t *testing.T) {
	store := newTestStore(t)
	items := []model.WorkItem{
		writeItem(t, store, "item-a", "test", nil),
		writeItem(t, store, "item-b", "test", nil),
		writeItem(t, store, "item-c", "test", nil),
		writeItem(t, store, "item-d", "test", nil),
	}

	calls := 0
	runner := NewRunner(store, model.PhaseLayout, nil)
	_, err := runner.Run(context.Background(), items, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		calls++
		return OutcomeFailed, eris.New("disk gone")
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, maxConsecutiveStoreErrors, calls)
}

func TestRunner_ErrorCounterResetsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	items := []model.WorkItem{
		writeItem(t, store, "item-a", "test", nil),
		writeItem(t, store, "item-b", "test", nil),
		writeItem(t, store, "item-c", "test", nil),
		writeItem(t, store, "item-d", "test", nil),
	}

	calls := 0
	runner := NewRunner(store, model.PhaseLayout, nil)
	stats, err := runner.Run(context.Background(), items, func(ctx context.Context, item *model.WorkItem) (Outcome, error) {
		calls++
		if calls%2 == 0 {
			return OutcomeArtifact, nil
		}
		return OutcomeFailed, eris.New("flaky store")
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 2, stats.Artifacts)
	assert.Equal(t, 2, stats.Errors)
}

func TestSelectRange(t *testing.T) {
	items := []model.WorkItem{
		{ID: "a", Slot: 0}, {ID: "b", Slot: 1}, {ID: "c", Slot: 2}, {ID: "d", Slot: 3},
	}

	got := SelectRange(items, 1, 3)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	assert.Len(t, SelectRange(items, 0, 0), 4, "end <= 0 means unbounded")
	assert.Empty(t, SelectRange(items, 10, 20))
}

func TestItemsForFailures(t *testing.T) {
	items := []model.WorkItem{{ID: "a", Slot: 0}, {ID: "b", Slot: 1}}
	recs := []model.FailureRecord{
		{ItemID: "b"},
		{ItemID: "gone"},
		{ItemID: "a"},
		{ItemID: "b"}, // duplicate from a crashed retry
	}

	got := ItemsForFailures(items, recs)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID, "failure-stream order wins")
	assert.Equal(t, "a", got[1].ID)
}
