package review

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/workstore"
)

func newTestServer(t *testing.T) (*Server, *workstore.Store) {
	t.Helper()
	layout := workstore.NewLayout(t.TempDir())
	store := workstore.New(layout, "host-a", "1", workstore.DefaultStaleLockTTL)
	require.NoError(t, layout.EnsureDirs())
	return NewServer(store, config.ReviewConfig{Port: 8091}), store
}

func seedPending(t *testing.T, store *workstore.Store, id string) {
	t.Helper()
	dir := filepath.Join(store.Layout().InputDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	eml := "From: zahadny@odesilatel.cz\r\nTo: ucto@majlabs.cz\r\nSubject: Nejasný dokument\r\n\r\nnečitelný obsah\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message.eml"), []byte(eml), 0o644))

	require.NoError(t, store.AppendFailure(model.FailureRecord{
		ItemID:   id,
		Phase:    model.PhaseExternal,
		Reason:   model.ReasonUnparseable,
		FailedAt: time.Now().UTC(),
	}))
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PendingListsUnresolvedFailures(t *testing.T) {
	srv, store := newTestServer(t)
	seedPending(t, store, "item-a")
	seedPending(t, store, "item-b")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pending []PendingItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 2)
	assert.Equal(t, "item-a", pending[0].ItemID)
	assert.Equal(t, model.ReasonUnparseable, pending[0].Reason)
}

func TestServer_ItemDetail(t *testing.T) {
	srv, store := newTestServer(t)
	seedPending(t, store, "item-a")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/items/item-a", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail ItemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "Nejasný dokument", detail.Envelope.Subject)
	assert.Len(t, detail.FieldNames, len(model.FieldNames))
	assert.NotContains(t, detail.Kinds, "unknown")

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/items/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_VerdictWritesPhase4Artifact(t *testing.T) {
	srv, store := newTestServer(t)
	seedPending(t, store, "item-a")

	body := `{"doc_typ":"invoice","fields":{"cislo_dokumentu":"2024-042","castka_celkem":500.0}}`
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/review/items/item-a", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	art, err := store.ReadArtifact(model.PhaseReview, "item-a")
	require.NoError(t, err)
	assert.Equal(t, model.KindInvoice, art.Kind)
	assert.Equal(t, 1.0, art.Confidence)
	assert.Equal(t, "2024-042", art.Fields.Str("cislo_dokumentu"))

	// The resolved item drops off the queue.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/pending", nil))
	var pending []PendingItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Empty(t, pending)

	// A second verdict for the same item conflicts.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/review/items/item-a", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_VerdictRejectsUnknownKind(t *testing.T) {
	srv, store := newTestServer(t)
	seedPending(t, store, "item-a")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/review/items/item-a",
		strings.NewReader(`{"doc_typ":"memo"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, store.HasArtifact("item-a", model.PhaseReview))
}
