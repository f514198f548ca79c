package paperless

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDocumentByChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/", r.URL.Path)
		require.Equal(t, "Token tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", r.URL.Query().Get("checksum__iexact"))

		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"count": 1,
			"results": []map[string]any{
				{"id": 42, "title": "Faktura 2024-001", "checksum": "d41d8cd98f00b204e9800998ecf8427e"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	doc, err := client.FindDocumentByChecksum(context.Background(), "d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 42, doc.ID)
}

func TestFindDocumentByChecksum_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"count": 0, "results": []any{}}) //nolint:errcheck
	}))
	defer srv.Close()

	doc, err := NewClient(srv.URL, "tok").FindDocumentByChecksum(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestUploadDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/post_document/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "Faktura 2024-001", r.FormValue("title"))
		assert.Equal(t, "7", r.FormValue("correspondent"))
		assert.ElementsMatch(t, []string{"3", "9"}, r.MultipartForm.Value["tags"])

		_, header, err := r.FormFile("document")
		require.NoError(t, err)
		assert.Equal(t, "doc.pdf", header.Filename)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode("task-uuid-1") //nolint:errcheck
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	task, err := NewClient(srv.URL, "tok").UploadDocument(context.Background(), UploadRequest{
		Path:            path,
		Title:           "Faktura 2024-001",
		CorrespondentID: 7,
		TagIDs:          []int{3, 9},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-uuid-1", task)
}

func TestEnsureTag_CreatesWhenMissing(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags/", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"count": 0, "results": []any{}}) //nolint:errcheck
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": 15, "name": posted["name"]}) //nolint:errcheck
		}
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok").EnsureTag(context.Background(), "ucetni")
	require.NoError(t, err)
	assert.Equal(t, 15, id)
	assert.Equal(t, "ucetni", posted["name"])
}

func TestEnsureTag_ExistingWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"count":   1,
			"results": []map[string]any{{"id": 4, "name": "ucetni"}},
		})
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok").EnsureTag(context.Background(), "ucetni")
	require.NoError(t, err)
	assert.Equal(t, 4, id)
}

func TestEnsure_CreationRaceFallsBackToLookup(t *testing.T) {
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets++
			if gets == 1 {
				json.NewEncoder(w).Encode(map[string]any{"count": 0, "results": []any{}}) //nolint:errcheck
				return
			}
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"count":   1,
				"results": []map[string]any{{"id": 8, "name": "Aukro"}},
			})
		case http.MethodPost:
			http.Error(w, `{"name":["already exists"]}`, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "tok").EnsureCorrespondent(context.Background(), "Aukro")
	require.NoError(t, err)
	assert.Equal(t, 8, id)
}

func TestSetCustomFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/documents/42/", r.URL.Path)

		var body struct {
			CustomFields []CustomFieldValue `json:"custom_fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.CustomFields, 2)
		assert.Equal(t, 3, body.CustomFields[0].Field)

		json.NewEncoder(w).Encode(map[string]any{"id": 42}) //nolint:errcheck
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok").SetCustomFields(context.Background(), 42, []CustomFieldValue{
		{Field: 3, Value: "invoice"},
		{Field: 5, Value: 1210.0},
	})
	require.NoError(t, err)
}

func TestListCorrespondents_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"count": 3,
				"next":  "http://x/api/correspondents/?page=2",
				"results": []map[string]any{
					{"id": 1, "name": "Aukro", "document_count": 12},
					{"id": 2, "name": "aukro cz", "document_count": 3},
				},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"count":   3,
				"results": []map[string]any{{"id": 3, "name": "O2", "document_count": 7}},
			})
		}
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL, "tok").ListCorrespondents(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "O2", list[2].Name)
}

func TestDeleteCorrespondent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/correspondents/8/", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "tok").DeleteCorrespondent(context.Background(), 8))
}
