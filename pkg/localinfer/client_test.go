package localinfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/resilience"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:14b", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)

		json.NewEncoder(w).Encode(GenerateResponse{ //nolint:errcheck
			Model:           req.Model,
			Response:        `{"doc_typ":"invoice"}`,
			Done:            true,
			PromptEvalCount: 812,
			EvalCount:       96,
		})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	resp, err := client.Generate(context.Background(), GenerateRequest{
		Model:  "qwen2.5:14b",
		Prompt: "Analyzuj tento email",
		Format: "json",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"doc_typ":"invoice"}`, resp.Response)
	assert.Equal(t, 96, resp.EvalCount)
}

func TestGenerate_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestGenerate_FatalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
