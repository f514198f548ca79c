// Package review serves the phase-4 manual-review HTTP API: listing items
// the automated phases gave up on and accepting human verdicts for them.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/config"
	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/model"
	"github.com/majlabs/docflow/internal/pipeline"
	"github.com/majlabs/docflow/internal/workstore"
)

// PendingItem is one entry in the review queue.
type PendingItem struct {
	ItemID   string              `json:"item_id"`
	Reason   model.FailureReason `json:"reason"`
	Snippet  string              `json:"snippet,omitempty"`
	FailedAt time.Time           `json:"failed_at"`
}

// ItemDetail is the full context a reviewer sees for one item.
type ItemDetail struct {
	PendingItem
	Envelope    model.Envelope `json:"envelope"`
	Attachments []string       `json:"attachments,omitempty"`
	FieldNames  []string       `json:"field_names"`
	Kinds       []string       `json:"kinds"`
}

// VerdictRequest is the reviewer's submitted classification.
type VerdictRequest struct {
	Kind   string         `json:"doc_typ"`
	Fields map[string]any `json:"fields"`
}

// Server is the manual-review HTTP server.
type Server struct {
	store *workstore.Store
	cfg   config.ReviewConfig
	log   *zap.Logger
}

func NewServer(store *workstore.Store, cfg config.ReviewConfig) *Server {
	return &Server{store: store, cfg: cfg, log: zap.L().Named("review")}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/review", func(r chi.Router) {
		r.Get("/pending", s.handlePending)
		r.Get("/items/{itemID}", s.handleItem)
		r.Post("/items/{itemID}", s.handleVerdict)
	})
	return r
}

// ListenAndServe blocks serving the review API on the configured port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("review server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePending lists phase-3 failures that no phase has resolved yet.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.pending()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	pending, err := s.pending()
	if err != nil {
		s.fail(w, err)
		return
	}

	var entry *PendingItem
	for i := range pending {
		if pending[i].ItemID == itemID {
			entry = &pending[i]
			break
		}
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not pending review"})
		return
	}

	item := model.WorkItem{ID: itemID, Dir: filepath.Join(s.store.Layout().InputDir(), itemID)}
	if err := eml.LoadItem(&item); err != nil {
		s.fail(w, err)
		return
	}

	detail := ItemDetail{
		PendingItem: *entry,
		Envelope:    item.Envelope,
		FieldNames:  model.FieldNames,
	}
	for _, att := range item.Attachments {
		detail.Attachments = append(detail.Attachments, att.Filename)
	}
	for _, k := range model.AllKinds {
		if k != model.KindUnknown {
			detail.Kinds = append(detail.Kinds, string(k))
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleVerdict records the reviewer's decision as the item's phase-4
// artifact, under the same claim protocol the automated phases use.
func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req VerdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	kind := model.ParseKind(strings.TrimSpace(req.Kind))
	if kind == model.KindUnknown {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown doc_typ"})
		return
	}

	claim, err := s.store.TryClaim(model.PhaseReview, itemID)
	switch {
	case errors.Is(err, workstore.ErrAlreadyDone):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "item already resolved"})
		return
	case errors.Is(err, workstore.ErrContended):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "another reviewer holds this item"})
		return
	case err != nil:
		s.fail(w, err)
		return
	}
	defer claim.Release()

	item := model.WorkItem{ID: itemID, Dir: filepath.Join(s.store.Layout().InputDir(), itemID)}
	if err := eml.LoadItem(&item); err != nil {
		s.fail(w, err)
		return
	}

	fs := model.NewFieldSet()
	for _, name := range model.FieldNames {
		if v, ok := req.Fields[name]; ok && v != nil {
			fs[name] = v
		}
	}
	fs["doc_typ"] = string(kind)
	if fs["kategorie"] == nil {
		fs["kategorie"] = kind.Category()
	}

	// Reviewed verdicts are authoritative.
	if err := pipeline.Complete(s.store, &item, model.PhaseReview, kind, fs, 1.0, nil, item.Envelope.Body); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("review verdict recorded",
		zap.String("item", itemID), zap.String("kind", string(kind)))
	writeJSON(w, http.StatusCreated, map[string]string{"item_id": itemID, "doc_typ": string(kind)})
}

// pending is the phase-3 failure stream minus items any phase has since
// resolved.
func (s *Server) pending() ([]PendingItem, error) {
	recs, err := s.store.ReadFailures(model.PhaseExternal)
	if err != nil {
		return nil, err
	}

	out := make([]PendingItem, 0, len(recs))
	seen := map[string]bool{}
	for _, rec := range recs {
		if seen[rec.ItemID] || s.store.HasArtifact(rec.ItemID, model.PhaseReview) {
			continue
		}
		seen[rec.ItemID] = true
		out = append(out, PendingItem{
			ItemID:   rec.ItemID,
			Reason:   rec.Reason,
			Snippet:  rec.TextSnippet,
			FailedAt: rec.FailedAt,
		})
	}
	return out, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("review request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
