package workstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/model"
)

var (
	// ErrAlreadyDone means an earlier phase already produced the item's
	// artifact; the item is silently skipped.
	ErrAlreadyDone = errors.New("workstore: artifact already exists")

	// ErrContended means another live worker holds the item's lock; the
	// item is silently skipped.
	ErrContended = errors.New("workstore: lock held by another worker")
)

// DefaultStaleLockTTL is how old an unrefreshed lock must be before it is
// treated as abandoned and reclaimed.
const DefaultStaleLockTTL = 10 * time.Minute

// Store is the per-process handle on the shared work store.
type Store struct {
	layout       Layout
	ownerHost    string
	instanceID   string
	staleLockTTL time.Duration
}

// New creates a Store. ownerHost and instanceID identify this worker in
// lock records; ttl <= 0 selects DefaultStaleLockTTL.
func New(layout Layout, ownerHost, instanceID string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStaleLockTTL
	}
	return &Store{
		layout:       layout,
		ownerHost:    ownerHost,
		instanceID:   instanceID,
		staleLockTTL: ttl,
	}
}

// Layout returns the store's path layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// Scan enumerates the input tree into a stable ordered item list. Each
// immediate subdirectory of input/ is one work item; the directory name is
// the item ID and the sorted position is the slot. Only the skeleton is
// filled; envelope and attachments are loaded lazily by the phase-1 worker.
func (s *Store) Scan() ([]model.WorkItem, error) {
	entries, err := os.ReadDir(s.layout.InputDir())
	if err != nil {
		return nil, eris.Wrap(err, "workstore: read input dir")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	items := make([]model.WorkItem, len(ids))
	for i, id := range ids {
		items[i] = model.WorkItem{
			ID:   id,
			Slot: i,
			Dir:  filepath.Join(s.layout.InputDir(), id),
		}
	}
	return items, nil
}

// HasArtifact reports whether any phase up to and including upTo has
// produced an artifact for the item.
func (s *Store) HasArtifact(itemID string, upTo model.Phase) bool {
	for _, p := range model.AnalyzerPhases {
		if p > upTo {
			break
		}
		if _, err := os.Stat(s.layout.ArtifactPath(p, itemID)); err == nil {
			return true
		}
	}
	return false
}

// ReadArtifact loads the artifact an analyzer phase wrote for the item, or
// ErrNotExist when the phase has none.
func (s *Store) ReadArtifact(phase model.Phase, itemID string) (*model.Artifact, error) {
	data, err := os.ReadFile(s.layout.ArtifactPath(phase, itemID))
	if err != nil {
		return nil, eris.Wrapf(err, "workstore: read artifact %s phase %d", itemID, phase)
	}
	var a model.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrapf(err, "workstore: decode artifact %s", itemID)
	}
	return &a, nil
}

// WriteArtifact publishes an artifact via write-temp-then-rename so readers
// never observe a partial file. The caller must hold the item's claim.
func (s *Store) WriteArtifact(a *model.Artifact) error {
	if a.ProcessedAt.IsZero() {
		a.ProcessedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "workstore: encode artifact %s", a.ItemID)
	}

	final := s.layout.ArtifactPath(a.Phase, a.ItemID)
	tmp := final + ".tmp." + s.instanceID
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "workstore: write artifact temp %s", a.ItemID)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "workstore: publish artifact %s", a.ItemID)
	}
	return nil
}

// RemoveArtifact rolls back a partially published artifact after an I/O
// error. Best effort.
func (s *Store) RemoveArtifact(phase model.Phase, itemID string) {
	_ = os.Remove(s.layout.ArtifactPath(phase, itemID))
}

// ListArtifacts returns all artifacts a phase has produced, ordered by item ID.
func (s *Store) ListArtifacts(phase model.Phase) ([]model.Artifact, error) {
	entries, err := os.ReadDir(s.layout.ResultsDir(phase))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "workstore: list artifacts phase %d", phase)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	artifacts := make([]model.Artifact, 0, len(names))
	for _, name := range names {
		itemID := strings.TrimSuffix(name, ".json")
		a, err := s.ReadArtifact(phase, itemID)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, nil
}

// CountArtifacts returns the number of artifacts a phase has produced.
func (s *Store) CountArtifacts(phase model.Phase) int {
	entries, err := os.ReadDir(s.layout.ResultsDir(phase))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

// WriteXML publishes a structured-document payload via temp-then-rename.
func (s *Store) WriteXML(itemID string, payload []byte) error {
	final := s.layout.XMLPath(itemID)
	tmp := final + ".tmp." + s.instanceID
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return eris.Wrapf(err, "workstore: write xml temp %s", itemID)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "workstore: publish xml %s", itemID)
	}
	return nil
}

// MarkPhaseDone writes the phase's marker file, signalling that its failure
// stream has been fully consumed by the next phase's launcher.
func (s *Store) MarkPhaseDone(phase model.Phase) error {
	f, err := os.OpenFile(s.layout.MarkerPath(phase), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "workstore: write marker phase %d", phase)
	}
	return f.Close()
}

// PhaseDone reports whether the phase's marker file exists.
func (s *Store) PhaseDone(phase model.Phase) bool {
	_, err := os.Stat(s.layout.MarkerPath(phase))
	return err == nil
}
