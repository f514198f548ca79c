// Package workstore implements the shared-filesystem work store that
// coordinates pipeline instances across hosts: input enumeration, per-phase
// artifacts, append-only failure streams, claim locks, and phase markers.
// Exclusive-create on the lock path is the only coordination primitive; no
// broker or coordinator process is involved.
package workstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/model"
)

// Layout resolves the well-known subpaths of the work store root.
type Layout struct {
	Root string
}

// NewLayout creates a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: dir}
}

// InputDir holds one directory per work item (envelope + attachments).
func (l Layout) InputDir() string {
	return filepath.Join(l.Root, "input")
}

// ResultsDir holds one artifact JSON file per item for the given phase.
func (l Layout) ResultsDir(phase model.Phase) string {
	return filepath.Join(l.Root, "results", fmt.Sprintf("phase%d", phase))
}

// ArtifactPath is the artifact file for an item in a phase.
func (l Layout) ArtifactPath(phase model.Phase, itemID string) string {
	return filepath.Join(l.ResultsDir(phase), itemID+".json")
}

// FailureStream is the append-only newline-delimited failure file for a phase.
func (l Layout) FailureStream(phase model.Phase) string {
	return filepath.Join(l.Root, "failed", fmt.Sprintf("phase%d.jsonl", phase))
}

// DeferredStream holds quota-deferred items for a phase.
func (l Layout) DeferredStream(phase model.Phase) string {
	return filepath.Join(l.Root, "failed", fmt.Sprintf("phase%d.deferred.jsonl", phase))
}

// LockDir holds per-item claim locks for a phase.
func (l Layout) LockDir(phase model.Phase) string {
	return filepath.Join(l.Root, "locks", fmt.Sprintf("phase%d", phase))
}

// LockPath is the claim lock for an item in a phase.
func (l Layout) LockPath(phase model.Phase, itemID string) string {
	return filepath.Join(l.LockDir(phase), itemID)
}

// XMLPath is the structured-document payload for an accounting-kind item.
func (l Layout) XMLPath(itemID string) string {
	return filepath.Join(l.Root, "xml", itemID+".xml")
}

// MarkerPath is the phase-done marker, written when the phase's failure
// stream has been fully consumed by the next phase's launcher.
func (l Layout) MarkerPath(phase model.Phase) string {
	return filepath.Join(l.Root, "markers", fmt.Sprintf("phase%d.done", phase))
}

// EnsureDirs creates every well-known directory. Safe to call from
// concurrent instances; MkdirAll tolerates races.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.InputDir(),
		filepath.Join(l.Root, "failed"),
		filepath.Join(l.Root, "xml"),
		filepath.Join(l.Root, "markers"),
	}
	for _, p := range model.AnalyzerPhases {
		dirs = append(dirs, l.ResultsDir(p), l.LockDir(p))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "workstore: mkdir %s", dir)
		}
	}
	return nil
}
