package workstore

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/model"
)

// lockRecord is the owner information written into a claim lock after
// exclusive-create succeeds.
type lockRecord struct {
	ItemID     string    `json:"item_id"`
	OwnerHost  string    `json:"owner_host"`
	InstanceID string    `json:"instance_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Claim represents a successfully acquired per-item, per-phase lock. The
// holder has the exclusive right to produce the item's artifact or failure
// record for that phase.
type Claim struct {
	store  *Store
	phase  model.Phase
	itemID string
	path   string
}

// ItemID returns the claimed item's ID.
func (c *Claim) ItemID() string {
	return c.itemID
}

// Release removes the lock. Called after the artifact or failure record is
// on disk, or when rolling back. Best effort: a lost lock is reclaimed by
// TTL anyway.
func (c *Claim) Release() {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("workstore: release lock failed",
			zap.String("item_id", c.itemID),
			zap.Error(err),
		)
	}
}

// TryClaim attempts to claim an item for a phase.
//
// It fails with ErrAlreadyDone when any phase up to and including phase has
// the item's artifact, and with ErrContended when another live worker holds
// the lock. A pre-existing lock older than the stale-lock TTL is deleted
// and the exclusive-create is re-attempted exactly once.
func (s *Store) TryClaim(phase model.Phase, itemID string) (*Claim, error) {
	if s.HasArtifact(itemID, phase) {
		return nil, ErrAlreadyDone
	}

	path := s.layout.LockPath(phase, itemID)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			rec := lockRecord{
				ItemID:     itemID,
				OwnerHost:  s.ownerHost,
				InstanceID: s.instanceID,
				AcquiredAt: time.Now().UTC(),
			}
			if encErr := json.NewEncoder(f).Encode(rec); encErr != nil {
				f.Close()
				_ = os.Remove(path)
				return nil, eris.Wrapf(encErr, "workstore: write lock %s", itemID)
			}
			if closeErr := f.Close(); closeErr != nil {
				_ = os.Remove(path)
				return nil, eris.Wrapf(closeErr, "workstore: close lock %s", itemID)
			}
			return &Claim{store: s, phase: phase, itemID: itemID, path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, eris.Wrapf(err, "workstore: create lock %s", itemID)
		}

		// Lock exists. Reclaim only if it has gone stale.
		info, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				// Holder released between our create and stat; retry.
				continue
			}
			return nil, eris.Wrapf(statErr, "workstore: stat lock %s", itemID)
		}
		if time.Since(info.ModTime()) < s.staleLockTTL {
			return nil, ErrContended
		}
		if attempt == 1 {
			break
		}

		zap.L().Info("workstore: reclaiming stale lock",
			zap.String("item_id", itemID),
			zap.Int("phase", int(phase)),
			zap.Time("lock_mtime", info.ModTime()),
		)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, eris.Wrapf(rmErr, "workstore: remove stale lock %s", itemID)
		}
	}

	return nil, ErrContended
}

// Refresh bumps the lock's mtime so long-running work is not reclaimed by
// another worker. Call between expensive analyzer steps.
func (c *Claim) Refresh() error {
	now := time.Now()
	if err := os.Chtimes(c.path, now, now); err != nil {
		return eris.Wrapf(err, "workstore: refresh lock %s", c.itemID)
	}
	return nil
}
