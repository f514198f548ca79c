package workstore

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/model"
)

// maxFailureRecordBytes bounds one encoded failure record so a single
// append stays below the filesystem's atomic-write size. Interleaved
// writers on different hosts then cannot corrupt the stream.
const maxFailureRecordBytes = 4096

// AppendFailure appends a record to the phase's failure stream. The text
// snippet is truncated so the encoded line stays within the atomic-append
// bound. An item already on the stream keeps its original record, so a
// re-run of the phase leaves one record per failed item.
func (s *Store) AppendFailure(rec model.FailureRecord) error {
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}

	path := s.layout.FailureStream(rec.Phase)
	existing, err := s.readStream(path)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].ItemID == rec.ItemID {
			return nil
		}
	}

	line, err := encodeBounded(rec)
	if err != nil {
		return eris.Wrapf(err, "workstore: encode failure %s", rec.ItemID)
	}
	return s.appendLine(path, line)
}

// AppendDeferred appends a quota-deferred record to the phase's deferred
// queue; deferred items are re-fed to the same phase on the next run.
func (s *Store) AppendDeferred(rec model.FailureRecord) error {
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now().UTC()
	}
	line, err := encodeBounded(rec)
	if err != nil {
		return eris.Wrapf(err, "workstore: encode deferred %s", rec.ItemID)
	}
	return s.appendLine(s.layout.DeferredStream(rec.Phase), line)
}

func (s *Store) appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "workstore: open failure stream %s", path)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return eris.Wrapf(err, "workstore: append failure %s", path)
	}
	return nil
}

func encodeBounded(rec model.FailureRecord) ([]byte, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	// Leave room for the trailing newline.
	for len(line) >= maxFailureRecordBytes && len(rec.TextSnippet) > 0 {
		cut := len(rec.TextSnippet) / 2
		rec.TextSnippet = rec.TextSnippet[:cut]
		if line, err = json.Marshal(rec); err != nil {
			return nil, err
		}
	}
	return append(line, '\n'), nil
}

// ReadFailures loads the phase's failure stream in arrival order. Corrupt
// lines (torn writes from a crashed host) are skipped with a warning.
func (s *Store) ReadFailures(phase model.Phase) ([]model.FailureRecord, error) {
	return s.readStream(s.layout.FailureStream(phase))
}

// ReadDeferred loads the phase's deferred queue in arrival order.
func (s *Store) ReadDeferred(phase model.Phase) ([]model.FailureRecord, error) {
	return s.readStream(s.layout.DeferredStream(phase))
}

func (s *Store) readStream(path string) ([]model.FailureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "workstore: open failure stream %s", path)
	}
	defer f.Close()

	var records []model.FailureRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, maxFailureRecordBytes), maxFailureRecordBytes*2)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.FailureRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			zap.L().Warn("workstore: skipping corrupt failure record",
				zap.String("stream", path),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "workstore: read failure stream %s", path)
	}
	return records, nil
}

// CountFailures returns the number of records in the phase's failure stream.
func (s *Store) CountFailures(phase model.Phase) int {
	recs, err := s.ReadFailures(phase)
	if err != nil {
		return 0
	}
	return len(recs)
}

// CountDeferred returns the number of records in the phase's deferred queue.
func (s *Store) CountDeferred(phase model.Phase) int {
	recs, err := s.ReadDeferred(phase)
	if err != nil {
		return 0
	}
	return len(recs)
}
