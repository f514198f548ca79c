package pipeline

import (
	"crypto/md5" //nolint:gosec // dedup key, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/eml"
	"github.com/majlabs/docflow/internal/model"
)

// contentMD5 computes the dedup key the delivery target indexes on. It
// hashes exactly the blob delivery uploads: the primary PDF, then the
// first attachment, then the raw message file. The target checksums the
// uploaded bytes, so any other basis would never match on redelivery.
func contentMD5(item *model.WorkItem) (string, error) {
	if att := primaryAttachment(item); att != nil {
		return fileMD5(att.Path)
	}
	return fileMD5(filepath.Join(item.Dir, eml.EnvelopeFilename))
}

// primaryAttachment picks the first PDF, falling back to the first
// attachment of any type.
func primaryAttachment(item *model.WorkItem) *model.Attachment {
	for i := range item.Attachments {
		if strings.HasSuffix(strings.ToLower(item.Attachments[i].Filename), ".pdf") {
			return &item.Attachments[i]
		}
	}
	if len(item.Attachments) > 0 {
		return &item.Attachments[0]
	}
	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "pipeline: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func textSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
