package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath  string
	maxPages int
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used; maxPages <= 0 means no page budget.
func NewPdfToText(binPath string, maxPages int) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, maxPages: maxPages}
}

// Extract runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) Extract(ctx context.Context, pdfPath string) (*Result, error) {
	args := []string{"-layout"}
	if p.maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(p.maxPages))
	}
	args = append(args, pdfPath, "-")

	cmd := exec.CommandContext(ctx, p.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	return &Result{Text: stdout.String(), Confidence: 1.0}, nil
}

func readPlainFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read %s", path)
	}
	return &Result{Text: string(data), Confidence: 1.0}, nil
}
