// Package ocr extracts text from attachment blobs. The heavy lifting is
// delegated to an external engine (a local pdftotext binary or a remote
// layout/OCR service); spreadsheets are read directly.
package ocr

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/config"
)

// ErrTimeout is returned when the engine did not answer within the
// per-attachment budget. The worker maps it to the ocr_timeout failure.
var ErrTimeout = errors.New("ocr: extraction timed out")

// Result is the engine's best-effort answer for one attachment.
type Result struct {
	Text       string
	Confidence float64
	Language   string
}

// Extractor extracts text content from one attachment file.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Engine routes attachments to the right extractor by file type and
// enforces the per-attachment timeout.
type Engine struct {
	pdf     Extractor
	sheet   Extractor
	timeout time.Duration
}

// NewEngine creates an Engine based on config.
func NewEngine(cfg config.OCRConfig) (*Engine, error) {
	var pdf Extractor
	switch cfg.Provider {
	case "local", "":
		pdf = NewPdfToText(cfg.PdfToTextPath, cfg.MaxPages)
	case "remote":
		if cfg.Endpoint == "" {
			return nil, eris.New("ocr: remote provider requires endpoint")
		}
		pdf = NewRemote(cfg.Endpoint, cfg.MaxPages)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Engine{
		pdf:     pdf,
		sheet:   NewSheetReader(),
		timeout: timeout,
	}, nil
}

// Extract runs the appropriate extractor for the attachment within the
// per-attachment timeout.
func (e *Engine) Extract(ctx context.Context, path string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res *Result
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		res, err = e.pdf.Extract(ctx, path)
	case ".xlsx":
		res, err = e.sheet.Extract(ctx, path)
	case ".txt", ".csv":
		res, err = readPlainFile(path)
	default:
		// Images and unknown binary formats go through the PDF/OCR engine,
		// which handles raster input.
		res, err = e.pdf.Extract(ctx, path)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return res, nil
}
