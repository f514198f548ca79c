package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SheetReader renders spreadsheet attachments (bank statement exports,
// order lists) as tab-separated text so they flow through the same
// classification and field-extraction path as OCR output.
type SheetReader struct{}

// NewSheetReader creates a SheetReader.
func NewSheetReader() *SheetReader {
	return &SheetReader{}
}

// Extract reads every sheet and joins non-empty rows as tab-separated lines.
func (s *SheetReader) Extract(ctx context.Context, path string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: open xlsx %s", path)
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		if sheet.Name != "" {
			b.WriteString("## " + sheet.Name + "\n")
		}
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			empty := true
			for j, cell := range row.Cells {
				cells[j] = strings.TrimSpace(cell.String())
				if cells[j] != "" {
					empty = false
				}
			}
			if empty {
				continue
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteByte('\n')
		}
	}

	return &Result{Text: b.String(), Confidence: 1.0}, nil
}
