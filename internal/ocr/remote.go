package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/resilience"
)

// Remote extracts text via the external layout/OCR HTTP engine.
type Remote struct {
	endpoint string
	maxPages int
	client   *http.Client
}

// NewRemote creates a Remote extractor for the given engine endpoint.
func NewRemote(endpoint string, maxPages int) *Remote {
	return &Remote{
		endpoint: endpoint,
		maxPages: maxPages,
		// Timeout is enforced per call via context; the engine contract
		// says it never hangs past its deadline.
		client: &http.Client{},
	}
}

type remoteRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
	MaxPages int    `json:"max_pages,omitempty"`
}

type remoteResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Error      string  `json:"error,omitempty"`
}

// Extract uploads the blob and returns the engine's text.
func (r *Remote) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read %s", path)
	}

	body, err := json.Marshal(remoteRequest{
		Filename: path,
		Content:  base64.StdEncoding.EncodeToString(data),
		MaxPages: r.maxPages,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, eris.Wrap(err, "ocr: engine call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read engine response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: engine returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out remoteResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "ocr: decode engine response")
	}
	if out.Error != "" {
		return nil, eris.Errorf("ocr: engine error: %s", out.Error)
	}

	return &Result{Text: out.Text, Confidence: out.Confidence, Language: out.Language}, nil
}
