// Package paperless is a client for the Paperless-ngx REST API, the
// delivery target for finished artifacts. It covers document upload,
// checksum-based dedup lookup, custom fields, and the correspondent and tag
// vocabularies.
package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/resilience"
)

// Client defines the Paperless operations used by delivery and the
// correspondent merger.
type Client interface {
	Ping(ctx context.Context) error

	FindDocumentByChecksum(ctx context.Context, md5 string) (*Document, error)
	UploadDocument(ctx context.Context, req UploadRequest) (string, error)
	SetCustomFields(ctx context.Context, documentID int, values []CustomFieldValue) error
	SetCorrespondent(ctx context.Context, documentID, correspondentID int) error
	ListDocumentsByCorrespondent(ctx context.Context, correspondentID int) ([]Document, error)

	EnsureCustomField(ctx context.Context, name, dataType string) (int, error)
	EnsureTag(ctx context.Context, name string) (int, error)
	EnsureDocumentType(ctx context.Context, name string) (int, error)
	EnsureCorrespondent(ctx context.Context, name string) (int, error)

	ListCorrespondents(ctx context.Context) ([]Correspondent, error)
	DeleteCorrespondent(ctx context.Context, id int) error
}

// Document is the subset of document attributes delivery cares about.
type Document struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Checksum      string `json:"checksum"`
	Correspondent int    `json:"correspondent"`
}

// Correspondent is one entry in the correspondent vocabulary.
type Correspondent struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

// CustomFieldValue assigns a value to a custom field by field ID.
type CustomFieldValue struct {
	Field int `json:"field"`
	Value any `json:"value"`
}

// UploadRequest describes one document upload.
type UploadRequest struct {
	Path            string
	Title           string
	CorrespondentID int
	DocumentTypeID  int
	TagIDs          []int
}

type namedResource struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Paperless API client for the given instance URL and
// API token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, eris.Wrap(err, "paperless: marshal body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, eris.Wrap(err, "paperless: create request")
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "paperless: %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "paperless: read response")
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("paperless: %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return respBody, resp.StatusCode, resilience.NewTransientError(err, resp.StatusCode)
		}
		return respBody, resp.StatusCode, err
	}

	return respBody, resp.StatusCode, nil
}

// Ping verifies connectivity and credentials.
func (c *httpClient) Ping(ctx context.Context) error {
	q := url.Values{"page_size": {"1"}}
	_, _, err := c.do(ctx, http.MethodGet, "/api/documents/", q, nil)
	return err
}

// FindDocumentByChecksum returns the stored document with the given MD5
// content checksum, or nil when none exists.
func (c *httpClient) FindDocumentByChecksum(ctx context.Context, md5 string) (*Document, error) {
	q := url.Values{"checksum__iexact": {md5}}
	raw, _, err := c.do(ctx, http.MethodGet, "/api/documents/", q, nil)
	if err != nil {
		return nil, err
	}

	var p page[Document]
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrap(err, "paperless: decode documents page")
	}
	if len(p.Results) == 0 {
		return nil, nil
	}
	return &p.Results[0], nil
}

// UploadDocument posts the file as multipart form data and returns the
// consumption task ID.
func (c *httpClient) UploadDocument(ctx context.Context, req UploadRequest) (string, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return "", eris.Wrapf(err, "paperless: open %s", req.Path)
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("document", filepath.Base(req.Path))
	if err != nil {
		return "", eris.Wrap(err, "paperless: create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", eris.Wrap(err, "paperless: copy document")
	}

	if err := mw.WriteField("title", req.Title); err != nil {
		return "", eris.Wrap(err, "paperless: write title")
	}
	if req.CorrespondentID > 0 {
		if err := mw.WriteField("correspondent", strconv.Itoa(req.CorrespondentID)); err != nil {
			return "", eris.Wrap(err, "paperless: write correspondent")
		}
	}
	if req.DocumentTypeID > 0 {
		if err := mw.WriteField("document_type", strconv.Itoa(req.DocumentTypeID)); err != nil {
			return "", eris.Wrap(err, "paperless: write document type")
		}
	}
	for _, tag := range req.TagIDs {
		if err := mw.WriteField("tags", strconv.Itoa(tag)); err != nil {
			return "", eris.Wrap(err, "paperless: write tag")
		}
	}
	if err := mw.Close(); err != nil {
		return "", eris.Wrap(err, "paperless: close multipart")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/documents/post_document/", &buf)
	if err != nil {
		return "", eris.Wrap(err, "paperless: create upload request")
	}
	httpReq.Header.Set("Authorization", "Token "+c.token)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "paperless: upload")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "paperless: read upload response")
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		var taskID string
		if err := json.Unmarshal(respBody, &taskID); err != nil {
			// Older instances answer with a bare string body.
			taskID = string(respBody)
		}
		return taskID, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return "", resilience.NewTransientError(
			eris.Errorf("paperless: upload returned %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)
	default:
		return "", eris.Errorf("paperless: upload returned %d: %s", resp.StatusCode, string(respBody))
	}
}

// SetCustomFields patches the document's custom field values.
func (c *httpClient) SetCustomFields(ctx context.Context, documentID int, values []CustomFieldValue) error {
	path := fmt.Sprintf("/api/documents/%d/", documentID)
	_, _, err := c.do(ctx, http.MethodPatch, path, nil, map[string]any{"custom_fields": values})
	return err
}

// SetCorrespondent reassigns the document to another correspondent.
func (c *httpClient) SetCorrespondent(ctx context.Context, documentID, correspondentID int) error {
	path := fmt.Sprintf("/api/documents/%d/", documentID)
	_, _, err := c.do(ctx, http.MethodPatch, path, nil, map[string]any{"correspondent": correspondentID})
	return err
}

// ListDocumentsByCorrespondent pages through every document assigned to the
// correspondent.
func (c *httpClient) ListDocumentsByCorrespondent(ctx context.Context, correspondentID int) ([]Document, error) {
	var out []Document
	pageNum := 1
	for {
		q := url.Values{
			"correspondent__id": {strconv.Itoa(correspondentID)},
			"page":              {strconv.Itoa(pageNum)},
			"page_size":         {"100"},
		}
		raw, _, err := c.do(ctx, http.MethodGet, "/api/documents/", q, nil)
		if err != nil {
			return nil, err
		}
		var p page[Document]
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrap(err, "paperless: decode documents page")
		}
		out = append(out, p.Results...)
		if p.Next == "" {
			return out, nil
		}
		pageNum++
	}
}

// EnsureCustomField returns the ID of the named custom field, creating it
// when missing.
func (c *httpClient) EnsureCustomField(ctx context.Context, name, dataType string) (int, error) {
	return c.ensure(ctx, "/api/custom_fields/", name, map[string]any{"name": name, "data_type": dataType})
}

// EnsureTag returns the ID of the named tag, creating it when missing.
func (c *httpClient) EnsureTag(ctx context.Context, name string) (int, error) {
	return c.ensure(ctx, "/api/tags/", name, map[string]any{"name": name})
}

// EnsureDocumentType returns the ID of the named document type, creating it
// when missing.
func (c *httpClient) EnsureDocumentType(ctx context.Context, name string) (int, error) {
	return c.ensure(ctx, "/api/document_types/", name, map[string]any{"name": name})
}

// EnsureCorrespondent returns the ID of the named correspondent, creating
// it when missing.
func (c *httpClient) EnsureCorrespondent(ctx context.Context, name string) (int, error) {
	return c.ensure(ctx, "/api/correspondents/", name, map[string]any{"name": name})
}

// ensure implements get-or-create against a named vocabulary endpoint.
// Creation races between instances resolve by re-reading after a conflict.
func (c *httpClient) ensure(ctx context.Context, path, name string, createBody map[string]any) (int, error) {
	if id, err := c.lookup(ctx, path, name); err != nil {
		return 0, err
	} else if id > 0 {
		return id, nil
	}

	raw, status, err := c.do(ctx, http.MethodPost, path, nil, createBody)
	if err != nil {
		if status == http.StatusConflict || status == http.StatusBadRequest {
			// Another instance created it first.
			if id, lookupErr := c.lookup(ctx, path, name); lookupErr == nil && id > 0 {
				return id, nil
			}
		}
		return 0, err
	}

	var created namedResource
	if err := json.Unmarshal(raw, &created); err != nil {
		return 0, eris.Wrapf(err, "paperless: decode created resource %s", path)
	}
	return created.ID, nil
}

func (c *httpClient) lookup(ctx context.Context, path, name string) (int, error) {
	q := url.Values{"name__iexact": {name}}
	raw, _, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return 0, err
	}
	var p page[namedResource]
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, eris.Wrapf(err, "paperless: decode %s page", path)
	}
	for _, r := range p.Results {
		if r.Name == name {
			return r.ID, nil
		}
	}
	if len(p.Results) > 0 {
		return p.Results[0].ID, nil
	}
	return 0, nil
}

// ListCorrespondents pages through the full correspondent vocabulary.
func (c *httpClient) ListCorrespondents(ctx context.Context) ([]Correspondent, error) {
	var out []Correspondent
	pageNum := 1
	for {
		q := url.Values{
			"page":      {strconv.Itoa(pageNum)},
			"page_size": {"250"},
		}
		raw, _, err := c.do(ctx, http.MethodGet, "/api/correspondents/", q, nil)
		if err != nil {
			return nil, err
		}
		var p page[Correspondent]
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrap(err, "paperless: decode correspondents page")
		}
		out = append(out, p.Results...)
		if p.Next == "" {
			return out, nil
		}
		pageNum++
	}
}

// DeleteCorrespondent removes an empty correspondent after a merge.
func (c *httpClient) DeleteCorrespondent(ctx context.Context, id int) error {
	_, _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/correspondents/%d/", id), nil, nil)
	return err
}
