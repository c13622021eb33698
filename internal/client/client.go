// Package client talks to the import API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"billdesk/api/internal/importer"
)

// APIError is a non-2xx response from the import API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("import api %d: %s", e.Status, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("import api %d %s: %s", e.Status, e.Code, e.Message)
	}
	if len(e.Details) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Details))
	for key := range e.Details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Details[key])
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

type Client struct {
	baseURL string
	hc      *http.Client
}

// New returns a client for the API at baseURL. A nil httpClient gets a 30s
// timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: httpClient}
}

type sessionEnvelope struct {
	Success bool                   `json:"success"`
	Session importer.ImportSession `json:"session"`
}

func (c *Client) UploadImport(ctx context.Context, data []byte, filename string, threshold float64) (importer.ImportSession, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return importer.ImportSession{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return importer.ImportSession{}, fmt.Errorf("build upload: %w", err)
	}
	if threshold > 0 {
		if err := writer.WriteField("autoApproveThreshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
			return importer.ImportSession{}, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return importer.ImportSession{}, fmt.Errorf("build upload: %w", err)
	}

	var out sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/imports", writer.FormDataContentType(), &body, &out); err != nil {
		return importer.ImportSession{}, err
	}
	return out.Session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (importer.ImportSession, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/imports/"+url.PathEscape(sessionID), "", nil, &out); err != nil {
		return importer.ImportSession{}, err
	}
	return out.Session, nil
}

func (c *Client) ReviewProposals(ctx context.Context, sessionID string, reviews []importer.Review) (importer.ImportSession, error) {
	payload, err := json.Marshal(map[string]any{"reviews": reviews})
	if err != nil {
		return importer.ImportSession{}, fmt.Errorf("encode reviews: %w", err)
	}
	var out sessionEnvelope
	path := "/api/imports/" + url.PathEscape(sessionID) + "/review"
	if err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), &out); err != nil {
		return importer.ImportSession{}, err
	}
	return out.Session, nil
}

// ApplyProposals returns the server's result as is, including success=false
// results; only transport failures and error statuses are errors.
func (c *Client) ApplyProposals(ctx context.Context, sessionID string, autoCreateProducts bool) (importer.ApplyResult, error) {
	payload, err := json.Marshal(map[string]bool{"autoCreateProducts": autoCreateProducts})
	if err != nil {
		return importer.ApplyResult{}, fmt.Errorf("encode apply: %w", err)
	}
	var out importer.ApplyResult
	path := "/api/imports/" + url.PathEscape(sessionID) + "/apply"
	if err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), &out); err != nil {
		return importer.ApplyResult{}, err
	}
	return out, nil
}

func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	path := "/api/imports/" + url.PathEscape(sessionID) + "/cancel"
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

func (c *Client) SearchCustomers(ctx context.Context, term string) ([]importer.CustomerSearchResult, error) {
	query := url.Values{"q": {term}, "active": {"true"}}
	var out struct {
		Results []importer.CustomerSearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/customers/search?"+query.Encode(), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Code    string            `json:"code"`
			Error   string            `json:"error"`
			Details map[string]string `json:"details"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Code
			if payload.Error != "" {
				apiErr.Message = payload.Error
			}
			apiErr.Details = payload.Details
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ProposalDetails returns the per-proposal rejection reasons, if any.
func (e *APIError) ProposalDetails() map[string]string {
	return e.Details
}
