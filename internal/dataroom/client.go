package dataroom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DocumentsPath is the API route that lists data-room documents.
const DocumentsPath = "/api/v1/data-room/documents"

// Fetcher lists the documents offered to reviewers of one organization.
type Fetcher interface {
	ListDocuments(ctx context.Context, org string) (*DocumentListResponse, error)
}

// Client fetches document listings from the portal API.
type Client struct {
	BaseURL    string
	DefaultOrg string
	HTTPClient *http.Client
}

// NewClient creates a client for the API at baseURL. Requests without an
// organization use defaultOrg. timeout bounds each request at the transport
// level; zero means no timeout.
func NewClient(baseURL, defaultOrg string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		DefaultOrg: defaultOrg,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// DocumentsURL builds the listing URL for org. The reviewer flag is always
// set: the panel only ever runs on reviewer pages.
func (c *Client) DocumentsURL(org string) string {
	q := url.Values{}
	q.Set("org", ResolveOrg(org, c.DefaultOrg))
	q.Set("reviewer", "true")
	return c.BaseURL + DocumentsPath + "?" + q.Encode()
}

// ListDocuments issues a single GET for the organization's listing.
//
// Transport failures return *NetworkError. Non-2xx statuses, bodies that are
// not JSON, and bodies without a documents array return *ResponseError.
func (c *Client) ListDocuments(ctx context.Context, org string) (*DocumentListResponse, error) {
	endpoint := c.DocumentsURL(org)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ResponseError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	var env listEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &ResponseError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	if env.Documents == nil {
		return nil, &ResponseError{URL: endpoint, StatusCode: resp.StatusCode, Err: ErrMissingDocuments}
	}

	return &DocumentListResponse{Org: env.Org, Documents: *env.Documents}, nil
}
