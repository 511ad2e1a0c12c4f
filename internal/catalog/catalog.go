// Package catalog resolves processes and applications against the resource
// catalog and downloads their CWL application packages.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"go.uber.org/zap"
)

const (
	// maxRetries is the number of retries for idempotent downloads.
	maxRetries = 3
	// baseDelay and maxDelay bound the exponential jitter between retries.
	baseDelay = 200 * time.Millisecond
	maxDelay  = 2 * time.Second
)

var (
	// ErrNotFound is returned when the catalog has no record for a process.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrNoManifest is returned when a record has zero or several manifest links.
	ErrNoManifest = errors.New("catalog: record has no unique manifest link")
)

// StatusError reports a non-2xx response from a download.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: GET %s: status %d", e.URL, e.StatusCode)
}

// Link is one entry of a record's links array.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type record struct {
	Links []Link `json:"links"`
}

// Client talks to the resource catalog's metadata endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewRetryTransport wraps rt with retries for GET requests on temporary
// network errors and 502/503/504 responses.
func NewRetryTransport(rt http.RoundTripper) http.RoundTripper {
	return rehttp.NewTransport(
		rt,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(maxRetries),
			rehttp.RetryHTTPMethods(http.MethodGet),
			rehttp.RetryAny(
				rehttp.RetryTemporaryErr(),
				rehttp.RetryStatuses(http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout),
			),
		),
		rehttp.ExpJitterDelay(baseDelay, maxDelay),
	)
}

// New returns a catalog client for the metadata items URL. A nil httpClient
// gets a retrying client with the given timeout.
func New(baseURL string, httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: NewRetryTransport(nil), Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Download GETs u and returns the body. Any non-2xx status is an error.
func (c *Client) Download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", u, err)
	}
	return body, nil
}

// ManifestLink returns the href of the single "manifest" link of the
// catalog record for process.
func (c *Client) ManifestLink(ctx context.Context, process string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("catalog: resource catalog metadata url is not configured")
	}
	u := c.baseURL + "/" + url.PathEscape(process) + "?" + url.Values{"f": {"json"}}.Encode()
	c.logger.Info("fetching catalog record", zap.String("url", u))

	body, err := c.Download(ctx, u)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, process)
		}
		return "", err
	}

	var rec record
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", fmt.Errorf("catalog: decode record %s: %w", process, err)
	}
	return manifestHref(rec.Links, process)
}

func manifestHref(links []Link, process string) (string, error) {
	var found []string
	for _, l := range links {
		if l.Rel == "manifest" {
			found = append(found, l.Href)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: %s has %d", ErrNoManifest, process, len(found))
	}
	return found[0], nil
}
