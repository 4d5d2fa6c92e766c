// Package workflow is a thin typed client for the workflow/job service,
// which supplies ordered job records with execution status and chain-step
// timestamps for a given resource.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudgate.io/internal/auditlog"
	"cloudgate.io/internal/obs"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to the workflow service over HTTP.
type Client struct {
	base   *url.URL
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// New constructs a Client against the workflow service base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("workflow: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("workflow: base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:   base,
		client: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListJobs returns every job recorded against the machine for the owning
// account, in the order the workflow service reports them (oldest first).
func (c *Client) ListJobs(ctx context.Context, machineUUID, ownerUUID string) ([]auditlog.Job, error) {
	target := *c.base
	target.Path = strings.TrimRight(target.Path, "/") + "/jobs"
	q := target.Query()
	q.Set("vm_uuid", machineUUID)
	q.Set("owner_uuid", ownerUUID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow: unexpected status %d listing jobs for %s", resp.StatusCode, machineUUID)
	}
	var jobs []auditlog.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("workflow: decode jobs: %w", err)
	}
	return jobs, nil
}
