package authcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudgate.io/internal/obs"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPSource reads entries from the replicated cache service over HTTP.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPSource builds a source against the cache service base URL.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("authcache: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authcache: base url %q must be absolute", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPSource{base: base, client: client}, nil
}

// Lookup fetches the entry for the given cache path.
func (s *HTTPSource) Lookup(ctx context.Context, path string) (Entry, error) {
	target := *s.base
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Entry{}, err
	}
	req.Header.Set("Accept", "application/json")
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Entry{}, ErrNotFound
	default:
		return Entry{}, fmt.Errorf("authcache: unexpected status %d for %s", resp.StatusCode, path)
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return Entry{}, fmt.Errorf("authcache: decode entry: %w", err)
	}
	if entry.Path == "" {
		entry.Path = path
	}
	return entry, nil
}
