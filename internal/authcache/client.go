// Package authcache reads the replicated authorization cache. The cache is
// fed by asynchronous replication from the authoritative directory, so a
// directory write is not guaranteed visible here immediately; callers that
// need freshness poll with WaitFor instead of a single Lookup.
package authcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudgate.io/internal/obs"
)

var (
	// ErrNotFound means the cache holds no entry for the path. It may still
	// appear after replication catches up.
	ErrNotFound = errors.New("authcache: entry not found")

	// ErrWaitTimeout means the wait budget was exhausted before the
	// predicate held. Distinct from a permanent not-found so callers can
	// choose to retry or report staleness.
	ErrWaitTimeout = errors.New("authcache: wait budget exhausted")
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 30
)

// Entry is a replicated snapshot of a sub-user's resolved role memberships,
// keyed by account/sub-user path.
type Entry struct {
	Path string `json:"path"`

	// Roles maps role UUID to role name for every role the sub-user is a
	// member of as of the replication point.
	Roles map[string]string `json:"roles"`

	// DefaultRoles is the subset granted without an explicit as-role request.
	DefaultRoles map[string]string `json:"default_roles"`

	// Generation increases with every replicated directory write.
	Generation uint64 `json:"generation"`
}

// HasRole reports whether the entry contains the role UUID.
func (e Entry) HasRole(roleUUID string) bool {
	_, ok := e.Roles[roleUUID]
	return ok
}

// UserPath builds the cache key for a sub-user.
func UserPath(accountLogin, userLogin string) string {
	return fmt.Sprintf("/user/%s/%s", accountLogin, userLogin)
}

// Source is the raw read path to the replicated cache service.
type Source interface {
	Lookup(ctx context.Context, path string) (Entry, error)
}

// Client wraps a Source with the bounded polling wait.
type Client struct {
	src          Source
	pollInterval time.Duration
	maxAttempts  int
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval overrides the re-poll interval (default 1s).
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxAttempts overrides the poll attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New constructs a Client.
func New(src Source, opts ...Option) (*Client, error) {
	if src == nil {
		return nil, errors.New("authcache: source is required")
	}
	c := &Client{
		src:          src,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup performs a single read. A stale result is possible by design.
func (c *Client) Lookup(ctx context.Context, path string) (Entry, error) {
	return c.src.Lookup(ctx, path)
}

// WaitFor re-polls Lookup until the predicate holds or the attempt budget is
// exhausted, yielding ErrWaitTimeout. A missing entry counts as replication
// lag, not failure. Cancelling the context abandons the wait without leaking
// the retry timer.
func (c *Client) WaitFor(ctx context.Context, path string, pred func(Entry) bool) (Entry, error) {
	if pred == nil {
		return Entry{}, errors.New("authcache: predicate is required")
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	// Drain the immediate first tick so the loop starts with a lookup.
	<-timer.C

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		entry, err := c.src.Lookup(ctx, path)
		switch {
		case err == nil:
			if pred(entry) {
				obs.ObserveCacheWait(attempt + 1)
				return entry, nil
			}
		case errors.Is(err, ErrNotFound):
			// Not replicated yet; keep polling.
		default:
			return Entry{}, err
		}

		if attempt == c.maxAttempts-1 {
			break
		}
		timer.Reset(c.pollInterval)
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-timer.C:
		}
	}
	obs.ObserveCacheWait(c.maxAttempts)
	return Entry{}, ErrWaitTimeout
}
