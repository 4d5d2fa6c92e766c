package authcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloudgate.io/internal/obs"
)

func TestHTTPSourceLookup(t *testing.T) {
	var gotPath, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"path": "/user/acme/auditor",
			"roles": {"r-1": "auditor"},
			"default_roles": {"r-1": "auditor"},
			"generation": 12
		}`))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	ctx := obs.WithRequestID(context.Background(), "req-123")
	entry, err := src.Lookup(ctx, "/user/acme/auditor")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotPath != "/user/acme/auditor" {
		t.Fatalf("request path=%q", gotPath)
	}
	if gotRequestID != "req-123" {
		t.Fatalf("request id was not propagated, got %q", gotRequestID)
	}
	if !entry.HasRole("r-1") || entry.Generation != 12 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestHTTPSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	_, err = src.Lookup(context.Background(), "/user/acme/ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewHTTPSourceRejectsRelativeURL(t *testing.T) {
	if _, err := NewHTTPSource("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for non-absolute base url")
	}
}
