package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"cloudgate.io/api/spec"
	"cloudgate.io/internal/auditlog"
	"cloudgate.io/internal/identity"
	"cloudgate.io/internal/obs"
	"cloudgate.io/internal/rbac"
)

// ReadyProbe checks readiness dependencies (e.g. a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// JobLister supplies job records for the audit endpoint.
type JobLister interface {
	ListJobs(ctx context.Context, machineUUID, ownerUUID string) ([]auditlog.Job, error)
}

// Config carries the API's collaborators.
type Config struct {
	Verifier   *identity.Verifier
	Resolver   *rbac.Resolver
	Directory  identity.Directory
	Jobs       JobLister
	ReadyProbe ReadyProbe
	Version    string

	// Per-client-IP throttle. Zero values take the defaults below.
	RateBurst     int
	RatePerSecond int
}

const (
	defaultRateBurst     = 50
	defaultRatePerSecond = 25
)

// API is the HTTP layer.
type API struct {
	mux           *http.ServeMux
	verifier      *identity.Verifier
	resolver      *rbac.Resolver
	dir           identity.Directory
	jobs          JobLister
	readyProbe    ReadyProbe
	version       string
	rateBurst     int
	ratePerSecond int
}

// New wires the routing table.
func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		verifier:      cfg.Verifier,
		resolver:      cfg.Resolver,
		dir:           cfg.Directory,
		jobs:          cfg.Jobs,
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		rateBurst:     cfg.RateBurst,
		ratePerSecond: cfg.RatePerSecond,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultRateBurst
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = defaultRatePerSecond
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	// Everything else is account-scoped: /{account}/...
	a.mux.HandleFunc("/", a.handleAccountScoped)

	return a
}

// Handler returns the full middleware-wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "cloudgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "cloudgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}
