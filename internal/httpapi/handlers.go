package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"cloudgate.io/internal/auditlog"
	"cloudgate.io/internal/identity"
)

// handleAccountScoped routes /{account}/... paths. The literal segment "my"
// aliases the authenticated account's login.
func (a *API) handleAccountScoped(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, identity.CodeInvalidCredentials, "invalid credentials provided")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "ResourceNotFound", "resource not found")
		return
	}
	accountLogin := parts[0]
	if accountLogin == "my" {
		accountLogin = principal.Account.Login
	}
	if accountLogin != principal.Account.Login {
		writeError(w, r, http.StatusForbidden, identity.CodeNotAuthorized,
			"You do not have permission to access this account")
		return
	}

	switch {
	case len(parts) == 1:
		a.handleAccountResource(w, r, principal, accountLogin)
	case parts[1] == "users" && len(parts) == 2:
		a.handleUsersCollection(w, r, principal, accountLogin)
	case parts[1] == "users" && len(parts) == 3:
		a.handleUserResource(w, r, principal, accountLogin, parts[2])
	case parts[1] == "machines" && len(parts) == 4 && parts[3] == "audit":
		a.handleMachineAudit(w, r, principal, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "ResourceNotFound", "resource not found")
	}
}

// handleMachineAudit serves GET/HEAD /{account}/machines/{machine}/audit:
// the machine's job history translated into normalized audit entries,
// oldest first.
func (a *API) handleMachineAudit(w http.ResponseWriter, r *http.Request, p identity.Principal, machine string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	if _, err := uuid.Parse(machine); err != nil {
		writeError(w, r, http.StatusConflict, identity.CodeInvalidArgument, "machine must be a UUID")
		return
	}
	resourcePath := "/" + p.Account.Login + "/machines/" + machine
	if !a.authorize(w, r, p, resourcePath, "machineaudit") {
		return
	}
	if a.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ServiceUnavailable", "job history unavailable")
		return
	}

	jobs, err := a.jobs.ListJobs(r.Context(), machine, p.Account.UUID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "ResourceNotFound", "machine not found")
			return
		}
		writeError(w, r, http.StatusBadGateway, "ServiceUnavailable", "error fetching job history")
		return
	}

	entries := auditlog.TranslateAll(jobs)
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
