package httpapi

import (
	"net/http"
	"strings"

	"cloudgate.io/internal/identity"
	"cloudgate.io/internal/obs"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/openapi.yaml",
	"/v1/info",
}

// withAuth authenticates every non-public request and attaches the resolved
// principal to the context. Failures terminate the request here.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.verifier.Verify(r.Context(), r)
		if err != nil {
			obs.ObserveAuthAttempt(attemptedMethod(r), "failure")
			writeAuthError(w, r, err)
			return
		}
		obs.ObserveAuthAttempt(string(principal.Method), "success")

		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize runs the permission resolver for the request and echoes the
// resource's role-tag set back on the response. It writes the failure
// response itself and reports whether the handler may proceed.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, p identity.Principal, resourcePath, route string) bool {
	tags, err := a.resolver.Tags(r.Context(), p.Account.UUID, resourcePath)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "InternalError", "role-tag lookup failed")
		return false
	}
	decision, err := a.resolver.Authorize(r.Context(), p, resourcePath, route, tags)
	if err != nil {
		writeAuthError(w, r, err)
		return false
	}
	if len(decision.Tags) > 0 {
		w.Header().Set("Role-Tag", strings.Join(decision.Tags, ", "))
	}
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, identity.CodeNotAuthorized, "You do not have permission to access this resource")
		return false
	}
	return true
}

func attemptedMethod(r *http.Request) string {
	if r.Header.Get("X-Auth-Token") != "" {
		return string(identity.AuthToken)
	}
	header := strings.ToLower(strings.TrimSpace(r.Header.Get("Authorization")))
	switch {
	case strings.HasPrefix(header, "signature"):
		return string(identity.AuthSignature)
	case strings.HasPrefix(header, "basic"):
		return string(identity.AuthBasic)
	default:
		return "none"
	}
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
