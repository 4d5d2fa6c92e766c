package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloudgate.io/internal/authcache"
	"cloudgate.io/internal/identity"
	"cloudgate.io/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the wire error body: {code, message, request_id}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"code":    code,
		"message": msg,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// writeAuthError maps the identity error taxonomy onto HTTP statuses:
// credential and scheme failures are 401, authorization failures 403,
// argument failures 409 and cache-wait exhaustion 504.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *identity.Error
	if errors.As(err, &authErr) {
		switch authErr.Code {
		case identity.CodeInvalidCredentials, identity.CodeUnsupportedScheme:
			writeError(w, r, http.StatusUnauthorized, authErr.Code, authErr.Message)
		case identity.CodeNotAuthorized:
			writeError(w, r, http.StatusForbidden, authErr.Code, authErr.Message)
		case identity.CodeInvalidArgument:
			writeError(w, r, http.StatusConflict, authErr.Code, authErr.Message)
		case identity.CodeTimeout:
			writeError(w, r, http.StatusGatewayTimeout, authErr.Code, authErr.Message)
		default:
			writeError(w, r, http.StatusUnauthorized, identity.CodeInvalidCredentials, authErr.Message)
		}
		return
	}
	if errors.Is(err, authcache.ErrWaitTimeout) {
		writeError(w, r, http.StatusGatewayTimeout, identity.CodeTimeout, "authorization cache wait timed out")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "InternalError", "authentication error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "BadRequestError", "method not allowed")
}
