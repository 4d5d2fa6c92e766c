package httpapi

import (
	"net/http"

	"cloudgate.io/internal/identity"
)

type roleTagRequest struct {
	RoleTag []string `json:"role-tag"`
}

type roleTagResponse struct {
	Name    string   `json:"name"`
	RoleTag []string `json:"role-tag"`
}

// handleAccountResource serves the account root: GET echoes the account with
// its role-tag set, PUT replaces the role-tag set.
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request, p identity.Principal, accountLogin string) {
	resourcePath := "/" + accountLogin
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, p, resourcePath, "getaccount") {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    p.Account.UUID,
			"login": p.Account.Login,
			"email": p.Account.Email,
		})
	case http.MethodPut:
		a.putRoleTag(w, r, p, resourcePath)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleUsersCollection serves /{account}/users: GET lists sub-users with
// the collection's role-tag header, PUT tags the collection.
func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request, p identity.Principal, accountLogin string) {
	resourcePath := "/" + accountLogin + "/users"
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, p, resourcePath, "listusers") {
			return
		}
		users, err := a.dir.UsersForAccount(r.Context(), p.Account.UUID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "InternalError", "user listing failed")
			return
		}
		out := make([]map[string]any, 0, len(users))
		for _, u := range users {
			out = append(out, map[string]any{
				"id":    u.UUID,
				"login": u.Login,
				"email": u.Email,
			})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPut:
		a.putRoleTag(w, r, p, resourcePath)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleUserResource serves /{account}/users/{login}: GET returns the
// sub-user with the resource's role-tag header, PUT tags the resource.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request, p identity.Principal, accountLogin, userLogin string) {
	resourcePath := "/" + accountLogin + "/users/" + userLogin
	switch r.Method {
	case http.MethodGet:
		if !a.authorize(w, r, p, resourcePath, "getuser") {
			return
		}
		user, err := a.dir.UserByLogin(r.Context(), p.Account.UUID, userLogin)
		if err != nil {
			writeError(w, r, http.StatusNotFound, "ResourceNotFound", "user not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    user.UUID,
			"login": user.Login,
			"email": user.Email,
		})
	case http.MethodPut:
		a.putRoleTag(w, r, p, resourcePath)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// putRoleTag replaces a resource's role-tag set. Only the account owner may
// (re)tag resources; unknown role names are rejected with 409 before any
// write happens.
func (a *API) putRoleTag(w http.ResponseWriter, r *http.Request, p identity.Principal, resourcePath string) {
	if !p.IsOwner() {
		writeError(w, r, http.StatusForbidden, identity.CodeNotAuthorized,
			"Only the account owner may modify role-tags")
		return
	}
	var req roleTagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequestError", err.Error())
		return
	}
	tags, err := a.resolver.SetTags(r.Context(), p.Account.UUID, resourcePath, req.RoleTag)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roleTagResponse{
		Name:    resourcePath,
		RoleTag: tags,
	})
}
