package httpapi

import (
	"net/http"
	"strings"

	"clinica.app/internal/auth"
	"clinica.app/internal/guard"
)

// withAuth resolves the caller once per request for every non-public path.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.guard == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
			return
		}
		d := a.guard.Authorize(r, guard.Authenticated())
		if !d.OK() {
			a.writeFailure(w, r, d.Failure)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), d.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require checks req against the caller placed by withAuth. On failure the
// response is already written.
func (a *API) require(w http.ResponseWriter, r *http.Request, req guard.Requirement) (auth.Identity, bool) {
	id, _ := auth.IdentityFromContext(r.Context())
	d := a.guard.Check(r, id, req)
	if !d.OK() {
		a.writeFailure(w, r, d.Failure)
		return auth.Identity{}, false
	}
	return d.Identity, true
}

// requireOrg is require plus tenant scope on organizationID, which defaults
// to the caller's own organization.
func (a *API) requireOrg(w http.ResponseWriter, r *http.Request, req guard.Requirement, organizationID string) (auth.Identity, string, bool) {
	id, _ := auth.IdentityFromContext(r.Context())
	org := strings.TrimSpace(organizationID)
	if org == "" {
		org = id.OrganizationID()
	}
	d := a.guard.CheckOrg(r, id, req, org)
	if !d.OK() {
		a.writeFailure(w, r, d.Failure)
		return auth.Identity{}, "", false
	}
	return d.Identity, org, true
}

func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, f *guard.Failure) {
	writeError(w, r, f.Status, f.Message)
}

type meResponse struct {
	Track   auth.Track   `json:"track"`
	User    *auth.User   `json:"user,omitempty"`
	Session *sessionUser `json:"session,omitempty"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, guard.Authenticated())
	if !ok {
		return
	}
	resp := meResponse{Track: id.Track, User: id.User}
	if id.Session != nil {
		su := newSessionUser(*id.Session)
		resp.Session = &su
	}
	writeJSON(w, http.StatusOK, resp)
}
