package httpapi

import (
	"net/http"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
)

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, org, ok := a.requireOrg(w, r, adminOr(auth.ModuleAudit, auth.ActionView), q.Get("organization_id"))
	if !ok {
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1_000_000)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	f := audit.Filter{
		Action:     q.Get("action"),
		RoleUserID: q.Get("role_user_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if m := q.Get("module"); m != "" {
		if m == string(auth.ModuleAuth) {
			f.Module = auth.ModuleAuth
		} else {
			module, err := auth.ParseModule(m)
			if err != nil {
				a.handleError(w, r, err)
				return
			}
			f.Module = module
		}
	}
	entries, err := a.audit.List(r.Context(), org, f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit, "offset": offset})
}
