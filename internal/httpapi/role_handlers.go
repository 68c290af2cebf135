package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinica.app/internal/auth"
	"clinica.app/internal/guard"
	"clinica.app/internal/rbac"
	"clinica.app/internal/staff"
)

func adminOr(module auth.Module, action auth.Action) guard.Requirement {
	return guard.Roles(auth.AppRoleClinicAdmin).OrCan(module, action)
}

type replacePermissionsRequest struct {
	Permissions []rbac.PermissionInput `json:"permissions"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionView))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	q := r.URL.Query()
	roles, err := a.roles.ListRoles(r.Context(), id, q.Get("organization_id"), parseBool(q.Get("include_inactive")))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionCreate))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	var in rbac.RoleInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.CreateRole(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionView))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	role, err := a.roles.GetRole(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionUpdate))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	var in rbac.RoleEdit
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.UpdateRole(r.Context(), id, chi.URLParam(r, "id"), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeactivateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionDelete))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	if err := a.roles.DeactivateRole(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionView))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	perms, err := a.roles.ListPermissions(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNilPerms(perms)})
}

func (a *API) handleReplacePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleRoles, auth.ActionUpdate))
	if !ok || !a.rolesReady(w, r) {
		return
	}
	var req replacePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := a.roles.ReplacePermissions(r.Context(), id, chi.URLParam(r, "id"), req.Permissions)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNilPerms(perms)})
}

func (a *API) handleListRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleUsers, auth.ActionView))
	if !ok || !a.roleUsersReady(w, r) {
		return
	}
	users, err := a.roleUsers.ListRoleUsers(r.Context(), id, r.URL.Query().Get("organization_id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.RoleUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_users": users})
}

func (a *API) handleCreateRoleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleUsers, auth.ActionCreate))
	if !ok || !a.roleUsersReady(w, r) {
		return
	}
	var in staff.RoleUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ru, err := a.roleUsers.CreateRoleUser(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/role-users/%s", ru.ID))
	writeJSON(w, http.StatusCreated, ru)
}

func (a *API) handleUpdateRoleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleUsers, auth.ActionUpdate))
	if !ok || !a.roleUsersReady(w, r) {
		return
	}
	var upd staff.RoleUserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ru, err := a.roleUsers.UpdateRoleUser(r.Context(), id, chi.URLParam(r, "id"), upd)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ru)
}

func (a *API) handleDeactivateRoleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, adminOr(auth.ModuleUsers, auth.ActionDelete))
	if !ok || !a.roleUsersReady(w, r) {
		return
	}
	if err := a.roleUsers.DeactivateRoleUser(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) rolesReady(w http.ResponseWriter, r *http.Request) bool {
	if a.roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return false
	}
	return true
}

func (a *API) roleUsersReady(w http.ResponseWriter, r *http.Request) bool {
	if a.roleUsers == nil {
		writeError(w, r, http.StatusServiceUnavailable, "role user service unavailable")
		return false
	}
	return true
}

func nonNilPerms(perms []auth.Permission) []auth.Permission {
	if perms == nil {
		return []auth.Permission{}
	}
	return perms
}
