package httpapi

import (
	"net/http"

	"clinica.app/internal/auth"
	"clinica.app/internal/staff"
)

type sessionRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// sessionUser is the staff member as rendered to the browser.
type sessionUser struct {
	ID             string            `json:"id"`
	FirstName      string            `json:"firstName"`
	LastName       string            `json:"lastName"`
	Identifier     string            `json:"identifier"`
	Email          string            `json:"email,omitempty"`
	Role           sessionRole       `json:"role"`
	OrganizationID string            `json:"organizationId"`
	Permissions    []auth.Permission `json:"permissions"`
}

func newSessionUser(s auth.Session) sessionUser {
	perms := s.Permissions
	if perms == nil {
		perms = []auth.Permission{}
	}
	return sessionUser{
		ID:             s.RoleUserID,
		FirstName:      s.FirstName,
		LastName:       s.LastName,
		Identifier:     s.Identifier,
		Email:          s.Email,
		Role:           sessionRole{ID: s.RoleID, Name: s.RoleName, Description: s.RoleDescription},
		OrganizationID: s.OrganizationID,
		Permissions:    perms,
	}
}

type loginResponse struct {
	Success bool        `json:"success"`
	User    sessionUser `json:"user"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *sessionUser `json:"user,omitempty"`
}

func (a *API) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	if a.staff == nil {
		writeError(w, r, http.StatusServiceUnavailable, "staff sessions unavailable")
		return
	}
	var in staff.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, value, err := a.staff.Login(r.Context(), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	http.SetCookie(w, a.staff.SessionCookie(value))
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: newSessionUser(sess)})
}

// handleStaffSession never answers 401 so clients can poll it.
func (a *API) handleStaffSession(w http.ResponseWriter, r *http.Request) {
	if a.staff == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	c, err := r.Cookie(a.staff.CookieName())
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	sess, ok := a.staff.Verify(r.Context(), c.Value)
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	su := newSessionUser(sess)
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &su})
}

func (a *API) handleStaffLogout(w http.ResponseWriter, r *http.Request) {
	if a.staff != nil {
		if c, err := r.Cookie(a.staff.CookieName()); err == nil {
			a.staff.Logout(r.Context(), c.Value)
		}
		http.SetCookie(w, a.staff.ClearedCookie())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
