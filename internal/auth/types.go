package auth

import (
	"fmt"
	"strings"
	"time"
)

// AppRole is the primary role of an externally authenticated application user.
type AppRole string

const (
	AppRoleAdmin       AppRole = "admin"
	AppRoleClinicAdmin AppRole = "clinic_admin"
	AppRoleClinic      AppRole = "clinic"
	AppRoleDoctor      AppRole = "doctor"
	AppRoleNurse       AppRole = "nurse"
	AppRolePatient     AppRole = "patient"
)

var appRoles = map[AppRole]struct{}{
	AppRoleAdmin:       {},
	AppRoleClinicAdmin: {},
	AppRoleClinic:      {},
	AppRoleDoctor:      {},
	AppRoleNurse:       {},
	AppRolePatient:     {},
}

// ParseAppRole validates a stored or supplied application role.
func ParseAppRole(raw string) (AppRole, error) {
	role := AppRole(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := appRoles[role]; !ok {
		return "", fmt.Errorf("%w: unknown application role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// User is an application user verified by the external identity provider.
// OrganizationID is empty for independent practitioners.
type User struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Role           AppRole   `json:"role"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role is an organization-owned permission bundle for staff accounts.
type Role struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"role_name"`
	Description    string       `json:"role_description,omitempty"`
	Active         bool         `json:"is_active"`
	Permissions    []Permission `json:"permissions,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (r Role) ScopeOrganizationID() string { return r.OrganizationID }

// RoleUser is a staff identity bound to a custom Role. It authenticates with
// the identity provider but has no application User profile.
type RoleUser struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	RoleID         string     `json:"role_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Identifier     string     `json:"identifier"`
	Email          string     `json:"email"`
	ExternalID     string     `json:"-"`
	Active         bool       `json:"is_active"`
	LastAccessAt   *time.Time `json:"last_access_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (u RoleUser) ScopeOrganizationID() string { return u.OrganizationID }

// NormalizeIdentifier canonicalizes national identifiers ("v-123" -> "V-123").
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}
