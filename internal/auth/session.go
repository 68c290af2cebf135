package auth

import "time"

// Session is the staff session descriptor carried between requests. It is a
// snapshot taken at login: permission edits made afterwards are not reflected
// until the staff member logs in again or the session is re-verified.
type Session struct {
	RoleUserID      string       `json:"roleUserId"`
	RoleID          string       `json:"roleId"`
	OrganizationID  string       `json:"organizationId"`
	FirstName       string       `json:"firstName"`
	LastName        string       `json:"lastName"`
	Identifier      string       `json:"identifier"`
	Email           string       `json:"email,omitempty"`
	RoleName        string       `json:"roleName"`
	RoleDescription string       `json:"roleDescription,omitempty"`
	Permissions     []Permission `json:"permissions"`
	IssuedAt        time.Time    `json:"issuedAt"`
}

// NewSession builds a descriptor from the loaded role user, role and its
// permission matrix.
func NewSession(ru RoleUser, role Role, perms []Permission, now time.Time) Session {
	copied := make([]Permission, len(perms))
	copy(copied, perms)
	return Session{
		RoleUserID:      ru.ID,
		RoleID:          role.ID,
		OrganizationID:  ru.OrganizationID,
		FirstName:       ru.FirstName,
		LastName:        ru.LastName,
		Identifier:      ru.Identifier,
		Email:           ru.Email,
		RoleName:        role.Name,
		RoleDescription: role.Description,
		Permissions:     copied,
		IssuedAt:        now.UTC(),
	}
}

// Can reports whether the session grants action on module.
func (s Session) Can(module Module, action Action) bool {
	caps, ok := Lookup(s.Permissions, module)
	return ok && caps.Allows(action)
}
