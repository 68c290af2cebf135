package auth

// Track identifies which authentication path produced an Identity.
type Track string

const (
	TrackUser  Track = "user"
	TrackStaff Track = "staff"
)

// Identity is the resolved caller of a request. Exactly one of User or
// Session is set, according to Track.
type Identity struct {
	Track   Track
	User    *User
	Session *Session
}

// UserIdentity wraps an application user.
func UserIdentity(u User) Identity {
	return Identity{Track: TrackUser, User: &u}
}

// StaffIdentity wraps a staff session descriptor.
func StaffIdentity(s Session) Identity {
	return Identity{Track: TrackStaff, Session: &s}
}

// IsZero reports whether the identity carries no caller.
func (i Identity) IsZero() bool {
	return i.User == nil && i.Session == nil
}

// OrganizationID returns the tenant the caller belongs to, or "" for
// independent users.
func (i Identity) OrganizationID() string {
	switch {
	case i.Track == TrackStaff && i.Session != nil:
		return i.Session.OrganizationID
	case i.Track == TrackUser && i.User != nil:
		return i.User.OrganizationID
	}
	return ""
}

// ActorID returns the user id or role-user id of the caller.
func (i Identity) ActorID() string {
	switch {
	case i.Track == TrackStaff && i.Session != nil:
		return i.Session.RoleUserID
	case i.Track == TrackUser && i.User != nil:
		return i.User.ID
	}
	return ""
}

// HasAnyRole reports whether an application user holds one of roles. Staff
// identities never carry an application role.
func (i Identity) HasAnyRole(roles ...AppRole) bool {
	if i.Track != TrackUser || i.User == nil {
		return false
	}
	for _, r := range roles {
		if i.User.Role == r {
			return true
		}
	}
	return false
}

// Can reports whether a staff identity is granted action on module.
// Application users are authorized by role, never by the matrix.
func (i Identity) Can(module Module, action Action) bool {
	if i.Track != TrackStaff || i.Session == nil {
		return false
	}
	return i.Session.Can(module, action)
}
