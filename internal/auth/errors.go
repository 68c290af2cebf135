package auth

import "errors"

var (
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrProfileNotFound    = errors.New("auth: profile not found")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrDisabled           = errors.New("auth: account disabled")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrRoleNotFound       = errors.New("auth: role not found")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: conflict")
	ErrInvalidInput       = errors.New("auth: invalid input")
)

// DisabledMessage is shown to staff whose account was deactivated. The
// credential may still be valid at the identity provider, so the message
// must differ from a generic authentication failure.
const DisabledMessage = "your account has been disabled, contact your clinic admin"
