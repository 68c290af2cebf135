// Package tenant decides whether a caller may touch data owned by an
// organization. Every check is pure; callers pass the organization id stored
// on the record being accessed, not the one on the caller's session.
package tenant

import (
	"fmt"
	"strings"

	"clinica.app/internal/auth"
)

// Scoped is implemented by records that belong to an organization.
type Scoped interface {
	ScopeOrganizationID() string
}

// Enforce accepts the request only when id belongs to targetOrganizationID.
// There is no cross-tenant override, including for platform admins.
func Enforce(id auth.Identity, targetOrganizationID string) error {
	if id.IsZero() {
		return auth.ErrUnauthenticated
	}
	target := strings.TrimSpace(targetOrganizationID)
	if target == "" {
		return fmt.Errorf("%w: record has no organization", auth.ErrForbidden)
	}
	caller := id.OrganizationID()
	if caller == "" {
		return fmt.Errorf("%w: caller has no organization", auth.ErrForbidden)
	}
	if caller != target {
		return fmt.Errorf("%w: organization mismatch", auth.ErrForbidden)
	}
	return nil
}

// EnforceRecord is Enforce against the organization stored on rec.
func EnforceRecord(id auth.Identity, rec Scoped) error {
	if rec == nil {
		return fmt.Errorf("%w: record has no organization", auth.ErrForbidden)
	}
	return Enforce(id, rec.ScopeOrganizationID())
}

// RequireAnyRole accepts application users holding one of roles.
func RequireAnyRole(id auth.Identity, roles ...auth.AppRole) error {
	if id.IsZero() {
		return auth.ErrUnauthenticated
	}
	if !id.HasAnyRole(roles...) {
		return fmt.Errorf("%w: role not allowed", auth.ErrForbidden)
	}
	return nil
}

// RequireRoleInOrganization layers RequireAnyRole before Enforce.
func RequireRoleInOrganization(id auth.Identity, targetOrganizationID string, roles ...auth.AppRole) error {
	if err := RequireAnyRole(id, roles...); err != nil {
		return err
	}
	return Enforce(id, targetOrganizationID)
}

// ScopeFor returns the organization a caller's new records should belong to.
// A requested organization other than the caller's own is rejected.
func ScopeFor(id auth.Identity, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		requested = id.OrganizationID()
	}
	if err := Enforce(id, requested); err != nil {
		return "", err
	}
	return requested, nil
}
