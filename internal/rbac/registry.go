// Package rbac owns organization-defined staff roles and their per-module
// permission matrices.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/tenant"
)

const maxRoleNameLen = 100

// RoleUpdate carries the fields of an edit. Nil fields are left unchanged;
// a non-nil Permissions fully replaces the matrix in the same transaction.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]auth.Permission
}

// Store persists roles and permission rows. Role names are unique per
// organization (case-sensitive); violations surface as auth.ErrConflict.
type Store interface {
	CreateRole(ctx context.Context, role auth.Role, perms []auth.Permission) (auth.Role, error)
	GetRole(ctx context.Context, roleID string) (auth.Role, error)
	ListRoles(ctx context.Context, organizationID string, includeInactive bool) ([]auth.Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (auth.Role, error)
	// DeactivateRole soft-deletes the role and every RoleUser bound to it,
	// returning how many role users were deactivated.
	DeactivateRole(ctx context.Context, roleID string) (int64, error)
	ListPermissions(ctx context.Context, roleID string) ([]auth.Permission, error)
	ReplacePermissions(ctx context.Context, roleID string, perms []auth.Permission) error
}

// PermissionInput is a matrix row as supplied by callers.
type PermissionInput struct {
	Module      string            `json:"module"`
	Permissions auth.Capabilities `json:"permissions"`
}

// RoleInput creates a role. OrganizationID defaults to the caller's.
type RoleInput struct {
	OrganizationID string            `json:"organization_id"`
	Name           string            `json:"role_name"`
	Description    string            `json:"role_description"`
	Permissions    []PermissionInput `json:"permissions"`
}

// RoleEdit is the caller-facing form of RoleUpdate.
type RoleEdit struct {
	Name        *string            `json:"role_name"`
	Description *string            `json:"role_description"`
	Permissions *[]PermissionInput `json:"permissions"`
}

// Registry validates and scopes role administration. Edits are last writer
// wins: two admins replacing the same matrix concurrently overwrite each other.
type Registry struct {
	store Store
	audit audit.Recorder
	log   *zap.Logger
}

func NewRegistry(store Store, rec audit.Recorder, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, audit: rec, log: log}
}

// Snapshot loads an active role together with its current permission
// matrix. It is the point-in-time view captured into a staff session.
func (r *Registry) Snapshot(ctx context.Context, roleID string) (auth.Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Role{}, auth.ErrRoleNotFound
		}
		return auth.Role{}, err
	}
	if !role.Active {
		return auth.Role{}, fmt.Errorf("%w: role %s is inactive", auth.ErrRoleNotFound, roleID)
	}
	perms, err := r.store.ListPermissions(ctx, roleID)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

func (r *Registry) ListRoles(ctx context.Context, actor auth.Identity, organizationID string, includeInactive bool) ([]auth.Role, error) {
	org, err := tenant.ScopeFor(actor, organizationID)
	if err != nil {
		return nil, err
	}
	return r.store.ListRoles(ctx, org, includeInactive)
}

// GetRole returns a role of the caller's organization with its matrix.
func (r *Registry) GetRole(ctx context.Context, actor auth.Identity, roleID string) (auth.Role, error) {
	role, err := r.scopedRole(ctx, actor, roleID)
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := r.store.ListPermissions(ctx, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

func (r *Registry) CreateRole(ctx context.Context, actor auth.Identity, in RoleInput) (auth.Role, error) {
	org, err := tenant.ScopeFor(actor, in.OrganizationID)
	if err != nil {
		return auth.Role{}, err
	}
	name, err := validateName(in.Name)
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := ValidatePermissions(in.Permissions)
	if err != nil {
		return auth.Role{}, err
	}
	role, err := r.store.CreateRole(ctx, auth.Role{
		OrganizationID: org,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Active:         true,
	}, perms)
	if err != nil {
		return auth.Role{}, err
	}
	r.record(ctx, actor, audit.ActionCreate, role, map[string]any{
		"role_name":   role.Name,
		"permissions": len(role.Permissions),
	})
	return role, nil
}

func (r *Registry) UpdateRole(ctx context.Context, actor auth.Identity, roleID string, in RoleEdit) (auth.Role, error) {
	if _, err := r.scopedRole(ctx, actor, roleID); err != nil {
		return auth.Role{}, err
	}
	var upd RoleUpdate
	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return auth.Role{}, err
		}
		upd.Name = &name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		upd.Description = &desc
	}
	if in.Permissions != nil {
		perms, err := ValidatePermissions(*in.Permissions)
		if err != nil {
			return auth.Role{}, err
		}
		upd.Permissions = &perms
	}
	role, err := r.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return auth.Role{}, err
	}
	details := map[string]any{"role_name": role.Name}
	if upd.Permissions != nil {
		details["permissions_replaced"] = true
	}
	r.record(ctx, actor, audit.ActionUpdate, role, details)
	return role, nil
}

// DeactivateRole soft-deletes a role; its role users are deactivated with it.
func (r *Registry) DeactivateRole(ctx context.Context, actor auth.Identity, roleID string) error {
	role, err := r.scopedRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	n, err := r.store.DeactivateRole(ctx, role.ID)
	if err != nil {
		return err
	}
	r.record(ctx, actor, audit.ActionDeactivate, role, map[string]any{
		"role_name":              role.Name,
		"role_users_deactivated": n,
	})
	return nil
}

func (r *Registry) ListPermissions(ctx context.Context, actor auth.Identity, roleID string) ([]auth.Permission, error) {
	role, err := r.scopedRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	return r.store.ListPermissions(ctx, role.ID)
}

// ReplacePermissions deletes every row of the role and inserts in, atomically.
func (r *Registry) ReplacePermissions(ctx context.Context, actor auth.Identity, roleID string, in []PermissionInput) ([]auth.Permission, error) {
	role, err := r.scopedRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := ValidatePermissions(in)
	if err != nil {
		return nil, err
	}
	if err := r.store.ReplacePermissions(ctx, role.ID, perms); err != nil {
		return nil, err
	}
	r.record(ctx, actor, audit.ActionReplacePermissions, role, map[string]any{
		"modules": moduleNames(perms),
	})
	return r.store.ListPermissions(ctx, role.ID)
}

func (r *Registry) scopedRole(ctx context.Context, actor auth.Identity, roleID string) (auth.Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return auth.Role{}, fmt.Errorf("%w: role id is required", auth.ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return auth.Role{}, err
	}
	if err := tenant.EnforceRecord(actor, role); err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

func (r *Registry) record(ctx context.Context, actor auth.Identity, action string, role auth.Role, details map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, audit.For(actor, action, auth.ModuleRoles).On("role", role.ID).With(details))
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", auth.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxRoleNameLen {
		return "", fmt.Errorf("%w: role name exceeds %d characters", auth.ErrInvalidInput, maxRoleNameLen)
	}
	return name, nil
}

// ValidatePermissions parses module names and rejects unknown or repeated
// modules.
func ValidatePermissions(in []PermissionInput) ([]auth.Permission, error) {
	seen := make(map[auth.Module]struct{}, len(in))
	out := make([]auth.Permission, 0, len(in))
	for _, p := range in {
		m, err := auth.ParseModule(p.Module)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("%w: module %q listed twice", auth.ErrInvalidInput, m)
		}
		seen[m] = struct{}{}
		out = append(out, auth.Permission{Module: m, Permissions: p.Permissions})
	}
	return out, nil
}

func moduleNames(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p.Module))
	}
	return out
}
