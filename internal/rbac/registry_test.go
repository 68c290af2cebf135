package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
)

type stubStore struct {
	createRoleFn   func(context.Context, auth.Role, []auth.Permission) (auth.Role, error)
	getRoleFn      func(context.Context, string) (auth.Role, error)
	listRolesFn    func(context.Context, string, bool) ([]auth.Role, error)
	updateRoleFn   func(context.Context, string, RoleUpdate) (auth.Role, error)
	deactivateFn   func(context.Context, string) (int64, error)
	listPermsFn    func(context.Context, string) ([]auth.Permission, error)
	replacePermsFn func(context.Context, string, []auth.Permission) error
}

func (s *stubStore) CreateRole(ctx context.Context, role auth.Role, perms []auth.Permission) (auth.Role, error) {
	if s.createRoleFn != nil {
		return s.createRoleFn(ctx, role, perms)
	}
	role.ID = "role-new"
	role.Permissions = perms
	return role, nil
}

func (s *stubStore) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.getRoleFn != nil {
		return s.getRoleFn(ctx, id)
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *stubStore) ListRoles(ctx context.Context, org string, inactive bool) ([]auth.Role, error) {
	if s.listRolesFn != nil {
		return s.listRolesFn(ctx, org, inactive)
	}
	return nil, nil
}

func (s *stubStore) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (auth.Role, error) {
	if s.updateRoleFn != nil {
		return s.updateRoleFn(ctx, id, upd)
	}
	return auth.Role{ID: id}, nil
}

func (s *stubStore) DeactivateRole(ctx context.Context, id string) (int64, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, id)
	}
	return 0, nil
}

func (s *stubStore) ListPermissions(ctx context.Context, id string) ([]auth.Permission, error) {
	if s.listPermsFn != nil {
		return s.listPermsFn(ctx, id)
	}
	return nil, nil
}

func (s *stubStore) ReplacePermissions(ctx context.Context, id string, perms []auth.Permission) error {
	if s.replacePermsFn != nil {
		return s.replacePermsFn(ctx, id, perms)
	}
	return nil
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func adminOf(org string) auth.Identity {
	return auth.UserIdentity(auth.User{ID: "admin-" + org, Role: auth.AppRoleClinicAdmin, OrganizationID: org})
}

func roleIn(org string) func(context.Context, string) (auth.Role, error) {
	return func(_ context.Context, id string) (auth.Role, error) {
		return auth.Role{ID: id, OrganizationID: org, Name: "Reception", Active: true}, nil
	}
}

func TestCreateRoleValidatesAndAudits(t *testing.T) {
	rec := &recorder{}
	var stored auth.Role
	store := &stubStore{
		createRoleFn: func(_ context.Context, role auth.Role, perms []auth.Permission) (auth.Role, error) {
			stored = role
			role.ID = "role-1"
			role.Permissions = perms
			return role, nil
		},
	}
	reg := NewRegistry(store, rec, nil)

	role, err := reg.CreateRole(context.Background(), adminOf("org-1"), RoleInput{
		Name: "  Reception ",
		Permissions: []PermissionInput{
			{Module: "citas", Permissions: auth.Capabilities{View: true, Create: true}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", stored.OrganizationID)
	assert.Equal(t, "Reception", stored.Name)
	assert.True(t, stored.Active)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, auth.ModuleAppointments, role.Permissions[0].Module)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.ActionCreate, rec.entries[0].Action)
	assert.Equal(t, auth.ModuleRoles, rec.entries[0].Module)
	assert.Equal(t, "role-1", rec.entries[0].EntityID)
}

func TestCreateRoleRejectsBadInput(t *testing.T) {
	reg := NewRegistry(&stubStore{}, nil, nil)
	ctx := context.Background()

	_, err := reg.CreateRole(ctx, adminOf("org-1"), RoleInput{Name: " "})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	_, err = reg.CreateRole(ctx, adminOf("org-1"), RoleInput{
		Name:        "Reception",
		Permissions: []PermissionInput{{Module: "telemedicina"}},
	})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	_, err = reg.CreateRole(ctx, adminOf("org-1"), RoleInput{
		Name: "Reception",
		Permissions: []PermissionInput{
			{Module: "citas"},
			{Module: "CITAS"},
		},
	})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	_, err = reg.CreateRole(ctx, adminOf("org-1"), RoleInput{OrganizationID: "org-2", Name: "Reception"})
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	store := &stubStore{
		createRoleFn: func(context.Context, auth.Role, []auth.Permission) (auth.Role, error) {
			return auth.Role{}, auth.ErrConflict
		},
	}
	rec := &recorder{}
	reg := NewRegistry(store, rec, nil)

	_, err := reg.CreateRole(context.Background(), adminOf("org-1"), RoleInput{Name: "Reception"})
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Empty(t, rec.entries)
}

func TestRoleOperationsAreTenantScoped(t *testing.T) {
	called := false
	store := &stubStore{
		getRoleFn: roleIn("org-2"),
		replacePermsFn: func(context.Context, string, []auth.Permission) error {
			called = true
			return nil
		},
		deactivateFn: func(context.Context, string) (int64, error) {
			called = true
			return 0, nil
		},
	}
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()
	actor := adminOf("org-1")

	_, err := reg.GetRole(ctx, actor, "role-x")
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = reg.ReplacePermissions(ctx, actor, "role-x", nil)
	require.ErrorIs(t, err, auth.ErrForbidden)
	require.ErrorIs(t, reg.DeactivateRole(ctx, actor, "role-x"), auth.ErrForbidden)
	_, err = reg.ListRoles(ctx, actor, "org-2", false)
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.False(t, called)
}

func TestReplacePermissionsFullReplace(t *testing.T) {
	var current []auth.Permission
	store := &stubStore{
		getRoleFn: roleIn("org-1"),
		replacePermsFn: func(_ context.Context, _ string, perms []auth.Permission) error {
			current = perms
			return nil
		},
		listPermsFn: func(context.Context, string) ([]auth.Permission, error) {
			return current, nil
		},
	}
	rec := &recorder{}
	reg := NewRegistry(store, rec, nil)
	ctx := context.Background()

	_, err := reg.ReplacePermissions(ctx, adminOf("org-1"), "role-1", []PermissionInput{
		{Module: "citas", Permissions: auth.Capabilities{View: true, Create: true}},
		{Module: "pacientes", Permissions: auth.Capabilities{View: true}},
	})
	require.NoError(t, err)

	got, err := reg.ReplacePermissions(ctx, adminOf("org-1"), "role-1", []PermissionInput{
		{Module: "citas", Permissions: auth.Capabilities{View: true}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, auth.Capabilities{View: true}, got[0].Permissions)
	require.Len(t, rec.entries, 2)
	assert.Equal(t, audit.ActionReplacePermissions, rec.entries[1].Action)
}

func TestUpdateRoleCarriesPermissions(t *testing.T) {
	var got RoleUpdate
	store := &stubStore{
		getRoleFn: roleIn("org-1"),
		updateRoleFn: func(_ context.Context, id string, upd RoleUpdate) (auth.Role, error) {
			got = upd
			return auth.Role{ID: id, OrganizationID: "org-1", Name: *upd.Name}, nil
		},
	}
	reg := NewRegistry(store, nil, nil)

	name := " Front desk "
	perms := []PermissionInput{{Module: "citas", Permissions: auth.Capabilities{View: true}}}
	role, err := reg.UpdateRole(context.Background(), adminOf("org-1"), "role-1", RoleEdit{Name: &name, Permissions: &perms})
	require.NoError(t, err)
	assert.Equal(t, "Front desk", role.Name)
	require.NotNil(t, got.Permissions)
	assert.Len(t, *got.Permissions, 1)
	assert.Nil(t, got.Description)
}

func TestDeactivateRoleAuditsCascade(t *testing.T) {
	store := &stubStore{
		getRoleFn:    roleIn("org-1"),
		deactivateFn: func(context.Context, string) (int64, error) { return 3, nil },
	}
	rec := &recorder{}
	reg := NewRegistry(store, rec, nil)

	require.NoError(t, reg.DeactivateRole(context.Background(), adminOf("org-1"), "role-1"))
	require.Len(t, rec.entries, 1)
	assert.Equal(t, int64(3), rec.entries[0].Details["role_users_deactivated"])
}

func TestSnapshot(t *testing.T) {
	perms := []auth.Permission{{ID: "p1", Module: auth.ModuleAppointments, Permissions: auth.Capabilities{View: true}}}
	store := &stubStore{
		getRoleFn: func(_ context.Context, id string) (auth.Role, error) {
			switch id {
			case "active":
				return auth.Role{ID: id, OrganizationID: "org-1", Active: true}, nil
			case "inactive":
				return auth.Role{ID: id, OrganizationID: "org-1"}, nil
			}
			return auth.Role{}, auth.ErrNotFound
		},
		listPermsFn: func(context.Context, string) ([]auth.Permission, error) { return perms, nil },
	}
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()

	role, err := reg.Snapshot(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, perms, role.Permissions)

	_, err = reg.Snapshot(ctx, "inactive")
	require.ErrorIs(t, err, auth.ErrRoleNotFound)
	_, err = reg.Snapshot(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrRoleNotFound)
	_, err = reg.Snapshot(ctx, "")
	require.ErrorIs(t, err, auth.ErrRoleNotFound)
}
