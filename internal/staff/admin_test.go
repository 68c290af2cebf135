package staff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
)

func clinicAdmin(org string) auth.Identity {
	return auth.UserIdentity(auth.User{ID: "admin", Role: auth.AppRoleClinicAdmin, OrganizationID: org, Active: true})
}

func TestCreateRoleUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ru, err := f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), RoleUserInput{
		RoleID:     "role-reception",
		FirstName:  " Luis ",
		LastName:   "Gómez",
		Identifier: "v-555",
		Email:      "Luis@Clinic.test",
		Password:   "luis-pass-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", ru.OrganizationID)
	assert.Equal(t, "V-555", ru.Identifier)
	assert.Equal(t, "luis@clinic.test", ru.Email)
	assert.Equal(t, "sub-luis@clinic.test", ru.ExternalID)
	assert.True(t, ru.Active)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionCreate, f.audit.entries[0].Action)
	assert.Equal(t, auth.ModuleUsers, f.audit.entries[0].Module)

	sess, _, err := f.svc.Login(ctx, LoginInput{Identifier: "V-555", Password: "luis-pass-123"})
	require.NoError(t, err)
	assert.Equal(t, ru.ID, sess.RoleUserID)
}

func TestCreateRoleUserRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	base := RoleUserInput{RoleID: "role-reception", FirstName: "A", LastName: "B", Identifier: "V-9", Email: "a@clinic.test", Password: "pass-1234"}

	in := base
	in.RoleID = "role-other"
	_, err := f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.ErrorIs(t, err, auth.ErrInvalidInput, "role of another organization")

	in = base
	in.Identifier = "V-12345678"
	_, err = f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.ErrorIs(t, err, auth.ErrConflict, "identifier unique within organization")

	in = base
	in.OrganizationID = "org-2"
	_, err = f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.ErrorIs(t, err, auth.ErrForbidden)

	in = base
	in.Email = "ana@clinic.test"
	_, err = f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.ErrorIs(t, err, auth.ErrConflict, "provider email taken")

	in = base
	in.FirstName = " "
	_, err = f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	// the same identifier is fine in another organization
	in = base
	in.Identifier = "V-12345678"
	in.RoleID = "role-other"
	_, err = f.svc.CreateRoleUser(ctx, clinicAdmin("org-2"), in)
	require.NoError(t, err)
}

func TestCreateRoleUserEmailTakenSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CreateRoleUser(context.Background(), clinicAdmin("org-1"), RoleUserInput{
		RoleID: "role-reception", FirstName: "A", LastName: "B", Identifier: "V-9", Email: "ANA@clinic.test", Password: "pass-1234",
	})
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Zero(t, f.creds.creates)
}

func TestCreateRoleUserRollsBackProviderAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	in := RoleUserInput{RoleID: "role-reception", FirstName: "Luis", LastName: "Gómez", Identifier: "V-555", Email: "luis@clinic.test", Password: "luis-pass-123"}

	f.store.createErr = errors.New("connection reset")
	_, err := f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.Error(t, err)
	assert.Equal(t, []string{"sub-luis@clinic.test"}, f.creds.deleted)
	assert.False(t, f.creds.hasAccount("luis@clinic.test"))
	assert.Empty(t, f.audit.entries)

	f.store.createErr = nil
	ru, err := f.svc.CreateRoleUser(ctx, clinicAdmin("org-1"), in)
	require.NoError(t, err)
	assert.Equal(t, "sub-luis@clinic.test", ru.ExternalID)
}

func TestUpdateAndDeactivateRoleUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	name := "Ana María"
	ru, err := f.svc.UpdateRoleUser(ctx, clinicAdmin("org-1"), "ru-ana", RoleUserUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ana María", ru.FirstName)

	other := "role-other"
	_, err = f.svc.UpdateRoleUser(ctx, clinicAdmin("org-1"), "ru-ana", RoleUserUpdate{RoleID: &other})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	taken := "V-2"
	_, err = f.svc.UpdateRoleUser(ctx, clinicAdmin("org-1"), "ru-ana", RoleUserUpdate{Identifier: &taken})
	require.ErrorIs(t, err, auth.ErrConflict)

	require.ErrorIs(t, f.svc.DeactivateRoleUser(ctx, clinicAdmin("org-2"), "ru-ana"), auth.ErrForbidden)
	require.NoError(t, f.svc.DeactivateRoleUser(ctx, clinicAdmin("org-1"), "ru-ana"))

	last := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, audit.ActionDeactivate, last.Action)

	_, _, err = f.svc.Login(ctx, LoginInput{Identifier: "V-12345678", Password: "ana-pass-123"})
	require.ErrorIs(t, err, auth.ErrDisabled)
}

func TestListRoleUsersScoped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	got, err := f.svc.ListRoleUsers(ctx, clinicAdmin("org-2"), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ru-twin-2", got[0].ID)

	_, err = f.svc.ListRoleUsers(ctx, clinicAdmin("org-2"), "org-1")
	require.ErrorIs(t, err, auth.ErrForbidden)
}
