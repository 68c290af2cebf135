package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
)

// memStore mirrors the shared identifier claim of the database.
type memStore struct {
	mu      sync.Mutex
	reg     map[string]Patient
	unreg   map[string]UnregisteredPatient
	claims  map[string]Ref
	seq     int
	probes  []Kind
	failReg error
}

func newMemStore() *memStore {
	return &memStore{reg: map[string]Patient{}, unreg: map[string]UnregisteredPatient{}, claims: map[string]Ref{}}
}

func (m *memStore) RegisteredByID(_ context.Context, id string) (Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, KindRegistered)
	if m.failReg != nil {
		return Patient{}, m.failReg
	}
	p, ok := m.reg[id]
	if !ok {
		return Patient{}, auth.ErrNotFound
	}
	return p, nil
}

func (m *memStore) UnregisteredByID(_ context.Context, id string) (UnregisteredPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, KindUnregistered)
	u, ok := m.unreg[id]
	if !ok {
		return UnregisteredPatient{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *memStore) claim(identifier string, ref Ref) error {
	if identifier == "" {
		return nil
	}
	if existing, ok := m.claims[identifier]; ok {
		return &DuplicateIdentifierError{Identifier: identifier, Existing: existing}
	}
	m.claims[identifier] = ref
	return nil
}

func (m *memStore) CreateRegistered(_ context.Context, p Patient) (Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p.ID = fmt.Sprintf("p-%d", m.seq)
	if err := m.claim(p.Identifier, Registered(p.ID)); err != nil {
		return Patient{}, err
	}
	m.reg[p.ID] = p
	return p, nil
}

func (m *memStore) CreateUnregistered(_ context.Context, u UnregisteredPatient) (UnregisteredPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	u.ID = fmt.Sprintf("u-%d", m.seq)
	if err := m.claim(u.Identifier, Unregistered(u.ID)); err != nil {
		return UnregisteredPatient{}, err
	}
	m.unreg[u.ID] = u
	return u, nil
}

type recorder struct {
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) { r.entries = append(r.entries, e) }

func staffOf(org string) auth.Identity {
	return auth.StaffIdentity(auth.Session{RoleUserID: "ru-" + org, RoleID: "role", OrganizationID: org})
}

func doctorOf(org string) auth.Identity {
	return auth.UserIdentity(auth.User{ID: "doc-" + org, Role: auth.AppRoleDoctor, OrganizationID: org, Active: true})
}

func TestUnregisteredThenRegisteredDuplicate(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, nil)
	ctx := context.Background()

	walkIn, err := r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "Rosa", LastName: "Díaz", Identifier: "V-9999999"})
	require.NoError(t, err)
	assert.Equal(t, KindUnregistered, walkIn.Kind)
	assert.Equal(t, "org-1", walkIn.OrganizationID)

	_, err = r.Register(ctx, doctorOf("org-2"), PatientInput{FirstName: "Rosa", LastName: "Díaz", Identifier: "v-9999999"})
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	var dup *DuplicateIdentifierError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, walkIn.ID, dup.Existing.ID())
	assert.Equal(t, KindUnregistered, dup.Existing.Kind())
}

func TestRegisteredBlocksUnregisteredAndUnregisteredBlocksUnregistered(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, nil)
	ctx := context.Background()

	reg, err := r.Register(ctx, doctorOf("org-1"), PatientInput{FirstName: "Juan", LastName: "Ruiz", Identifier: "V-1"})
	require.NoError(t, err)
	_, err = r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "Juan", LastName: "Ruiz", Identifier: "V-1"})
	var dup *DuplicateIdentifierError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, reg.ID, dup.Existing.ID())

	first, err := r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "Eva", LastName: "Gil", Identifier: "E-2"})
	require.NoError(t, err)
	_, err = r.CreateUnregistered(ctx, staffOf("org-2"), PatientInput{FirstName: "Eva", LastName: "Gil", Identifier: "E-2"})
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.Existing.ID())

	// walk-ins without an identifier never collide
	_, err = r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "No", LastName: "Id"})
	require.NoError(t, err)
	_, err = r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "No", LastName: "Id"})
	require.NoError(t, err)
}

func TestClassifyProbesRegisteredFirst(t *testing.T) {
	store := newMemStore()
	store.reg["p-1"] = Patient{ID: "p-1", FirstName: "Reg", LastName: "One", Identifier: "R-1"}
	store.unreg["u-1"] = UnregisteredPatient{ID: "u-1", OrganizationID: "org-1", FirstName: "Walk", LastName: "In"}
	r := NewResolver(store, nil, nil)
	ctx := context.Background()

	v, err := r.Classify(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, KindRegistered, v.Kind)
	assert.Equal(t, []Kind{KindRegistered}, store.probes)

	store.probes = nil
	v, err = r.Classify(ctx, " u-1 ")
	require.NoError(t, err)
	assert.Equal(t, KindUnregistered, v.Kind)
	assert.Equal(t, "Walk", v.FirstName)
	assert.Equal(t, []Kind{KindRegistered, KindUnregistered}, store.probes)

	_, err = r.Classify(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)

	_, err = r.Classify(ctx, "")
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	store.failReg = errors.New("db down")
	_, err = r.Classify(ctx, "u-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrNotFound)
}

func TestNormalizedViewIsShapeStable(t *testing.T) {
	rv := NormalizeRegistered(Patient{ID: "p", FirstName: "A", LastName: "B", Identifier: "X", Email: "a@b.c"})
	uv := NormalizeUnregistered(UnregisteredPatient{ID: "u", OrganizationID: "o", FirstName: "A", LastName: "B", Identifier: "X"})

	assert.Equal(t, Registered("p"), rv.Ref())
	assert.Equal(t, Unregistered("u"), uv.Ref())
	assert.Equal(t, rv.FirstName, uv.FirstName)
	assert.Equal(t, rv.Identifier, uv.Identifier)
}

func TestForWrite(t *testing.T) {
	store := newMemStore()
	store.reg["p-1"] = Patient{ID: "p-1", FirstName: "Reg", LastName: "One"}
	store.unreg["u-1"] = UnregisteredPatient{ID: "u-1", OrganizationID: "org-1", FirstName: "Walk", LastName: "In"}
	store.unreg["u-2"] = UnregisteredPatient{ID: "u-2", OrganizationID: "org-2", FirstName: "Other", LastName: "Clinic"}
	r := NewResolver(store, nil, nil)
	ctx := context.Background()
	actor := staffOf("org-1")

	ref, _, err := r.ForWrite(ctx, actor, WriteRef{PatientID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, Unregistered("u-1"), ref)
	link := ref.Link()
	require.NoError(t, link.Validate())
	assert.Nil(t, link.PatientID)
	assert.Equal(t, "u-1", *link.UnregisteredPatientID)

	ref, _, err = r.ForWrite(ctx, actor, WriteRef{PatientID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, Registered("p-1"), ref)

	ref, _, err = r.ForWrite(ctx, actor, WriteRef{UnregisteredPatientID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, Unregistered("u-1"), ref)

	_, _, err = r.ForWrite(ctx, actor, WriteRef{PatientID: "nope"})
	require.ErrorIs(t, err, ErrAmbiguousOrUnknownPatient)
	_, _, err = r.ForWrite(ctx, actor, WriteRef{PatientID: "u-1", Kind: "registered"})
	require.ErrorIs(t, err, ErrAmbiguousOrUnknownPatient)
	_, _, err = r.ForWrite(ctx, actor, WriteRef{PatientID: "p-1", UnregisteredPatientID: "u-1"})
	require.ErrorIs(t, err, ErrAmbiguousOrUnknownPatient)
	_, _, err = r.ForWrite(ctx, actor, WriteRef{})
	require.ErrorIs(t, err, ErrAmbiguousOrUnknownPatient)

	_, _, err = r.ForWrite(ctx, actor, WriteRef{PatientID: "u-2"})
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestGetIsTenantScoped(t *testing.T) {
	store := newMemStore()
	store.unreg["u-1"] = UnregisteredPatient{ID: "u-1", OrganizationID: "org-1", FirstName: "Walk", LastName: "In"}
	store.unreg["u-ind"] = UnregisteredPatient{ID: "u-ind", CreatedByUserID: "doc-", FirstName: "Solo", LastName: "Practice"}
	store.reg["p-1"] = Patient{ID: "p-1", UserID: "pat-1", FirstName: "Reg", LastName: "One"}
	r := NewResolver(store, nil, nil)
	ctx := context.Background()

	_, err := r.Get(ctx, staffOf("org-1"), "u-1", "")
	require.NoError(t, err)
	_, err = r.Get(ctx, staffOf("org-2"), "u-1", "")
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = r.Get(ctx, doctorOf("org-2"), "u-1", "unregistered")
	require.ErrorIs(t, err, auth.ErrForbidden)

	independent := auth.UserIdentity(auth.User{ID: "doc-", Role: auth.AppRoleDoctor, Active: true})
	_, err = r.Get(ctx, independent, "u-ind", "")
	require.NoError(t, err)
	_, err = r.Get(ctx, doctorOf("org-1"), "u-ind", "")
	require.ErrorIs(t, err, auth.ErrForbidden)

	owner := auth.UserIdentity(auth.User{ID: "pat-1", Role: auth.AppRolePatient, Active: true})
	stranger := auth.UserIdentity(auth.User{ID: "pat-2", Role: auth.AppRolePatient, Active: true})
	_, err = r.Get(ctx, owner, "p-1", "")
	require.NoError(t, err)
	_, err = r.Get(ctx, stranger, "p-1", "")
	require.ErrorIs(t, err, auth.ErrForbidden)
	_, err = r.Get(ctx, doctorOf("org-2"), "p-1", "registered")
	require.NoError(t, err)

	_, err = r.Get(ctx, staffOf("org-1"), "u-1", "bogus")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestCreateAuditsAndValidates(t *testing.T) {
	rec := &recorder{}
	r := NewResolver(newMemStore(), rec, nil)
	ctx := context.Background()

	_, err := r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "A"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "A", LastName: "B", BirthDate: "31/01/1990"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = r.Register(ctx, doctorOf("org-1"), PatientInput{FirstName: "A", LastName: "B"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
	assert.Empty(t, rec.entries)

	v, err := r.CreateUnregistered(ctx, staffOf("org-1"), PatientInput{FirstName: "A", LastName: "B", BirthDate: "1990-01-31"})
	require.NoError(t, err)
	require.NotNil(t, v.BirthDate)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "unregistered_patient", rec.entries[0].EntityType)
	assert.Equal(t, auth.ModulePatients, rec.entries[0].Module)

	pat := auth.UserIdentity(auth.User{ID: "pat-9", Role: auth.AppRolePatient, Active: true})
	reg, err := r.Register(ctx, pat, PatientInput{FirstName: "C", LastName: "D", Identifier: "v-77"})
	require.NoError(t, err)
	assert.Equal(t, "V-77", reg.Identifier)
	_, err = r.Get(ctx, pat, reg.ID, "")
	require.NoError(t, err)
}
