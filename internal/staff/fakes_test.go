package staff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/identity"
)

type memStore struct {
	mu        sync.Mutex
	users     map[string]auth.RoleUser
	touched   map[string]time.Time
	seq       int
	createErr error
}

func newMemStore(users ...auth.RoleUser) *memStore {
	m := &memStore{users: map[string]auth.RoleUser{}, touched: map[string]time.Time{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memStore) RoleUsersByIdentifier(_ context.Context, identifier string) ([]auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.RoleUser
	for _, u := range m.users {
		if u.Identifier == identifier {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) RoleUserByEmail(_ context.Context, email string) (auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.RoleUser{}, auth.ErrNotFound
}

func (m *memStore) RoleUserByID(_ context.Context, id string) (auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.RoleUser{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *memStore) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.Active = active
	m.users[id] = u
}

func (m *memStore) TouchLastAccess(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
	return nil
}

func (m *memStore) CreateRoleUser(_ context.Context, ru auth.RoleUser) (auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return auth.RoleUser{}, m.createErr
	}
	for _, u := range m.users {
		if u.Email == ru.Email || (u.OrganizationID == ru.OrganizationID && u.Identifier == ru.Identifier) {
			return auth.RoleUser{}, auth.ErrConflict
		}
	}
	m.seq++
	ru.ID = fmt.Sprintf("ru-new-%d", m.seq)
	m.users[ru.ID] = ru
	return ru, nil
}

func (m *memStore) UpdateRoleUser(_ context.Context, id string, upd RoleUserUpdate) (auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.RoleUser{}, auth.ErrNotFound
	}
	if upd.RoleID != nil {
		u.RoleID = *upd.RoleID
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Identifier != nil {
		u.Identifier = *upd.Identifier
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	m.users[id] = u
	return u, nil
}

func (m *memStore) ListRoleUsers(_ context.Context, org string) ([]auth.RoleUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.RoleUser
	for _, u := range m.users {
		if u.OrganizationID == org {
			out = append(out, u)
		}
	}
	return out, nil
}

// memRoles is a live permission source whose matrix admins can edit.
type memRoles struct {
	mu    sync.RWMutex
	roles map[string]auth.Role
}

func (m *memRoles) Snapshot(_ context.Context, roleID string) (auth.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	if !ok || !r.Active {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	perms := make([]auth.Permission, len(r.Permissions))
	copy(perms, r.Permissions)
	r.Permissions = perms
	return r, nil
}

func (m *memRoles) setPermissions(roleID string, perms ...auth.Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.roles[roleID]
	r.Permissions = perms
	m.roles[roleID] = r
}

func (m *memRoles) setActive(roleID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.roles[roleID]
	r.Active = active
	m.roles[roleID] = r
}

type fakeCreds struct {
	mu        sync.Mutex
	passwords map[string]string
	subjects  map[string]string
	signIns   int
	creates   int
	deleted   []string
}

func (f *fakeCreds) SignInWithPassword(_ context.Context, email, password string) (identity.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	if pw, ok := f.passwords[email]; !ok || pw != password {
		return identity.Subject{}, auth.ErrInvalidCredentials
	}
	return identity.Subject{ID: f.subjects[email], Email: email}, nil
}

func (f *fakeCreds) CreateAccount(_ context.Context, email, password string) (identity.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, ok := f.passwords[email]; ok {
		return identity.Subject{}, auth.ErrConflict
	}
	f.passwords[email] = password
	f.subjects[email] = "sub-" + email
	return identity.Subject{ID: "sub-" + email, Email: email}, nil
}

func (f *fakeCreds) DeleteAccount(_ context.Context, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, subjectID)
	for email, sub := range f.subjects {
		if sub == subjectID {
			delete(f.subjects, email)
			delete(f.passwords, email)
		}
	}
	return nil
}

func (f *fakeCreds) hasAccount(email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.passwords[email]
	return ok
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

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
