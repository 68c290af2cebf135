package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"clinica.app/internal/auth"
)

type memStore struct {
	mu        sync.Mutex
	entries   []Entry
	insertErr error
	block     bool
}

func (m *memStore) InsertAuditEntry(ctx context.Context, e Entry) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) ListAuditEntries(_ context.Context, org string, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].OrganizationID == org {
			out = append(out, m.entries[i])
		}
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func staffActor() auth.Identity {
	return auth.StaffIdentity(auth.Session{
		RoleUserID:     "ru-1",
		RoleID:         "role-1",
		OrganizationID: "org-1",
		FirstName:      "Ana",
		LastName:       "Pérez",
		Identifier:     "V-12345678",
	})
}

func TestRecordFillsStaffActor(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, nil, time.Second)

	ctx := WithRequestID(context.Background(), "req-1")
	l.Record(ctx, For(staffActor(), ActionLogin, auth.ModuleAuth).On("role_user", "ru-1"))

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "org-1", e.OrganizationID)
	assert.Equal(t, "role-1", e.RoleID)
	assert.Equal(t, "ru-1", e.RoleUserID)
	assert.Equal(t, "V-12345678", e.Identifier)
	assert.Equal(t, "req-1", e.RequestID)
	assert.NotNil(t, e.Details)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestRecordUserActorHasNoRole(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, nil, time.Second)

	id := auth.UserIdentity(auth.User{ID: "u-1", OrganizationID: "org-1", FirstName: "Luis"})
	l.Record(context.Background(), For(id, ActionCreate, auth.ModuleRoles))

	require.Len(t, store.entries, 1)
	assert.Equal(t, "u-1", store.entries[0].ActorUserID)
	assert.Empty(t, store.entries[0].RoleID)
}

func TestRecordFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memStore{insertErr: errors.New("connection refused")}
	l := NewLogger(store, zap.New(core), time.Second)

	l.Record(context.Background(), For(staffActor(), ActionUpdate, auth.ModuleRoles))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit write failed", entry.Message)
	assert.Equal(t, "update", entry.ContextMap()["action"])
}

func TestRecordAbandonsSlowWrites(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l := NewLogger(&memStore{block: true}, zap.New(core), 20*time.Millisecond)

	// a cancelled caller must still get a bounded attempt
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	l.Record(ctx, For(staffActor(), ActionUpdate, auth.ModuleRoles))

	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, logs.Len())
}

func TestRetriedRequestsProduceDuplicateEntries(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, nil, time.Second)

	e := For(staffActor(), ActionUpdate, auth.ModuleRoles).On("role", "role-1")
	l.Record(context.Background(), e)
	l.Record(context.Background(), e)

	require.Len(t, store.entries, 2)
	assert.NotEqual(t, store.entries[0].ID, store.entries[1].ID)
}

func TestListNewestFirstAndScoped(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store, nil, time.Second)
	l.Record(context.Background(), Entry{OrganizationID: "org-1", Action: "a"})
	l.Record(context.Background(), Entry{OrganizationID: "org-2", Action: "b"})
	l.Record(context.Background(), Entry{OrganizationID: "org-1", Action: "c"})

	got, err := l.List(context.Background(), "org-1", Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Action)
	assert.Equal(t, "a", got[1].Action)

	_, err = l.List(context.Background(), " ", Filter{})
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}
