package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinica.app/internal/auth"
)

type stubProvider struct {
	verifyFn func(context.Context, string) (Subject, error)
}

func (s *stubProvider) VerifyToken(ctx context.Context, token string) (Subject, error) {
	return s.verifyFn(ctx, token)
}

func (s *stubProvider) SignInWithPassword(context.Context, string, string) (Subject, error) {
	return Subject{}, auth.ErrInvalidCredentials
}

func (s *stubProvider) CreateAccount(context.Context, string, string) (Subject, error) {
	return Subject{}, errors.New("not supported")
}

func (s *stubProvider) DeleteAccount(context.Context, string) error { return nil }

type stubUsers struct {
	users map[string]auth.User
	err   error
}

func (s *stubUsers) UserByExternalID(_ context.Context, id string) (auth.User, error) {
	if s.err != nil {
		return auth.User{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func newGateway() *Gateway {
	provider := &stubProvider{verifyFn: func(_ context.Context, token string) (Subject, error) {
		switch token {
		case "doctor", "orphan", "disabled":
			return Subject{ID: "sub-" + token}, nil
		case "boom":
			return Subject{}, errors.New("provider down")
		}
		return Subject{}, auth.ErrUnauthenticated
	}}
	users := &stubUsers{users: map[string]auth.User{
		"sub-doctor":   {ID: "u-1", ExternalID: "sub-doctor", Role: auth.AppRoleDoctor, OrganizationID: "org-1", Active: true},
		"sub-disabled": {ID: "u-2", ExternalID: "sub-disabled", Role: auth.AppRoleNurse, Active: false},
	}}
	return NewGateway(provider, users, "sb-access-token", nil)
}

func TestGatewayResolve(t *testing.T) {
	g := newGateway()
	ctx := context.Background()

	u, err := g.Resolve(ctx, "doctor")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	_, err = g.Resolve(ctx, "orphan")
	require.ErrorIs(t, err, auth.ErrProfileNotFound)
	assert.NotErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = g.Resolve(ctx, "disabled")
	require.ErrorIs(t, err, auth.ErrDisabled)

	_, err = g.Resolve(ctx, "forged")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = g.Resolve(ctx, "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestGatewayCredentials(t *testing.T) {
	g := newGateway()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer doctor")
	tok, ok := g.HeaderCredential(r)
	require.True(t, ok)
	assert.Equal(t, "doctor", tok)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "doctor"})
	_, ok = g.HeaderCredential(r)
	assert.False(t, ok)
	tok, ok = g.CookieCredential(r)
	require.True(t, ok)
	assert.Equal(t, "doctor", tok)

	// a malformed header still counts as presented
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	tok, ok = g.HeaderCredential(r)
	assert.True(t, ok)
	assert.Empty(t, tok)

	_, ok = g.CookieCredential(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("Bearer   ")
	require.Error(t, err)
	_, err = BearerToken("Token abc")
	require.Error(t, err)
}
