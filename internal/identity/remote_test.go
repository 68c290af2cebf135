package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinica.app/internal/auth"
)

func newIdPServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub-1","email":"Doc@Clinic.test"}`))
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["email"] != "ana@clinic.test" || body["password"] != "s3cret-pass" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"t","user":{"id":"sub-2","email":"ana@clinic.test"}}`))
	})
	mux.HandleFunc("/auth/v1/admin/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["email"] == "taken@clinic.test" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"msg":"email already registered"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"sub-3","email":"new@clinic.test"}`))
	})
	mux.HandleFunc("/auth/v1/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		switch strings.TrimPrefix(r.URL.Path, "/auth/v1/admin/users/") {
		case "sub-3":
			w.WriteHeader(http.StatusOK)
		case "gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteVerifyToken(t *testing.T) {
	srv := newIdPServer(t)
	p := NewRemoteProvider(srv.URL, "anon-key", nil)

	sub, err := p.VerifyToken(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, Subject{ID: "sub-1", Email: "doc@clinic.test"}, sub)

	_, err = p.VerifyToken(context.Background(), "bad-token")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = p.VerifyToken(context.Background(), "")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestRemoteSignIn(t *testing.T) {
	srv := newIdPServer(t)
	p := NewRemoteProvider(srv.URL, "anon-key", nil)

	sub, err := p.SignInWithPassword(context.Background(), " Ana@clinic.test", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", sub.ID)

	_, err = p.SignInWithPassword(context.Background(), "ana@clinic.test", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRemoteCreateAccount(t *testing.T) {
	srv := newIdPServer(t)
	p := NewRemoteProvider(srv.URL, "anon-key", nil)

	sub, err := p.CreateAccount(context.Background(), "new@clinic.test", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "sub-3", sub.ID)

	_, err = p.CreateAccount(context.Background(), "taken@clinic.test", "s3cret-pass")
	require.ErrorIs(t, err, auth.ErrConflict)
}

func TestRemoteDeleteAccount(t *testing.T) {
	srv := newIdPServer(t)
	p := NewRemoteProvider(srv.URL, "anon-key", nil)
	p.client.SetRetryCount(0)

	require.NoError(t, p.DeleteAccount(context.Background(), "sub-3"))
	require.NoError(t, p.DeleteAccount(context.Background(), "gone"))
	require.NoError(t, p.DeleteAccount(context.Background(), ""))
	require.Error(t, p.DeleteAccount(context.Background(), "broken"))
}
