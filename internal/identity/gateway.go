package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"clinica.app/internal/auth"
)

const bearerPrefix = "bearer "

// UserStore maps provider subjects to application users.
type UserStore interface {
	UserByExternalID(ctx context.Context, externalID string) (auth.User, error)
}

// Gateway turns an inbound credential into an application User. It never
// writes: a valid credential without a local profile is reported, not repaired.
type Gateway struct {
	provider   Provider
	users      UserStore
	cookieName string
	log        *zap.Logger
}

func NewGateway(provider Provider, users UserStore, cookieName string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{provider: provider, users: users, cookieName: cookieName, log: log}
}

// Resolve verifies token with the provider and loads the matching user.
func (g *Gateway) Resolve(ctx context.Context, token string) (auth.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.User{}, auth.ErrUnauthenticated
	}
	subject, err := g.provider.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return auth.User{}, auth.ErrUnauthenticated
		}
		return auth.User{}, fmt.Errorf("verify token: %w", err)
	}
	user, err := g.users.UserByExternalID(ctx, subject.ID)
	if errors.Is(err, auth.ErrNotFound) {
		g.log.Info("verified subject has no profile", zap.String("subject", subject.ID))
		return auth.User{}, auth.ErrProfileNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return auth.User{}, auth.ErrDisabled
	}
	return user, nil
}

// HeaderCredential returns the bearer token of r. ok is true whenever an
// Authorization header is present, even a malformed one, so callers do not
// fall through to weaker credentials.
func (g *Gateway) HeaderCredential(r *http.Request) (token string, ok bool) {
	h := r.Header.Get("Authorization")
	if strings.TrimSpace(h) == "" {
		return "", false
	}
	token, err := BearerToken(h)
	if err != nil {
		return "", true
	}
	return token, true
}

// CookieCredential returns the provider session cookie of r.
func (g *Gateway) CookieCredential(r *http.Request) (string, bool) {
	if g.cookieName == "" {
		return "", false
	}
	c, err := r.Cookie(g.cookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", false
	}
	return c.Value, true
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), bearerPrefix) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
