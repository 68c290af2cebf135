package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
)

const tokenIssuer = "clinica-staff"

// Codec turns a session descriptor into the opaque cookie value and back.
// Decode fails with auth.ErrUnauthenticated for tampered, expired or revoked
// values.
type Codec interface {
	Encode(ctx context.Context, s auth.Session) (string, error)
	Decode(ctx context.Context, value string) (auth.Session, error)
	Revoke(ctx context.Context, value string) error
}

type sessionClaims struct {
	Session auth.Session `json:"session"`
	jwt.RegisteredClaims
}

// TokenCodec carries the descriptor inside an HS256-signed JWT, so the
// cookie is self-contained but tamper evident. Revocation is not possible
// before expiry.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenCodec(secret []byte, ttl time.Duration) (*TokenCodec, error) {
	if len(secret) < 32 {
		return nil, errors.New("staff: session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("staff: session ttl must be positive")
	}
	return &TokenCodec{secret: secret, ttl: ttl, now: time.Now}, nil
}

func (c *TokenCodec) Encode(_ context.Context, s auth.Session) (string, error) {
	now := c.now().UTC()
	claims := sessionClaims{
		Session: s,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.RoleUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        ids.NewUUID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

func (c *TokenCodec) Decode(_ context.Context, value string) (auth.Session, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(value, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, auth.ErrUnauthenticated
		}
		return c.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	if claims.Session.RoleUserID == "" || claims.Session.RoleUserID != claims.Subject {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	return claims.Session, nil
}

// Revoke is a no-op: a stateless token stays valid until it expires.
func (c *TokenCodec) Revoke(context.Context, string) error {
	return nil
}
