package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
)

const (
	localIssuer       = "clinica-local"
	minPasswordLength = 8
)

// Account is a credential held by LocalProvider.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountStore persists local credentials. Lookups return auth.ErrNotFound
// for unknown emails and auth.ErrConflict for duplicates.
type AccountStore interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, acc Account) (Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

type localClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// LocalProvider is a self-hosted identity provider: bcrypt password hashes
// and HS256 access tokens. It backs development and single-node installs.
type LocalProvider struct {
	accounts AccountStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewLocalProvider(accounts AccountStore, secret []byte, ttl time.Duration) (*LocalProvider, error) {
	if len(secret) < 32 {
		return nil, errors.New("identity: local provider secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalProvider{accounts: accounts, secret: secret, ttl: ttl, now: time.Now}, nil
}

// IssueToken signs an access token for s.
func (p *LocalProvider) IssueToken(s Subject) (string, time.Time, error) {
	now := p.now().UTC()
	exp := now.Add(p.ttl)
	claims := localClaims{
		Email: s.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    localIssuer,
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.NewUUID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (p *LocalProvider) VerifyToken(_ context.Context, token string) (Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, auth.ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(token, &localClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, auth.ErrUnauthenticated
		}
		return p.secret, nil
	},
		jwt.WithIssuer(localIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return Subject{}, auth.ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*localClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Subject{}, auth.ErrUnauthenticated
	}
	return Subject{ID: claims.Subject, Email: claims.Email}, nil
}

func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (Subject, error) {
	acc, err := p.accounts.AccountByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, auth.ErrNotFound) {
		// keep the timing of unknown emails close to a wrong password
		_ = bcrypt.CompareHashAndPassword(p.dummy(), []byte(password))
		return Subject{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return Subject{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return Subject{}, auth.ErrInvalidCredentials
	}
	return Subject{ID: acc.ID, Email: acc.Email}, nil
}

func (p *LocalProvider) CreateAccount(ctx context.Context, email, password string) (Subject, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Subject{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return Subject{}, fmt.Errorf("%w: password must be at least %d characters", auth.ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Subject{}, fmt.Errorf("hash password: %w", err)
	}
	acc, err := p.accounts.CreateAccount(ctx, Account{
		ID:           ids.NewUUID(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	})
	if err != nil {
		return Subject{}, err
	}
	return Subject{ID: acc.ID, Email: acc.Email}, nil
}

func (p *LocalProvider) DeleteAccount(ctx context.Context, subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return nil
	}
	return p.accounts.DeleteAccount(ctx, subjectID)
}

func (p *LocalProvider) dummy() []byte {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("clinica-dummy-password"), bcrypt.DefaultCost)
	})
	return p.dummyHash
}
