// Package staff authenticates role users, the organization-internal staff
// accounts scoped by custom roles, and manages their sessions.
package staff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/identity"
	"clinica.app/internal/obs"
)

// RoleUserUpdate edits a role user. Nil fields are left unchanged.
type RoleUserUpdate struct {
	RoleID     *string `json:"role_id"`
	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	Identifier *string `json:"identifier"`
	Active     *bool   `json:"is_active"`
}

// Store persists role users. Identifiers are unique within an organization
// and emails are unique globally; violations surface as auth.ErrConflict.
type Store interface {
	RoleUsersByIdentifier(ctx context.Context, identifier string) ([]auth.RoleUser, error)
	RoleUserByEmail(ctx context.Context, email string) (auth.RoleUser, error)
	RoleUserByID(ctx context.Context, id string) (auth.RoleUser, error)
	TouchLastAccess(ctx context.Context, id string, at time.Time) error
	CreateRoleUser(ctx context.Context, ru auth.RoleUser) (auth.RoleUser, error)
	UpdateRoleUser(ctx context.Context, id string, upd RoleUserUpdate) (auth.RoleUser, error)
	ListRoleUsers(ctx context.Context, organizationID string) ([]auth.RoleUser, error)
}

// Roles supplies the role and permission snapshot captured at login.
type Roles interface {
	Snapshot(ctx context.Context, roleID string) (auth.Role, error)
}

// Credentials is the identity provider surface staff accounts need.
type Credentials interface {
	SignInWithPassword(ctx context.Context, email, password string) (identity.Subject, error)
	CreateAccount(ctx context.Context, email, password string) (identity.Subject, error)
	DeleteAccount(ctx context.Context, subjectID string) error
}

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// LoginInput identifies the staff member by Identifier or Email.
// OrganizationID disambiguates an identifier registered in several clinics.
type LoginInput struct {
	Identifier     string `json:"identifier"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID string `json:"organizationId"`
}

type Service struct {
	store  Store
	roles  Roles
	creds  Credentials
	codec  Codec
	audit  audit.Recorder
	cookie CookieConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, roles Roles, creds Credentials, codec Codec, rec audit.Recorder, cookie CookieConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cookie.Name == "" {
		cookie.Name = "role_user_session"
	}
	if cookie.TTL <= 0 {
		cookie.TTL = 7 * 24 * time.Hour
	}
	return &Service{
		store:  store,
		roles:  roles,
		creds:  creds,
		codec:  codec,
		audit:  rec,
		cookie: cookie,
		log:    log,
		now:    time.Now,
	}
}

// Login authenticates a role user and returns the session snapshot plus the
// encoded cookie value. A deactivated account fails with auth.ErrDisabled
// before the password is checked.
func (s *Service) Login(ctx context.Context, in LoginInput) (auth.Session, string, error) {
	sess, value, err := s.login(ctx, in)
	obs.ObserveStaffLogin(loginOutcome(err))
	return sess, value, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (auth.Session, string, error) {
	identifier := auth.NormalizeIdentifier(in.Identifier)
	email := auth.NormalizeEmail(in.Email)
	if in.Password == "" || (identifier == "" && email == "") {
		return auth.Session{}, "", fmt.Errorf("%w: identifier or email and password are required", auth.ErrInvalidInput)
	}

	var (
		ru  auth.RoleUser
		err error
	)
	if email != "" {
		ru, err = s.store.RoleUserByEmail(ctx, email)
	} else {
		ru, err = s.byIdentifier(ctx, identifier, strings.TrimSpace(in.OrganizationID))
	}
	if err != nil {
		return auth.Session{}, "", err
	}
	if !ru.Active {
		return auth.Session{}, "", auth.ErrDisabled
	}

	subject, err := s.creds.SignInWithPassword(ctx, ru.Email, in.Password)
	if err != nil {
		return auth.Session{}, "", err
	}
	if ru.ExternalID != "" && subject.ID != ru.ExternalID {
		s.log.Warn("credential subject does not match role user",
			zap.String("role_user_id", ru.ID),
			zap.String("subject", subject.ID),
		)
		return auth.Session{}, "", auth.ErrInvalidCredentials
	}

	role, err := s.roles.Snapshot(ctx, ru.RoleID)
	if err != nil {
		return auth.Session{}, "", err
	}
	if role.OrganizationID != ru.OrganizationID {
		return auth.Session{}, "", fmt.Errorf("%w: role belongs to another organization", auth.ErrRoleNotFound)
	}

	now := s.now()
	sess := auth.NewSession(ru, role, role.Permissions, now)
	value, err := s.codec.Encode(ctx, sess)
	if err != nil {
		return auth.Session{}, "", err
	}
	if err := s.store.TouchLastAccess(ctx, ru.ID, now); err != nil {
		s.log.Warn("update last access failed", zap.Error(err), zap.String("role_user_id", ru.ID))
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.For(auth.StaffIdentity(sess), audit.ActionLogin, auth.ModuleAuth).
			On("role_user", ru.ID).
			With(map[string]any{"role_name": role.Name}))
	}
	return sess, value, nil
}

func (s *Service) byIdentifier(ctx context.Context, identifier, organizationID string) (auth.RoleUser, error) {
	found, err := s.store.RoleUsersByIdentifier(ctx, identifier)
	if err != nil {
		return auth.RoleUser{}, err
	}
	if organizationID != "" {
		filtered := found[:0:0]
		for _, ru := range found {
			if ru.OrganizationID == organizationID {
				filtered = append(filtered, ru)
			}
		}
		found = filtered
	}
	if len(found) > 1 {
		// Deactivated rows elsewhere do not make an active identifier
		// ambiguous. With no active match the first row reports Disabled.
		active := found[:0:0]
		for _, ru := range found {
			if ru.Active {
				active = append(active, ru)
			}
		}
		if len(active) == 0 {
			active = found[:1]
		}
		found = active
	}
	switch len(found) {
	case 0:
		return auth.RoleUser{}, fmt.Errorf("%w: role user not found", auth.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return auth.RoleUser{}, fmt.Errorf("%w: identifier is registered in several organizations, organizationId is required", auth.ErrInvalidInput)
	}
}

// Decode returns the snapshot held in the cookie as captured at login. It
// does not consult the database, so permission edits made since login are
// not visible.
func (s *Service) Decode(ctx context.Context, value string) (auth.Session, bool) {
	sess, err := s.codec.Decode(ctx, value)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			s.log.Error("decode staff session failed", zap.Error(err))
		}
		return auth.Session{}, false
	}
	return sess, true
}

// Snapshot is Decode for an account that is still active. Permissions stay
// as captured at login; deactivation ends the session at once.
func (s *Service) Snapshot(ctx context.Context, value string) (auth.Session, bool) {
	snap, ok := s.Decode(ctx, value)
	if !ok {
		return auth.Session{}, false
	}
	ru, err := s.store.RoleUserByID(ctx, snap.RoleUserID)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			s.log.Error("check staff session failed", zap.Error(err), zap.String("role_user_id", snap.RoleUserID))
		}
		return auth.Session{}, false
	}
	if !ru.Active || ru.OrganizationID != snap.OrganizationID {
		return auth.Session{}, false
	}
	return snap, true
}

// Verify re-reads the role user and its role and returns a descriptor with
// the permissions current at call time. Any failure yields an anonymous result.
func (s *Service) Verify(ctx context.Context, value string) (auth.Session, bool) {
	snap, ok := s.Decode(ctx, value)
	if !ok {
		return auth.Session{}, false
	}
	ru, err := s.store.RoleUserByID(ctx, snap.RoleUserID)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			s.log.Error("verify staff session failed", zap.Error(err), zap.String("role_user_id", snap.RoleUserID))
		}
		return auth.Session{}, false
	}
	if !ru.Active || ru.OrganizationID != snap.OrganizationID {
		return auth.Session{}, false
	}
	role, err := s.roles.Snapshot(ctx, ru.RoleID)
	if err != nil {
		if !errors.Is(err, auth.ErrRoleNotFound) {
			s.log.Error("verify staff role failed", zap.Error(err), zap.String("role_id", ru.RoleID))
		}
		return auth.Session{}, false
	}
	if role.OrganizationID != ru.OrganizationID {
		return auth.Session{}, false
	}
	return auth.NewSession(ru, role, role.Permissions, snap.IssuedAt), true
}

// Logout revokes value where the codec supports it. It never fails.
func (s *Service) Logout(ctx context.Context, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if err := s.codec.Revoke(ctx, value); err != nil {
		s.log.Warn("revoke staff session failed", zap.Error(err))
	}
}

// CookieName is the name of the session cookie.
func (s *Service) CookieName() string {
	return s.cookie.Name
}

// SessionCookie wraps an encoded value in the session cookie.
func (s *Service) SessionCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.cookie.TTL / time.Second),
		Expires:  s.now().Add(s.cookie.TTL),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedCookie expires the session cookie.
func (s *Service) ClearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, auth.ErrDisabled):
		return "disabled"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrRoleNotFound):
		return "role_not_found"
	case errors.Is(err, auth.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
