// Package httpapi is the HTTP surface of the clinic access layer.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/guard"
	"clinica.app/internal/identity"
	"clinica.app/internal/obs"
	"clinica.app/internal/patient"
	"clinica.app/internal/rbac"
	"clinica.app/internal/staff"
)

const serviceName = "clinica-api"

// ReadyProbe pings the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Authorizer is the access guard.
type Authorizer interface {
	Authorize(r *http.Request, req guard.Requirement) guard.Decision
	Check(r *http.Request, id auth.Identity, req guard.Requirement) guard.Decision
	CheckOrg(r *http.Request, id auth.Identity, req guard.Requirement, organizationID string) guard.Decision
}

// StaffSessions is the role-user login surface.
type StaffSessions interface {
	Login(ctx context.Context, in staff.LoginInput) (auth.Session, string, error)
	Verify(ctx context.Context, value string) (auth.Session, bool)
	Logout(ctx context.Context, value string)
	CookieName() string
	SessionCookie(value string) *http.Cookie
	ClearedCookie() *http.Cookie
}

// RoleUserAdmin manages role users.
type RoleUserAdmin interface {
	ListRoleUsers(ctx context.Context, actor auth.Identity, organizationID string) ([]auth.RoleUser, error)
	CreateRoleUser(ctx context.Context, actor auth.Identity, in staff.RoleUserInput) (auth.RoleUser, error)
	UpdateRoleUser(ctx context.Context, actor auth.Identity, id string, upd staff.RoleUserUpdate) (auth.RoleUser, error)
	DeactivateRoleUser(ctx context.Context, actor auth.Identity, id string) error
}

// RoleRegistry manages roles and their permission matrices.
type RoleRegistry interface {
	ListRoles(ctx context.Context, actor auth.Identity, organizationID string, includeInactive bool) ([]auth.Role, error)
	GetRole(ctx context.Context, actor auth.Identity, roleID string) (auth.Role, error)
	CreateRole(ctx context.Context, actor auth.Identity, in rbac.RoleInput) (auth.Role, error)
	UpdateRole(ctx context.Context, actor auth.Identity, roleID string, in rbac.RoleEdit) (auth.Role, error)
	DeactivateRole(ctx context.Context, actor auth.Identity, roleID string) error
	ListPermissions(ctx context.Context, actor auth.Identity, roleID string) ([]auth.Permission, error)
	ReplacePermissions(ctx context.Context, actor auth.Identity, roleID string, in []rbac.PermissionInput) ([]auth.Permission, error)
}

// PatientResolver classifies and creates patients.
type PatientResolver interface {
	Get(ctx context.Context, actor auth.Identity, rawID, kind string) (patient.View, error)
	ForWrite(ctx context.Context, actor auth.Identity, in patient.WriteRef) (patient.Ref, patient.View, error)
	CreateUnregistered(ctx context.Context, actor auth.Identity, in patient.PatientInput) (patient.View, error)
	Register(ctx context.Context, actor auth.Identity, in patient.PatientInput) (patient.View, error)
}

// AuditLog reads the audit trail.
type AuditLog interface {
	List(ctx context.Context, organizationID string, f audit.Filter) ([]audit.Entry, error)
}

// TokenIssuer signs in against the local identity provider.
type TokenIssuer interface {
	SignInWithPassword(ctx context.Context, email, password string) (identity.Subject, error)
	IssueToken(s identity.Subject) (string, time.Time, error)
}

// Options wires the API. Nil services leave their routes answering 503.
type Options struct {
	Guard     Authorizer
	Staff     StaffSessions
	RoleUsers RoleUserAdmin
	Roles     RoleRegistry
	Patients  PatientResolver
	Audit     AuditLog
	Tokens    TokenIssuer
	Ready     ReadyProbe
	Logger    *zap.Logger
	Version   string

	LoginRateBurst  int
	LoginRatePerSec float64
	AllowedOrigins  []string
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies  []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	guard      Authorizer
	staff      StaffSessions
	roleUsers  RoleUserAdmin
	roles      RoleRegistry
	patients   PatientResolver
	audit      AuditLog
	tokens     TokenIssuer
	readyProbe ReadyProbe
	log        *zap.Logger
	version    string
	rateBurst  int
	ratePerSec float64
	origins    []string
	proxies    []netip.Prefix
}

func New(opts Options) *API {
	a := &API{
		guard:      opts.Guard,
		staff:      opts.Staff,
		roleUsers:  opts.RoleUsers,
		roles:      opts.Roles,
		patients:   opts.Patients,
		audit:      opts.Audit,
		tokens:     opts.Tokens,
		readyProbe: opts.Ready,
		log:        opts.Logger,
		version:    opts.Version,
		rateBurst:  opts.LoginRateBurst,
		ratePerSec: opts.LoginRatePerSec,
		origins:    opts.AllowedOrigins,
		proxies:    opts.TrustedProxies,
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	a.router = a.routes()
	return a
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
