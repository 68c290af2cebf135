// Package guard is the single authorization entry point for route handlers.
// It identifies the caller on one of two tracks, application user or staff
// session, and checks the route's requirement.
package guard

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"clinica.app/internal/auth"
	"clinica.app/internal/obs"
	"clinica.app/internal/tenant"
)

// Requirement is satisfied by an application user holding one of Roles, or
// by a staff session granted Action on Module. The zero Requirement accepts
// any authenticated caller.
type Requirement struct {
	Roles  []auth.AppRole
	Module auth.Module
	Action auth.Action
}

// Roles requires one of the given application roles.
func Roles(roles ...auth.AppRole) Requirement {
	return Requirement{Roles: roles}
}

// Can requires a staff permission.
func Can(module auth.Module, action auth.Action) Requirement {
	return Requirement{Module: module, Action: action}
}

// Authenticated accepts any resolved caller.
func Authenticated() Requirement {
	return Requirement{}
}

// OrCan adds a staff permission alternative to a role requirement.
func (r Requirement) OrCan(module auth.Module, action auth.Action) Requirement {
	r.Module = module
	r.Action = action
	return r
}

func (r Requirement) open() bool {
	return len(r.Roles) == 0 && r.Module == ""
}

// Satisfied reports whether id meets r.
func (r Requirement) Satisfied(id auth.Identity) bool {
	if id.IsZero() {
		return false
	}
	if r.open() {
		return true
	}
	switch id.Track {
	case auth.TrackUser:
		return id.HasAnyRole(r.Roles...)
	case auth.TrackStaff:
		return r.Module != "" && id.Can(r.Module, r.Action)
	}
	return false
}

// Failure is the response a handler returns when authorization fails.
type Failure struct {
	Status  int
	Message string
	Err     error
}

// Decision is either an identity or a failure, never both.
type Decision struct {
	Identity auth.Identity
	Failure  *Failure
}

func (d Decision) OK() bool { return d.Failure == nil }

// Users resolves application-user credentials.
type Users interface {
	HeaderCredential(r *http.Request) (string, bool)
	CookieCredential(r *http.Request) (string, bool)
	Resolve(ctx context.Context, token string) (auth.User, error)
}

// Sessions reads staff session cookies. Snapshot returns the login-time
// permissions of a still active account; Verify returns a descriptor rebuilt
// from current data.
type Sessions interface {
	CookieName() string
	Snapshot(ctx context.Context, value string) (auth.Session, bool)
	Verify(ctx context.Context, value string) (auth.Session, bool)
}

// Guard composes identity resolution, staff sessions and tenant scope.
type Guard struct {
	users    Users
	sessions Sessions
	fresh    bool
	log      *zap.Logger
}

// New returns a Guard. With refreshStaff, staff permissions are re-read on
// every request instead of trusting the login snapshot.
func New(users Users, sessions Sessions, refreshStaff bool, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{users: users, sessions: sessions, fresh: refreshStaff, log: log}
}

// Identify resolves the caller in track order: Authorization header, staff
// session cookie, identity provider cookie.
func (g *Guard) Identify(r *http.Request) (auth.Identity, error) {
	if token, ok := g.users.HeaderCredential(r); ok {
		u, err := g.users.Resolve(r.Context(), token)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.UserIdentity(u), nil
	}
	if g.sessions != nil {
		if c, err := r.Cookie(g.sessions.CookieName()); err == nil && strings.TrimSpace(c.Value) != "" {
			if s, ok := g.staffSession(r.Context(), c.Value); ok {
				return auth.StaffIdentity(s), nil
			}
		}
	}
	if token, ok := g.users.CookieCredential(r); ok {
		u, err := g.users.Resolve(r.Context(), token)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.UserIdentity(u), nil
	}
	return auth.Identity{}, auth.ErrUnauthenticated
}

func (g *Guard) staffSession(ctx context.Context, value string) (auth.Session, bool) {
	if g.fresh {
		return g.sessions.Verify(ctx, value)
	}
	return g.sessions.Snapshot(ctx, value)
}

// Authorize identifies the caller and checks req.
func (g *Guard) Authorize(r *http.Request, req Requirement) Decision {
	id, err := g.Identify(r)
	if err != nil {
		return g.fail(r, id, err)
	}
	if !req.Satisfied(id) {
		return g.fail(r, id, auth.ErrForbidden)
	}
	obs.ObserveDecision(string(id.Track), "allow")
	return Decision{Identity: id}
}

// Check applies req to an identity resolved earlier in the same request.
func (g *Guard) Check(r *http.Request, id auth.Identity, req Requirement) Decision {
	if id.IsZero() {
		return g.fail(r, id, auth.ErrUnauthenticated)
	}
	if !req.Satisfied(id) {
		return g.fail(r, id, auth.ErrForbidden)
	}
	return Decision{Identity: id}
}

// CheckOrg is Check followed by tenant scope on organizationID, the
// organization stored on the record being accessed. Role requirements on the
// user track go through tenant.RequireRoleInOrganization.
func (g *Guard) CheckOrg(r *http.Request, id auth.Identity, req Requirement, organizationID string) Decision {
	d := g.Check(r, id, req)
	if !d.OK() {
		return d
	}
	var err error
	if id.Track == auth.TrackUser && len(req.Roles) > 0 {
		err = tenant.RequireRoleInOrganization(id, organizationID, req.Roles...)
	} else {
		err = tenant.Enforce(id, organizationID)
	}
	if err != nil {
		return g.fail(r, id, err)
	}
	return d
}

func (g *Guard) fail(r *http.Request, id auth.Identity, err error) Decision {
	f := FailureFor(err)
	obs.ObserveDecision(string(id.Track), outcome(f.Status))
	if f.Status >= http.StatusInternalServerError {
		g.log.Error("authorization failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
	}
	return Decision{Identity: id, Failure: &f}
}

// FailureFor maps an authorization error onto its response.
func FailureFor(err error) Failure {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return Failure{Status: http.StatusUnauthorized, Message: "authentication required", Err: err}
	case errors.Is(err, auth.ErrProfileNotFound):
		return Failure{Status: http.StatusUnauthorized, Message: "profile not found", Err: err}
	case errors.Is(err, auth.ErrDisabled):
		return Failure{Status: http.StatusForbidden, Message: auth.DisabledMessage, Err: err}
	case errors.Is(err, auth.ErrForbidden):
		return Failure{Status: http.StatusForbidden, Message: "insufficient permissions", Err: err}
	default:
		return Failure{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
	}
}

func outcome(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	default:
		return "error"
	}
}
