package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"clinica.app/internal/obs"
)

const maxBodyBytes = 1 << 20

// publicPaths are served without any credential.
var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/token",
	"/v1/staff/login",
	"/v1/staff/session",
}

// publicPrefixes is reserved for the emergency lookup served by another team.
var publicPrefixes = []string{
	"/v1/public/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, obs.Instrument, Logging(a.log, a.proxies), SecurityHeaders, CORS(a.origins), MaxBodyBytes(maxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withAuth)
		r.Get("/info", a.Info)
		r.With(a.loginLimiter).Post("/auth/token", a.handleAuthToken)

		r.Route("/staff", func(r chi.Router) {
			r.With(a.loginLimiter).Post("/login", a.handleStaffLogin)
			r.Get("/session", a.handleStaffSession)
			r.Delete("/session", a.handleStaffLogout)
		})

		r.Get("/me", a.handleMe)

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.Post("/", a.handleCreateRole)
			r.Get("/{id}", a.handleGetRole)
			r.Put("/{id}", a.handleUpdateRole)
			r.Delete("/{id}", a.handleDeactivateRole)
			r.Get("/{id}/permissions", a.handleListPermissions)
			r.Put("/{id}/permissions", a.handleReplacePermissions)
		})

		r.Route("/role-users", func(r chi.Router) {
			r.Get("/", a.handleListRoleUsers)
			r.Post("/", a.handleCreateRoleUser)
			r.Put("/{id}", a.handleUpdateRoleUser)
			r.Delete("/{id}", a.handleDeactivateRoleUser)
		})

		r.Post("/patients", a.handleRegisterPatient)
		r.Post("/patients/resolve", a.handleResolvePatient)
		r.Get("/patients/{id}", a.handleGetPatient)
		r.Post("/unregistered-patients", a.handleCreateUnregistered)

		r.Get("/audit", a.handleListAudit)
	})
	return r
}

func (a *API) loginLimiter(next http.Handler) http.Handler {
	return RateLimit(next, a.rateBurst, a.ratePerSec, a.proxies)
}
