package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/portal/internal/audit/http"
	"github.com/odyssey-erp/portal/internal/observability"
	"github.com/odyssey-erp/portal/internal/platform/httpx"
	"github.com/odyssey-erp/portal/internal/rbac"
	"github.com/odyssey-erp/portal/internal/roles"
	"github.com/odyssey-erp/portal/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RoleCache      *rbac.Cache
	RolesHandler   *roles.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Authorization checks consult the cache, so readiness waits for role
	// initialization.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.RoleCache == nil || !params.RoleCache.Ready() {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "ready", "roles": params.RoleCache.Len()})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r, params.RBACMiddleware)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r, params.RBACMiddleware)
		}
		if params.JobHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.Require(rbac.Permission{Resource: rbac.ResourceJobs, Action: rbac.ActionView, Scope: rbac.ScopeAll}))
				r.Route("/jobs", params.JobHandler.MountRoutes)
			})
		}
	})

	return r
}
