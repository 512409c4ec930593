package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/consulthub/internal/auth"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/observability"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/transport/middleware"
	"github.com/frahmantamala/consulthub/internal/transport/swagger"
	"github.com/frahmantamala/consulthub/internal/user"
	"github.com/go-chi/chi"
)

// Dependencies carries everything RegisterAllRoutes mounts. Nil handlers
// leave their routes out.
type Dependencies struct {
	DB     *sql.DB
	Cache  Pinger
	Logger *slog.Logger

	Authenticator *auth.Authenticator
	RBAC          *auth.RBACAuthorization
	Metrics       *observability.Metrics
	OpenAPI       http.Handler

	UserHandler       *user.Handler
	CatalogHandler    *catalog.Handler
	PermissionHandler *permission.Handler

	AllowedOrigins     []string
	MutationsPerMinute int
	Production         bool
	MetricsPath        string
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	healthHandler := NewHealthHandler(deps.DB, deps.Cache)

	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.SecureHeaders(deps.Logger, deps.Production))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics.Handler())
	}

	if deps.OpenAPI != nil {
		router.Handle(swagger.DocumentPath, deps.OpenAPI)
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.Authenticator == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(deps.Authenticator.Middleware)

			if deps.UserHandler != nil {
				pr.Get("/users/me", deps.UserHandler.GetCurrentUser)
			}

			if deps.CatalogHandler != nil {
				pr.Route("/catalog", func(cr chi.Router) {
					cr.Get("/categories", deps.CatalogHandler.GetCategories)
					cr.Get("/permissions", deps.CatalogHandler.ListPermissions)
					cr.Get("/roles/{code}/permissions", deps.CatalogHandler.GetRolePermissions)
				})
			}

			ph := deps.PermissionHandler
			if ph == nil {
				return
			}
			pr.Post("/permissions/check", ph.Check)

			pr.With(deps.RBAC.Require(catalog.PermUserPermissionView)).
				Get("/users/{id}/permissions", ph.ListUserPermissions)
			pr.With(deps.RBAC.Require(catalog.PermAuditView)).
				Get("/permission-audit", ph.AuditHistory)

			// authority for writes is enforced by the administration gate
			pr.Group(func(mr chi.Router) {
				mr.Use(middleware.MutationRateLimit(deps.MutationsPerMinute))
				mr.Post("/users/{id}/permissions", ph.GrantUserPermission)
				mr.Delete("/user-permissions/{overrideID}", ph.RevokeUserPermission)
				mr.Put("/roles/{code}/permissions/{permission}", ph.GrantRolePermission)
				mr.Delete("/roles/{code}/permissions/{permission}", ph.RevokeRolePermission)
			})
		})
	})
}
