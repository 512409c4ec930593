package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/frahmantamala/consulthub/pkg/logger"
	"github.com/go-chi/chi"
)

type PermissionChecker interface {
	CanPerform(ctx context.Context, userID string, code catalog.PermissionCode, scope *permission.Scope) (permission.Decision, error)
}

// RBACAuthorization guards routes with resolver decisions. A denial is 403;
// a catalog or storage fault keeps its own status so the two never blur.
type RBACAuthorization struct {
	*transport.BaseHandler
	checker PermissionChecker
}

func NewRBACAuthorization(base *transport.BaseHandler, checker PermissionChecker) *RBACAuthorization {
	return &RBACAuthorization{BaseHandler: base, checker: checker}
}

func (ra *RBACAuthorization) Require(code catalog.PermissionCode) func(http.Handler) http.Handler {
	return ra.require(code, func(*http.Request) (*permission.Scope, error) { return nil, nil })
}

// RequireScoped checks code against the resource named by the chi URL param,
// e.g. RequireScoped(PROJECT_UPDATE, "project", "projectID").
func (ra *RBACAuthorization) RequireScoped(code catalog.PermissionCode, contextType, urlParam string) func(http.Handler) http.Handler {
	return ra.require(code, func(r *http.Request) (*permission.Scope, error) {
		return permission.NewScope(contextType, chi.URLParam(r, urlParam))
	})
}

func (ra *RBACAuthorization) require(code catalog.PermissionCode, scopeOf func(*http.Request) (*permission.Scope, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actorID := internal.ActorIDFromContext(ctx)
			if actorID == "" {
				ra.WriteError(w, r, internal.NewUnauthorizedError("missing principal", internal.ErrCodeInvalidToken))
				return
			}

			scope, err := scopeOf(r)
			if err != nil {
				ra.WriteError(w, r, err)
				return
			}

			decision, err := ra.checker.CanPerform(ctx, actorID, code, scope)
			if err != nil {
				if errors.Is(err, internal.ErrUnknownUser) {
					err = internal.ErrPrincipalInactive.WithCause(err)
				}
				ra.WriteError(w, r, err)
				return
			}

			if !decision.Allowed {
				logger.From(ctx).WarnContext(ctx, "access denied",
					"permission", code,
					"scope", scope.String(),
					"source", decision.Source,
					"override_id", decision.MatchedOverrideID)
				ra.WriteError(w, r, internal.ErrPermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
