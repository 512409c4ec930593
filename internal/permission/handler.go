package permission

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/core/common/validation"
	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/go-chi/chi"
)

type ResolverAPI interface {
	CanPerform(ctx context.Context, userID string, code catalog.PermissionCode, scope *Scope) (Decision, error)
	EffectivePermissions(ctx context.Context, userID string, scope *Scope) ([]EffectiveEntry, error)
}

type AdminAPI interface {
	GrantUserPermission(ctx context.Context, req GrantRequest) (*Override, error)
	RevokeUserPermission(ctx context.Context, actorID, overrideID, reason string) error
	GrantRolePermission(ctx context.Context, actorID string, role catalog.RoleCode, code catalog.PermissionCode, reason string) error
	RevokeRolePermission(ctx context.Context, actorID string, role catalog.RoleCode, code catalog.PermissionCode, reason string) error
	ListUserOverrides(ctx context.Context, userID string, includeInactive bool) ([]*Override, error)
	AuditHistory(ctx context.Context, filter AuditFilter) (*AuditPage, error)
}

type Handler struct {
	*transport.BaseHandler
	Resolver ResolverAPI
	Admin    AdminAPI
}

func NewHandler(baseHandler *transport.BaseHandler, resolver ResolverAPI, admin AdminAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Resolver:    resolver,
		Admin:       admin,
	}
}

// Check handles POST /permissions/check. Checking another user requires
// USER_PERMISSION_VIEW.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := internal.ActorIDFromContext(ctx)

	var req CheckRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	if appErr := validation.Struct(req); appErr != nil {
		h.WriteError(w, r, appErr)
		return
	}
	code, err := catalog.ParsePermissionCode(req.PermissionCode)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	scope, err := NewScope(req.ContextType, req.ContextID)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	target := req.UserID
	if target == "" {
		target = actorID
	}
	if target != actorID {
		if err := h.requireAllowed(ctx, actorID, catalog.PermUserPermissionView); err != nil {
			h.WriteError(w, r, err)
			return
		}
	}

	decision, err := h.Resolver.CanPerform(ctx, target, code, scope)
	if err != nil {
		if target == actorID {
			err = callerError(err)
		}
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, CheckResponse{
		UserID:         target,
		PermissionCode: string(code),
		Context:        scope,
		Decision:       decision,
	})
}

// ListUserPermissions handles GET /users/{id}/permissions
func (h *Handler) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	scope, err := ParseScope(r.URL.Query().Get("context"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))

	overrides, err := h.Admin.ListUserOverrides(ctx, userID, includeInactive)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	resp := UserPermissionsResponse{
		UserID:    userID,
		Context:   scope,
		Overrides: overrides,
		Effective: []EffectiveEntry{},
	}
	// the effective matrix only exists for users who can act
	effective, err := h.Resolver.EffectivePermissions(ctx, userID, scope)
	switch {
	case err == nil:
		resp.Effective = effective
	case !isInactiveUser(err):
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GrantUserPermission handles POST /users/{id}/permissions
func (h *Handler) GrantUserPermission(w http.ResponseWriter, r *http.Request) {
	var req GrantUserPermissionRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	if appErr := validation.Struct(req); appErr != nil {
		h.WriteError(w, r, appErr)
		return
	}
	code, err := catalog.ParsePermissionCode(req.PermissionCode)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	scope, err := NewScope(req.ContextType, req.ContextID)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	override, err := h.Admin.GrantUserPermission(r.Context(), GrantRequest{
		ActorID:        internal.ActorIDFromContext(r.Context()),
		TargetUserID:   chi.URLParam(r, "id"),
		PermissionCode: code,
		GrantType:      GrantType(req.GrantType),
		Scope:          scope,
		ExpiresAt:      req.ExpiresAt,
		Reason:         req.Reason,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, override)
}

// RevokeUserPermission handles DELETE /user-permissions/{overrideID}?reason=
func (h *Handler) RevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	err := h.Admin.RevokeUserPermission(r.Context(),
		internal.ActorIDFromContext(r.Context()),
		chi.URLParam(r, "overrideID"),
		r.URL.Query().Get("reason"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantRolePermission handles PUT /roles/{code}/permissions/{permission}
func (h *Handler) GrantRolePermission(w http.ResponseWriter, r *http.Request) {
	role, code, ok := h.rolePermissionParams(w, r)
	if !ok {
		return
	}

	var req RolePermissionRequest
	if r.ContentLength > 0 {
		if err := h.DecodeJSON(r, &req); err != nil {
			h.WriteError(w, r, err)
			return
		}
		if appErr := validation.Struct(req); appErr != nil {
			h.WriteError(w, r, appErr)
			return
		}
	}

	if err := h.Admin.GrantRolePermission(r.Context(), internal.ActorIDFromContext(r.Context()), role, code, req.Reason); err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRolePermission handles DELETE /roles/{code}/permissions/{permission}?reason=
func (h *Handler) RevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	role, code, ok := h.rolePermissionParams(w, r)
	if !ok {
		return
	}
	if err := h.Admin.RevokeRolePermission(r.Context(), internal.ActorIDFromContext(r.Context()), role, code, r.URL.Query().Get("reason")); err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditHistory handles GET /permission-audit
func (h *Handler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AuditFilter{
		TargetType:     TargetType(q.Get("target_type")),
		TargetID:       q.Get("target_id"),
		PermissionCode: q.Get("permission_code"),
		Action:         Action(q.Get("action")),
	}
	if filter.TargetType != "" && filter.TargetType != TargetUser && filter.TargetType != TargetRole {
		h.WriteError(w, r, internal.NewValidationFieldError("target_type", "target_type must be one of [user role]", internal.ErrCodeValidationFailed))
		return
	}
	if filter.Action != "" && filter.Action != ActionGrant && filter.Action != ActionRevoke {
		h.WriteError(w, r, internal.NewValidationFieldError("action", "action must be one of [grant revoke]", internal.ErrCodeValidationFailed))
		return
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := h.Admin.AuditHistory(r.Context(), filter)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) rolePermissionParams(w http.ResponseWriter, r *http.Request) (catalog.RoleCode, catalog.PermissionCode, bool) {
	role, err := catalog.ParseRoleCode(chi.URLParam(r, "code"))
	if err != nil {
		h.WriteError(w, r, err)
		return "", "", false
	}
	code, err := catalog.ParsePermissionCode(chi.URLParam(r, "permission"))
	if err != nil {
		h.WriteError(w, r, err)
		return "", "", false
	}
	return role, code, true
}

func (h *Handler) requireAllowed(ctx context.Context, actorID string, code catalog.PermissionCode) error {
	decision, err := h.Resolver.CanPerform(ctx, actorID, code, nil)
	if err != nil {
		return callerError(err)
	}
	if !decision.Allowed {
		return internal.ErrPermissionDenied
	}
	return nil
}

// callerError reports a caller who is missing or not active as an
// authentication failure, matching the RBAC middleware.
func callerError(err error) error {
	if errors.Is(err, internal.ErrUnknownUser) {
		return internal.ErrPrincipalInactive.WithCause(err)
	}
	return err
}

func isInactiveUser(err error) bool {
	appErr, ok := internal.IsAppError(err)
	return ok && appErr.Code == internal.ErrCodeUnknownUser
}
