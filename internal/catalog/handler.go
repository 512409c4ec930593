package catalog

import (
	"context"
	"net/http"

	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	GetCategories(ctx context.Context) ([]*Category, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)
	GetRole(ctx context.Context, code RoleCode) (*Role, error)
	GetRolePermissions(ctx context.Context, code RoleCode) (PermissionSet, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// GetCategories handles GET /catalog/categories
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Service.GetCategories(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	resp := CategoriesResponse{Categories: make([]CategoryResponse, 0, len(categories))}
	for _, c := range categories {
		resp.Categories = append(resp.Categories, c.ToResponse())
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// ListPermissions handles GET /catalog/permissions
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.Service.ListPermissions(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	resp := PermissionsResponse{Permissions: make([]PermissionResponse, 0, len(perms))}
	for _, p := range perms {
		resp.Permissions = append(resp.Permissions, p.ToResponse())
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GetRolePermissions handles GET /catalog/roles/{code}/permissions
func (h *Handler) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	code, err := ParseRoleCode(chi.URLParam(r, "code"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	role, err := h.Service.GetRole(r.Context(), code)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	set, err := h.Service.GetRolePermissions(r.Context(), code)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	resp := RolePermissionsResponse{
		Role:        string(role.Code),
		IsActive:    role.IsActive,
		Permissions: make([]string, 0, len(set)),
	}
	for _, c := range set.Codes() {
		resp.Permissions = append(resp.Permissions, string(c))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}
