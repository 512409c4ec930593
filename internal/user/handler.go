package user

import (
	"context"
	"net/http"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/transport"
)

type ServiceAPI interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

// PermissionLister reports the permission codes a user is currently allowed
// globally.
type PermissionLister interface {
	AllowedPermissions(ctx context.Context, userID string) ([]string, error)
}

type Handler struct {
	*transport.BaseHandler
	Service     ServiceAPI
	Permissions PermissionLister
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI, perms PermissionLister) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
		Permissions: perms,
	}
}

// GetCurrentUser handles GET /users/me
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	actorID := internal.ActorIDFromContext(r.Context())
	if actorID == "" {
		h.WriteError(w, r, internal.ErrInvalidToken)
		return
	}

	profile, err := h.Service.GetProfile(r.Context(), actorID)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	perms := []string{}
	if profile.IsActive() {
		perms, err = h.Permissions.AllowedPermissions(r.Context(), actorID)
		if err != nil {
			h.WriteError(w, r, err)
			return
		}
	}

	h.WriteJSON(w, http.StatusOK, CurrentUserResponse{
		Profile:     profile,
		Permissions: perms,
	})
}
