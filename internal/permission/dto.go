package permission

import "time"

type CheckRequest struct {
	UserID         string `json:"user_id,omitempty" validate:"omitempty,uuid"`
	PermissionCode string `json:"permission_code" validate:"required,max=100"`
	ContextType    string `json:"context_type,omitempty" validate:"max=100"`
	ContextID      string `json:"context_id,omitempty" validate:"max=200"`
}

type CheckResponse struct {
	UserID         string `json:"user_id"`
	PermissionCode string `json:"permission_code"`
	Context        *Scope `json:"context,omitempty"`
	Decision
}

type GrantUserPermissionRequest struct {
	PermissionCode string                 `json:"permission_code" validate:"required,max=100"`
	GrantType      string                 `json:"grant_type" validate:"required,oneof=grant deny"`
	ContextType    string                 `json:"context_type,omitempty" validate:"max=100"`
	ContextID      string                 `json:"context_id,omitempty" validate:"max=200"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	Reason         string                 `json:"reason,omitempty" validate:"max=500"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type RolePermissionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type UserPermissionsResponse struct {
	UserID    string           `json:"user_id"`
	Context   *Scope           `json:"context,omitempty"`
	Overrides []*Override      `json:"overrides"`
	Effective []EffectiveEntry `json:"effective"`
}
