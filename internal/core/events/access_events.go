package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeUserPermissionChanged = "user_permission.changed"
	EventTypeRolePermissionChanged = "role_permission.changed"
)

// UserPermissionChangedEvent is published after a user override commit.
type UserPermissionChangedEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	PermissionCode string `json:"permission_code"`
	OverrideID     string `json:"override_id"`
	Action         string `json:"action"`
	ActorID        string `json:"actor_id"`
}

func NewUserPermissionChangedEvent(userID, permissionCode, overrideID, action, actorID string) *UserPermissionChangedEvent {
	return &UserPermissionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.NewString(),
			Type:      EventTypeUserPermissionChanged,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"user_id":         userID,
				"permission_code": permissionCode,
				"override_id":     overrideID,
				"action":          action,
				"actor_id":        actorID,
			},
		},
		UserID:         userID,
		PermissionCode: permissionCode,
		OverrideID:     overrideID,
		Action:         action,
		ActorID:        actorID,
	}
}

// RolePermissionChangedEvent is published after a role baseline commit.
type RolePermissionChangedEvent struct {
	BaseEvent
	RoleCode       string `json:"role_code"`
	PermissionCode string `json:"permission_code"`
	Action         string `json:"action"`
	ActorID        string `json:"actor_id"`
}

func NewRolePermissionChangedEvent(roleCode, permissionCode, action, actorID string) *RolePermissionChangedEvent {
	return &RolePermissionChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.NewString(),
			Type:      EventTypeRolePermissionChanged,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"role_code":       roleCode,
				"permission_code": permissionCode,
				"action":          action,
				"actor_id":        actorID,
			},
		},
		RoleCode:       roleCode,
		PermissionCode: permissionCode,
		Action:         action,
		ActorID:        actorID,
	}
}
