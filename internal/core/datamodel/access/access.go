package access

import (
	"time"

	"gorm.io/datatypes"
)

type Role struct {
	Code        string    `gorm:"column:code;primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description"`
	IsActive    bool      `gorm:"column:is_active"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Role) TableName() string { return "roles" }

type PermissionCategory struct {
	Code        string    `gorm:"column:code;primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PermissionCategory) TableName() string { return "permission_categories" }

type Permission struct {
	Code         string    `gorm:"column:code;primaryKey"`
	CategoryCode string    `gorm:"column:category_code;not null;index"`
	Description  string    `gorm:"column:description"`
	IsActive     bool      `gorm:"column:is_active"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Permission) TableName() string { return "permissions" }

type RolePermission struct {
	RoleCode       string    `gorm:"column:role_code;primaryKey"`
	PermissionCode string    `gorm:"column:permission_code;primaryKey"`
	GrantedBy      string    `gorm:"column:granted_by"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (RolePermission) TableName() string { return "role_permissions" }

type UserProfile struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex;not null"`
	FullName  string    `gorm:"column:full_name;not null"`
	Role      string    `gorm:"column:role;not null"`
	Status    string    `gorm:"column:status;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// UserPermission keeps every override ever written. Global overrides store
// empty context columns so the live-row index covers them too.
type UserPermission struct {
	ID             string         `gorm:"column:id;primaryKey"`
	UserID         string         `gorm:"column:user_id;not null;uniqueIndex:idx_user_permissions_live,where:revoked_at IS NULL"`
	PermissionCode string         `gorm:"column:permission_code;not null;uniqueIndex:idx_user_permissions_live,where:revoked_at IS NULL"`
	GrantType      string         `gorm:"column:grant_type;not null"`
	ContextType    string         `gorm:"column:context_type;not null;default:'';uniqueIndex:idx_user_permissions_live,where:revoked_at IS NULL"`
	ContextID      string         `gorm:"column:context_id;not null;default:'';uniqueIndex:idx_user_permissions_live,where:revoked_at IS NULL"`
	ExpiresAt      *time.Time     `gorm:"column:expires_at"`
	GrantedBy      string         `gorm:"column:granted_by;not null"`
	GrantedAt      time.Time      `gorm:"column:granted_at;not null"`
	Reason         string         `gorm:"column:reason"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
	RevokedAt      *time.Time     `gorm:"column:revoked_at"`
	RevokedBy      *string        `gorm:"column:revoked_by"`
	RevokeReason   *string        `gorm:"column:revoke_reason"`
}

func (UserPermission) TableName() string { return "user_permissions" }

// PermissionAudit rows are append-only.
type PermissionAudit struct {
	ID             string         `gorm:"column:id;primaryKey"`
	TargetType     string         `gorm:"column:target_type;not null;index:idx_permission_audit_target"`
	TargetID       string         `gorm:"column:target_id;not null;index:idx_permission_audit_target"`
	PermissionCode string         `gorm:"column:permission_code;not null"`
	Action         string         `gorm:"column:action;not null"`
	ContextType    string         `gorm:"column:context_type"`
	ContextID      string         `gorm:"column:context_id"`
	ActorID        string         `gorm:"column:actor_id;not null"`
	OccurredAt     time.Time      `gorm:"column:occurred_at;not null;index"`
	OldValue       datatypes.JSON `gorm:"column:old_value"`
	NewValue       datatypes.JSON `gorm:"column:new_value"`
	Reason         string         `gorm:"column:reason"`
}

func (PermissionAudit) TableName() string { return "permission_audit" }

// All lists every row type, in dependency order, for AutoMigrate in tests.
func All() []interface{} {
	return []interface{}{
		&Role{},
		&PermissionCategory{},
		&Permission{},
		&RolePermission{},
		&UserProfile{},
		&UserPermission{},
		&PermissionAudit{},
	}
}
