package permission

import (
	"context"

	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/user"
)

// CatalogReader is the part of catalog.Service the resolver and the
// administration need.
type CatalogReader interface {
	GetRole(ctx context.Context, code catalog.RoleCode) (*catalog.Role, error)
	ActivePermission(ctx context.Context, code catalog.PermissionCode) (*catalog.Permission, error)
	ListPermissions(ctx context.Context) ([]*catalog.Permission, error)
	GetRolePermissions(ctx context.Context, code catalog.RoleCode) (catalog.PermissionSet, error)
}

type UserDirectory interface {
	GetProfile(ctx context.Context, id string) (*user.Profile, error)
	ActiveProfile(ctx context.Context, id string) (*user.Profile, error)
}

// AuthorityGate decides whether actorID may change grants. It returns
// internal.ErrNotAdministrator to refuse.
type AuthorityGate interface {
	CanAdminister(ctx context.Context, actorID string) error
}

// Store is the storage port. Reads outside WithinTx need no locking.
type Store interface {
	// ListOverrides returns the unrevoked overrides of userID for code,
	// expired ones included.
	ListOverrides(ctx context.Context, userID string, code catalog.PermissionCode) ([]*Override, error)
	// ListUserOverrides returns every override ever written for userID.
	ListUserOverrides(ctx context.Context, userID string) ([]*Override, error)
	// ListAudit returns entries matching filter, newest first.
	ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, error)
	// WithinTx runs fn atomically. If fn returns an error nothing it wrote
	// is kept.
	WithinTx(ctx context.Context, fn func(tx TxStore) error) error
}

// TxStore is the transactional view handed to WithinTx callbacks. Lock
// methods return nil, nil when the row does not exist.
type TxStore interface {
	LockLiveOverride(ctx context.Context, key OverrideKey) (*Override, error)
	LockOverride(ctx context.Context, id string) (*Override, error)
	InsertOverride(ctx context.Context, o *Override) error
	UpdateOverride(ctx context.Context, o *Override) error

	LockRoleAssignment(ctx context.Context, role catalog.RoleCode, code catalog.PermissionCode) (*RoleAssignment, error)
	InsertRoleAssignment(ctx context.Context, a *RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, role catalog.RoleCode, code catalog.PermissionCode) error

	AppendAudit(ctx context.Context, e *AuditEntry) error
}

// DecisionRecorder receives a count per decision and per structural error.
type DecisionRecorder interface {
	RecordDecision(source string)
	RecordError(kind string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string) {}
func (noopRecorder) RecordError(string)    {}
