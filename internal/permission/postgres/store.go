package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

type PermissionStore struct {
	db *gorm.DB
}

func NewPermissionStore(db *gorm.DB) permission.Store {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) ListOverrides(ctx context.Context, userID string, code catalog.PermissionCode) ([]*permission.Override, error) {
	var rows []*accessDatamodel.UserPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND permission_code = ? AND revoked_at IS NULL", userID, string(code)).
		Order("granted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *PermissionStore) ListUserOverrides(ctx context.Context, userID string) ([]*permission.Override, error) {
	var rows []*accessDatamodel.UserPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *PermissionStore) ListAudit(ctx context.Context, filter permission.AuditFilter, limit, offset int) ([]*permission.AuditEntry, error) {
	q := s.db.WithContext(ctx).Model(&accessDatamodel.PermissionAudit{})
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", string(filter.TargetType))
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.PermissionCode != "" {
		q = q.Where("permission_code = ?", filter.PermissionCode)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}

	var rows []*accessDatamodel.PermissionAudit
	if err := q.Order("occurred_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*permission.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, permission.AuditFromDataModel(row))
	}
	return out, nil
}

func (s *PermissionStore) WithinTx(ctx context.Context, fn func(tx permission.TxStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
}

type txStore struct {
	db *gorm.DB
}

func (t *txStore) forUpdate(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *txStore) LockLiveOverride(ctx context.Context, key permission.OverrideKey) (*permission.Override, error) {
	var row accessDatamodel.UserPermission
	err := t.forUpdate(ctx).
		Where("user_id = ? AND permission_code = ? AND context_type = ? AND context_id = ? AND revoked_at IS NULL",
			key.UserID, string(key.PermissionCode), key.ContextType, key.ContextID).
		Order("granted_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return permission.OverrideFromDataModel(&row)
}

func (t *txStore) LockOverride(ctx context.Context, id string) (*permission.Override, error) {
	var row accessDatamodel.UserPermission
	if err := t.forUpdate(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return permission.OverrideFromDataModel(&row)
}

func (t *txStore) InsertOverride(ctx context.Context, o *permission.Override) error {
	row, err := permission.OverrideToDataModel(o)
	if err != nil {
		return err
	}
	return translate(t.db.WithContext(ctx).Create(row).Error)
}

func (t *txStore) UpdateOverride(ctx context.Context, o *permission.Override) error {
	row, err := permission.OverrideToDataModel(o)
	if err != nil {
		return err
	}
	res := t.db.WithContext(ctx).Model(&accessDatamodel.UserPermission{}).
		Where("id = ?", o.ID).
		Select("grant_type", "expires_at", "granted_by", "granted_at", "reason", "metadata", "revoked_at", "revoked_by", "revoke_reason").
		Updates(row)
	if err := translate(res.Error); err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return internal.ErrOverrideNotFound
	}
	return nil
}

func (t *txStore) LockRoleAssignment(ctx context.Context, role catalog.RoleCode, code catalog.PermissionCode) (*permission.RoleAssignment, error) {
	var row accessDatamodel.RolePermission
	err := t.forUpdate(ctx).
		Where("role_code = ? AND permission_code = ?", string(role), string(code)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return permission.AssignmentFromDataModel(&row), nil
}

func (t *txStore) InsertRoleAssignment(ctx context.Context, a *permission.RoleAssignment) error {
	return translate(t.db.WithContext(ctx).Create(permission.AssignmentToDataModel(a)).Error)
}

func (t *txStore) DeleteRoleAssignment(ctx context.Context, role catalog.RoleCode, code catalog.PermissionCode) error {
	return t.db.WithContext(ctx).
		Where("role_code = ? AND permission_code = ?", string(role), string(code)).
		Delete(&accessDatamodel.RolePermission{}).Error
}

func (t *txStore) AppendAudit(ctx context.Context, e *permission.AuditEntry) error {
	return t.db.WithContext(ctx).Create(permission.AuditToDataModel(e)).Error
}

// translate maps a unique violation, the signal of a lost race on the
// live-row index, to ErrConcurrentModification.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.ErrConcurrentModification.WithCause(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return internal.ErrConcurrentModification.WithCause(err)
	}
	return err
}

func fromRows(rows []*accessDatamodel.UserPermission) ([]*permission.Override, error) {
	out := make([]*permission.Override, 0, len(rows))
	for _, row := range rows {
		o, err := permission.OverrideFromDataModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
