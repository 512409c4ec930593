package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) catalog.RepositoryAPI {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetRole(ctx context.Context, code string) (*accessDatamodel.Role, error) {
	var role accessDatamodel.Role
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *CatalogRepository) ListRoles(ctx context.Context) ([]*accessDatamodel.Role, error) {
	var roles []*accessDatamodel.Role
	err := r.db.WithContext(ctx).Order("code ASC").Find(&roles).Error
	return roles, err
}

func (r *CatalogRepository) GetCategory(ctx context.Context, code string) (*accessDatamodel.PermissionCategory, error) {
	var cat accessDatamodel.PermissionCategory
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&cat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cat, nil
}

func (r *CatalogRepository) ListCategories(ctx context.Context) ([]*accessDatamodel.PermissionCategory, error) {
	var cats []*accessDatamodel.PermissionCategory
	err := r.db.WithContext(ctx).Order("code ASC").Find(&cats).Error
	return cats, err
}

func (r *CatalogRepository) GetPermission(ctx context.Context, code string) (*accessDatamodel.Permission, error) {
	var perm accessDatamodel.Permission
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&perm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &perm, nil
}

func (r *CatalogRepository) ListPermissions(ctx context.Context) ([]*accessDatamodel.Permission, error) {
	var perms []*accessDatamodel.Permission
	err := r.db.WithContext(ctx).Order("code ASC").Find(&perms).Error
	return perms, err
}

func (r *CatalogRepository) ListRolePermissionCodes(ctx context.Context, role string) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Table("role_permissions AS rp").
		Joins("JOIN permissions p ON p.code = rp.permission_code").
		Where("rp.role_code = ? AND p.is_active = ?", role, true).
		Order("rp.permission_code ASC").
		Pluck("rp.permission_code", &codes).Error
	return codes, err
}

func (r *CatalogRepository) ListRolePermissions(ctx context.Context) ([]*accessDatamodel.RolePermission, error) {
	var pairs []*accessDatamodel.RolePermission
	err := r.db.WithContext(ctx).Order("role_code ASC, permission_code ASC").Find(&pairs).Error
	return pairs, err
}

func (r *CatalogRepository) UpsertCategory(ctx context.Context, c *accessDatamodel.PermissionCategory) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description"}),
	}).Create(c).Error
}

func (r *CatalogRepository) UpsertPermission(ctx context.Context, p *accessDatamodel.Permission) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"category_code", "description", "is_active", "updated_at"}),
	}).Create(p).Error
}

func (r *CatalogRepository) UpsertRole(ctx context.Context, role *accessDatamodel.Role) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "is_active", "updated_at"}),
	}).Create(role).Error
}
