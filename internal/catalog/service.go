package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/frahmantamala/consulthub/internal"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
)

// RepositoryAPI returns nil, nil for a missing row so the service decides
// which catalog error applies.
type RepositoryAPI interface {
	GetRole(ctx context.Context, code string) (*accessDatamodel.Role, error)
	ListRoles(ctx context.Context) ([]*accessDatamodel.Role, error)
	GetCategory(ctx context.Context, code string) (*accessDatamodel.PermissionCategory, error)
	ListCategories(ctx context.Context) ([]*accessDatamodel.PermissionCategory, error)
	GetPermission(ctx context.Context, code string) (*accessDatamodel.Permission, error)
	ListPermissions(ctx context.Context) ([]*accessDatamodel.Permission, error)
	// ListRolePermissionCodes returns the active permissions assigned to role.
	ListRolePermissionCodes(ctx context.Context, role string) ([]string, error)
	ListRolePermissions(ctx context.Context) ([]*accessDatamodel.RolePermission, error)

	UpsertCategory(ctx context.Context, c *accessDatamodel.PermissionCategory) error
	UpsertPermission(ctx context.Context, p *accessDatamodel.Permission) error
	UpsertRole(ctx context.Context, r *accessDatamodel.Role) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetRole(ctx context.Context, code RoleCode) (*Role, error) {
	if !code.Valid() {
		return nil, internal.ErrUnknownRole.WithMessage(fmt.Sprintf("unknown role %q", code))
	}
	row, err := s.repo.GetRole(ctx, string(code))
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", code, err)
	}
	if row == nil {
		return nil, internal.ErrUnknownRole.WithMessage(fmt.Sprintf("role %q is not provisioned", code))
	}
	return RoleFromDataModel(row), nil
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles := make([]*Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, RoleFromDataModel(row))
	}
	return roles, nil
}

// GetPermission returns the permission whether or not it is active.
func (s *Service) GetPermission(ctx context.Context, code PermissionCode) (*Permission, error) {
	row, err := s.repo.GetPermission(ctx, string(code))
	if err != nil {
		return nil, fmt.Errorf("get permission %s: %w", code, err)
	}
	if row == nil {
		return nil, internal.ErrUnknownPermission.WithMessage(fmt.Sprintf("unknown permission %q", code))
	}
	return PermissionFromDataModel(row), nil
}

// ActivePermission is GetPermission that also rejects deactivated codes.
func (s *Service) ActivePermission(ctx context.Context, code PermissionCode) (*Permission, error) {
	p, err := s.GetPermission(ctx, code)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, internal.ErrUnknownPermission.WithMessage(fmt.Sprintf("permission %q is inactive", code))
	}
	return p, nil
}

// ListPermissions returns every permission, active or not, ordered by code.
func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	perms := make([]*Permission, 0, len(rows))
	for _, row := range rows {
		perms = append(perms, PermissionFromDataModel(row))
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

// GetRolePermissions returns the baseline of role. An inactive role has an
// empty baseline.
func (s *Service) GetRolePermissions(ctx context.Context, code RoleCode) (PermissionSet, error) {
	role, err := s.GetRole(ctx, code)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		s.logger.DebugContext(ctx, "role is inactive, baseline is empty", "role", code)
		return PermissionSet{}, nil
	}

	codes, err := s.repo.ListRolePermissionCodes(ctx, string(code))
	if err != nil {
		return nil, fmt.Errorf("list permissions of role %s: %w", code, err)
	}
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[PermissionCode(c)] = struct{}{}
	}
	return set, nil
}

func (s *Service) GetCategories(ctx context.Context) ([]*Category, error) {
	rows, err := s.repo.ListCategories(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get categories from repository", "error", err)
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categories := make([]*Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, CategoryFromDataModel(row))
	}
	return categories, nil
}

func (s *Service) GetCategory(ctx context.Context, code CategoryCode) (*Category, error) {
	row, err := s.repo.GetCategory(ctx, string(code))
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", code, err)
	}
	if row == nil {
		return nil, internal.ErrUnknownCategory.WithMessage(fmt.Sprintf("unknown category %q", code))
	}
	return CategoryFromDataModel(row), nil
}

// Verify loads the stored catalog and checks it against the catalog
// invariants.
func (s *Service) Verify(ctx context.Context) error {
	def, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		s.logger.ErrorContext(ctx, "stored catalog violates its invariants", "error", err)
		return err
	}
	return nil
}

// Provision writes the reference rows of def. Role baselines are not
// touched here; they change only through audited administration.
func (s *Service) Provision(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for _, c := range def.Categories {
		if err := s.repo.UpsertCategory(ctx, CategoryToDataModel(&Category{
			Code:        CategoryCode(c.Code),
			Name:        c.Name,
			Description: c.Description,
		})); err != nil {
			return fmt.Errorf("upsert category %s: %w", c.Code, err)
		}
	}
	for _, p := range def.Permissions {
		if err := s.repo.UpsertPermission(ctx, PermissionToDataModel(&Permission{
			Code:         PermissionCode(p.Code),
			CategoryCode: CategoryCode(p.Category),
			Description:  p.Description,
			IsActive:     p.IsActive(),
		})); err != nil {
			return fmt.Errorf("upsert permission %s: %w", p.Code, err)
		}
	}
	for _, r := range def.Roles {
		if err := s.repo.UpsertRole(ctx, RoleToDataModel(&Role{
			Code:        RoleCode(r.Code),
			Name:        r.Name,
			Description: r.Description,
			IsActive:    r.IsActive(),
		})); err != nil {
			return fmt.Errorf("upsert role %s: %w", r.Code, err)
		}
	}
	s.logger.InfoContext(ctx, "catalog provisioned",
		"categories", len(def.Categories),
		"permissions", len(def.Permissions),
		"roles", len(def.Roles))
	return nil
}

func (s *Service) snapshot(ctx context.Context) (*Definition, error) {
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	pairs, err := s.repo.ListRolePermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}

	def := &Definition{}
	for _, c := range cats {
		def.Categories = append(def.Categories, CategoryDef{Code: c.Code, Name: c.Name, Description: c.Description})
	}
	for _, p := range perms {
		active := p.IsActive
		def.Permissions = append(def.Permissions, PermissionDef{
			Code: p.Code, Category: p.CategoryCode, Description: p.Description, Active: &active,
		})
	}
	byRole := make(map[string][]string)
	for _, rp := range pairs {
		byRole[rp.RoleCode] = append(byRole[rp.RoleCode], rp.PermissionCode)
	}
	seen := make(map[string]bool)
	for _, r := range roles {
		active := r.IsActive
		seen[r.Code] = true
		def.Roles = append(def.Roles, RoleDef{
			Code: r.Code, Name: r.Name, Description: r.Description, Active: &active,
			Permissions: byRole[r.Code],
		})
	}
	// pairs whose role row is gone still have to be reported
	for role, codes := range byRole {
		if !seen[role] {
			def.Orphans = append(def.Orphans, OrphanAssignment{Role: role, Permissions: codes})
		}
	}
	return def, nil
}
