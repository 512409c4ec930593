package catalog

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/frahmantamala/consulthub/internal"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
)

// RoleCode is the closed set of roles a profile may hold.
type RoleCode string

const (
	RoleSystemAdmin    RoleCode = "SYSTEM_ADMIN"
	RoleAdmin          RoleCode = "ADMIN"
	RoleProjectManager RoleCode = "PROJECT_MANAGER"
	RoleConsultant     RoleCode = "CONSULTANT"
	RoleClient         RoleCode = "CLIENT"
)

var roleCodes = []RoleCode{
	RoleSystemAdmin,
	RoleAdmin,
	RoleProjectManager,
	RoleConsultant,
	RoleClient,
}

func RoleCodes() []RoleCode {
	out := make([]RoleCode, len(roleCodes))
	copy(out, roleCodes)
	return out
}

func (r RoleCode) Valid() bool {
	for _, c := range roleCodes {
		if c == r {
			return true
		}
	}
	return false
}

func (r RoleCode) String() string { return string(r) }

// ParseRoleCode rejects anything outside the closed enumeration with
// ErrUnknownRole.
func ParseRoleCode(s string) (RoleCode, error) {
	r := RoleCode(s)
	if !r.Valid() {
		return "", internal.ErrUnknownRole.WithMessage(fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// PermissionCode is a syntactically valid permission identifier. Whether it
// names a registered permission is decided by the catalog.
type PermissionCode string

// Codes checked by this service's own routes. The catalog file must define
// them.
const (
	PermUserPermissionView PermissionCode = "USER_PERMISSION_VIEW"
	PermAuditView          PermissionCode = "PERMISSION_AUDIT_VIEW"
)

func ParsePermissionCode(s string) (PermissionCode, error) {
	if !codePattern.MatchString(s) {
		return "", internal.NewValidationFieldError("permission_code",
			fmt.Sprintf("%q is not a valid permission code", s), internal.ErrCodeInvalidCode)
	}
	return PermissionCode(s), nil
}

func (c PermissionCode) String() string { return string(c) }

type CategoryCode string

func ParseCategoryCode(s string) (CategoryCode, error) {
	if !codePattern.MatchString(s) {
		return "", internal.NewValidationFieldError("category_code",
			fmt.Sprintf("%q is not a valid category code", s), internal.ErrCodeInvalidCode)
	}
	return CategoryCode(s), nil
}

type Role struct {
	Code        RoleCode `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsActive    bool     `json:"is_active"`
}

type Category struct {
	Code        CategoryCode `json:"code"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

type Permission struct {
	Code         PermissionCode `json:"code"`
	CategoryCode CategoryCode   `json:"category_code"`
	Description  string         `json:"description"`
	IsActive     bool           `json:"is_active"`
}

// PermissionSet is a role baseline.
type PermissionSet map[PermissionCode]struct{}

func NewPermissionSet(codes ...PermissionCode) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(code PermissionCode) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the members in lexical order.
func (s PermissionSet) Codes() []PermissionCode {
	out := make([]PermissionCode, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func RoleFromDataModel(r *accessDatamodel.Role) *Role {
	return &Role{
		Code:        RoleCode(r.Code),
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
	}
}

func RoleToDataModel(r *Role) *accessDatamodel.Role {
	return &accessDatamodel.Role{
		Code:        string(r.Code),
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
	}
}

func CategoryFromDataModel(c *accessDatamodel.PermissionCategory) *Category {
	return &Category{
		Code:        CategoryCode(c.Code),
		Name:        c.Name,
		Description: c.Description,
	}
}

func CategoryToDataModel(c *Category) *accessDatamodel.PermissionCategory {
	return &accessDatamodel.PermissionCategory{
		Code:        string(c.Code),
		Name:        c.Name,
		Description: c.Description,
	}
}

func PermissionFromDataModel(p *accessDatamodel.Permission) *Permission {
	return &Permission{
		Code:         PermissionCode(p.Code),
		CategoryCode: CategoryCode(p.CategoryCode),
		Description:  p.Description,
		IsActive:     p.IsActive,
	}
}

func PermissionToDataModel(p *Permission) *accessDatamodel.Permission {
	return &accessDatamodel.Permission{
		Code:         string(p.Code),
		CategoryCode: string(p.CategoryCode),
		Description:  p.Description,
		IsActive:     p.IsActive,
	}
}
