package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the catalog as written in config/catalog.yml.
type Definition struct {
	Categories  []CategoryDef   `yaml:"categories"`
	Permissions []PermissionDef `yaml:"permissions"`
	Roles       []RoleDef       `yaml:"roles"`

	// Orphans holds stored assignments whose role row no longer exists.
	Orphans []OrphanAssignment `yaml:"-"`
}

type CategoryDef struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type PermissionDef struct {
	Code        string `yaml:"code"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Active      *bool  `yaml:"active"`
}

func (p PermissionDef) IsActive() bool { return p.Active == nil || *p.Active }

type RoleDef struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Active      *bool    `yaml:"active"`
	Permissions []string `yaml:"permissions"`
}

func (r RoleDef) IsActive() bool { return r.Active == nil || *r.Active }

type OrphanAssignment struct {
	Role        string
	Permissions []string
}

// Violations lists every broken catalog invariant found in one pass.
type Violations []string

func (v Violations) Error() string {
	return "catalog invariants violated: " + strings.Join(v, "; ")
}

func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseDefinition(raw)
}

func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return &def, nil
}

// Validate returns Violations, or nil when the definition is consistent.
func (d *Definition) Validate() error {
	var v Violations

	categories := make(map[string]bool, len(d.Categories))
	for _, c := range d.Categories {
		if _, err := ParseCategoryCode(c.Code); err != nil {
			v = append(v, fmt.Sprintf("category %q: malformed code", c.Code))
			continue
		}
		if categories[c.Code] {
			v = append(v, fmt.Sprintf("category %q: duplicate code", c.Code))
		}
		categories[c.Code] = true
	}

	permissions := make(map[string]bool, len(d.Permissions))
	for _, p := range d.Permissions {
		if _, err := ParsePermissionCode(p.Code); err != nil {
			v = append(v, fmt.Sprintf("permission %q: malformed code", p.Code))
			continue
		}
		if _, dup := permissions[p.Code]; dup {
			v = append(v, fmt.Sprintf("permission %q: duplicate code", p.Code))
		}
		permissions[p.Code] = p.IsActive()
		if !categories[p.Category] {
			v = append(v, fmt.Sprintf("permission %q: category %q does not exist", p.Code, p.Category))
		}
	}

	roles := make(map[string]bool, len(d.Roles))
	for _, r := range d.Roles {
		if !RoleCode(r.Code).Valid() {
			v = append(v, fmt.Sprintf("role %q: not a known role code", r.Code))
			continue
		}
		if roles[r.Code] {
			v = append(v, fmt.Sprintf("role %q: duplicate code", r.Code))
		}
		roles[r.Code] = true
		if len(r.Permissions) > 0 && !r.IsActive() {
			v = append(v, fmt.Sprintf("role %q: inactive role holds permissions", r.Code))
		}
		assigned := make(map[string]bool, len(r.Permissions))
		for _, code := range r.Permissions {
			active, ok := permissions[code]
			switch {
			case !ok:
				v = append(v, fmt.Sprintf("role %q: permission %q does not exist", r.Code, code))
			case !active:
				v = append(v, fmt.Sprintf("role %q: permission %q is inactive", r.Code, code))
			}
			if assigned[code] {
				v = append(v, fmt.Sprintf("role %q: permission %q assigned twice", r.Code, code))
			}
			assigned[code] = true
		}
	}

	orphans := append([]OrphanAssignment(nil), d.Orphans...)
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Role < orphans[j].Role })
	for _, o := range orphans {
		v = append(v, fmt.Sprintf("role %q: %d assignments reference a missing role", o.Role, len(o.Permissions)))
	}

	if len(v) > 0 {
		return v
	}
	return nil
}

// Assignments flattens the role baselines of d.
func (d *Definition) Assignments() map[RoleCode][]PermissionCode {
	out := make(map[RoleCode][]PermissionCode, len(d.Roles))
	for _, r := range d.Roles {
		for _, code := range r.Permissions {
			out[RoleCode(r.Code)] = append(out[RoleCode(r.Code)], PermissionCode(code))
		}
	}
	return out
}
