// Package memory keeps the whole access model in process memory. It backs
// the offline `check` command and the unit tests, and implements the same
// ports as the gorm repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/user"
)

var (
	_ catalog.RepositoryAPI = (*DB)(nil)
	_ user.Repository       = (*DB)(nil)
	_ permission.Store      = (*DB)(nil)
)

type assignmentKey struct {
	role string
	code string
}

type state struct {
	roles       map[string]accessDatamodel.Role
	categories  map[string]accessDatamodel.PermissionCategory
	permissions map[string]accessDatamodel.Permission
	assignments map[assignmentKey]permission.RoleAssignment
	users       map[string]accessDatamodel.UserProfile
	overrides   map[string]*permission.Override
	// order keeps override insertion order so listings are deterministic
	order []string
	audit []*permission.AuditEntry
}

func newState() *state {
	return &state{
		roles:       make(map[string]accessDatamodel.Role),
		categories:  make(map[string]accessDatamodel.PermissionCategory),
		permissions: make(map[string]accessDatamodel.Permission),
		assignments: make(map[assignmentKey]permission.RoleAssignment),
		users:       make(map[string]accessDatamodel.UserProfile),
		overrides:   make(map[string]*permission.Override),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.roles {
		cp.roles[k] = v
	}
	for k, v := range s.categories {
		cp.categories[k] = v
	}
	for k, v := range s.permissions {
		cp.permissions[k] = v
	}
	for k, v := range s.assignments {
		cp.assignments[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.overrides {
		cp.overrides[k] = v.Clone()
	}
	cp.order = append([]string(nil), s.order...)
	// audit entries are never mutated, sharing them is safe
	cp.audit = append([]*permission.AuditEntry(nil), s.audit...)
	return cp
}

// DB is safe for concurrent use. Mutations run on a private copy of the
// state that replaces the shared one only when the callback succeeds.
type DB struct {
	mu        sync.RWMutex
	st        *state
	auditFail error
}

func New() *DB {
	return &DB{st: newState()}
}

// ---- catalog.RepositoryAPI ----

func (d *DB) GetRole(_ context.Context, code string) (*accessDatamodel.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.st.roles[code]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (d *DB) ListRoles(_ context.Context) ([]*accessDatamodel.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*accessDatamodel.Role, 0, len(d.st.roles))
	for _, r := range d.st.roles {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *DB) GetCategory(_ context.Context, code string) (*accessDatamodel.PermissionCategory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.st.categories[code]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *DB) ListCategories(_ context.Context) ([]*accessDatamodel.PermissionCategory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*accessDatamodel.PermissionCategory, 0, len(d.st.categories))
	for _, c := range d.st.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *DB) GetPermission(_ context.Context, code string) (*accessDatamodel.Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.st.permissions[code]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *DB) ListPermissions(_ context.Context) ([]*accessDatamodel.Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*accessDatamodel.Permission, 0, len(d.st.permissions))
	for _, p := range d.st.permissions {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *DB) ListRolePermissionCodes(_ context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var codes []string
	for k := range d.st.assignments {
		if k.role != role {
			continue
		}
		if p, ok := d.st.permissions[k.code]; ok && p.IsActive {
			codes = append(codes, k.code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (d *DB) ListRolePermissions(_ context.Context) ([]*accessDatamodel.RolePermission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*accessDatamodel.RolePermission, 0, len(d.st.assignments))
	for _, a := range d.st.assignments {
		a := a
		out = append(out, permission.AssignmentToDataModel(&a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoleCode != out[j].RoleCode {
			return out[i].RoleCode < out[j].RoleCode
		}
		return out[i].PermissionCode < out[j].PermissionCode
	})
	return out, nil
}

func (d *DB) UpsertCategory(_ context.Context, c *accessDatamodel.PermissionCategory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.categories[c.Code] = *c
	return nil
}

func (d *DB) UpsertPermission(_ context.Context, p *accessDatamodel.Permission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.permissions[p.Code] = *p
	return nil
}

func (d *DB) UpsertRole(_ context.Context, r *accessDatamodel.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.roles[r.Code] = *r
	return nil
}

// ---- user.Repository ----

func (d *DB) GetByID(_ context.Context, id string) (*accessDatamodel.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *DB) Upsert(_ context.Context, u *accessDatamodel.UserProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := d.st.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	d.st.users[u.ID] = *u
	return nil
}

// ---- permission.Store ----

func (d *DB) ListOverrides(_ context.Context, userID string, code catalog.PermissionCode) ([]*permission.Override, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*permission.Override
	for _, id := range d.st.order {
		o := d.st.overrides[id]
		if o.UserID == userID && o.PermissionCode == code && o.RevokedAt == nil {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (d *DB) ListUserOverrides(_ context.Context, userID string) ([]*permission.Override, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*permission.Override
	for _, id := range d.st.order {
		if o := d.st.overrides[id]; o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (d *DB) ListAudit(_ context.Context, filter permission.AuditFilter, limit, offset int) ([]*permission.AuditEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var matched []*permission.AuditEntry
	for i := len(d.st.audit) - 1; i >= 0; i-- {
		if e := d.st.audit[i]; filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	permission.SortAuditNewestFirst(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *DB) WithinTx(ctx context.Context, fn func(tx permission.TxStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	work := d.st.clone()
	if err := fn(&txView{st: work, auditFail: d.auditFail}); err != nil {
		return err
	}
	d.st = work
	return nil
}

type txView struct {
	st        *state
	auditFail error
}

func (t *txView) LockLiveOverride(_ context.Context, key permission.OverrideKey) (*permission.Override, error) {
	for _, id := range t.st.order {
		o := t.st.overrides[id]
		if o.RevokedAt == nil && o.Key() == key {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (t *txView) LockOverride(_ context.Context, id string) (*permission.Override, error) {
	o, ok := t.st.overrides[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

// liveConflict mirrors the partial unique index on live overrides.
func (t *txView) liveConflict(o *permission.Override) bool {
	if o.RevokedAt != nil {
		return false
	}
	key := o.Key()
	for id, other := range t.st.overrides {
		if id != o.ID && other.RevokedAt == nil && other.Key() == key {
			return true
		}
	}
	return false
}

func (t *txView) InsertOverride(_ context.Context, o *permission.Override) error {
	if _, exists := t.st.overrides[o.ID]; exists || t.liveConflict(o) {
		return internal.ErrConcurrentModification
	}
	t.st.overrides[o.ID] = o.Clone()
	t.st.order = append(t.st.order, o.ID)
	return nil
}

func (t *txView) UpdateOverride(_ context.Context, o *permission.Override) error {
	if _, exists := t.st.overrides[o.ID]; !exists {
		return internal.ErrOverrideNotFound
	}
	if t.liveConflict(o) {
		return internal.ErrConcurrentModification
	}
	t.st.overrides[o.ID] = o.Clone()
	return nil
}

func (t *txView) LockRoleAssignment(_ context.Context, role catalog.RoleCode, code catalog.PermissionCode) (*permission.RoleAssignment, error) {
	a, ok := t.st.assignments[assignmentKey{role: string(role), code: string(code)}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *txView) InsertRoleAssignment(_ context.Context, a *permission.RoleAssignment) error {
	key := assignmentKey{role: string(a.Role), code: string(a.PermissionCode)}
	if _, exists := t.st.assignments[key]; exists {
		return internal.ErrConcurrentModification
	}
	t.st.assignments[key] = *a
	return nil
}

func (t *txView) DeleteRoleAssignment(_ context.Context, role catalog.RoleCode, code catalog.PermissionCode) error {
	delete(t.st.assignments, assignmentKey{role: string(role), code: string(code)})
	return nil
}

func (t *txView) AppendAudit(_ context.Context, e *permission.AuditEntry) error {
	if t.auditFail != nil {
		return t.auditFail
	}
	t.st.audit = append(t.st.audit, e)
	return nil
}

// ---- fixtures ----

// AssignRolePermission adds a baseline pair without auditing, for fixtures.
func (d *DB) AssignRolePermission(role catalog.RoleCode, code catalog.PermissionCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.assignments[assignmentKey{role: string(role), code: string(code)}] = permission.RoleAssignment{
		Role:           role,
		PermissionCode: code,
		GrantedBy:      "fixture",
		CreatedAt:      time.Now().UTC(),
	}
}

// SeedOverride stores o as-is, bypassing the live-row constraint, so that
// states the store would normally refuse can be reproduced.
func (d *DB) SeedOverride(o *permission.Override) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.st.overrides[o.ID]; !exists {
		d.st.order = append(d.st.order, o.ID)
	}
	d.st.overrides[o.ID] = o.Clone()
}

// FailAudit makes every later AppendAudit return err; nil restores normal
// behaviour.
func (d *DB) FailAudit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auditFail = err
}

// AuditEntries returns the audit log in insertion order.
func (d *DB) AuditEntries() []*permission.AuditEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*permission.AuditEntry(nil), d.st.audit...)
}

// Override returns a copy of the stored override, or nil.
func (d *DB) Override(id string) *permission.Override {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if o, ok := d.st.overrides[id]; ok {
		return o.Clone()
	}
	return nil
}

// Load provisions the catalog and baselines of def without auditing.
func (d *DB) Load(def *catalog.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range def.Categories {
		d.st.categories[c.Code] = accessDatamodel.PermissionCategory{Code: c.Code, Name: c.Name, Description: c.Description}
	}
	for _, p := range def.Permissions {
		d.st.permissions[p.Code] = accessDatamodel.Permission{Code: p.Code, CategoryCode: p.Category, Description: p.Description, IsActive: p.IsActive()}
	}
	now := time.Now().UTC()
	for _, r := range def.Roles {
		d.st.roles[r.Code] = accessDatamodel.Role{Code: r.Code, Name: r.Name, Description: r.Description, IsActive: r.IsActive()}
		for _, code := range r.Permissions {
			d.st.assignments[assignmentKey{role: r.Code, code: code}] = permission.RoleAssignment{
				Role:           catalog.RoleCode(r.Code),
				PermissionCode: catalog.PermissionCode(code),
				GrantedBy:      "catalog",
				CreatedAt:      now,
			}
		}
	}
	return nil
}
