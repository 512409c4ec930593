package permission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/pkg/logger"
)

// Resolver answers whether a user may perform a permission. It never
// writes.
type Resolver struct {
	store    Store
	catalog  CatalogReader
	users    UserDirectory
	recorder DecisionRecorder
	now      func() time.Time
	logger   *slog.Logger
}

func NewResolver(store Store, catalogReader CatalogReader, users UserDirectory, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		catalog:  catalogReader,
		users:    users,
		recorder: noopRecorder{},
		now:      time.Now,
		logger:   logger,
	}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) WithRecorder(rec DecisionRecorder) *Resolver {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// CanPerform resolves code for userID in scope (nil for a global check).
//
// Order of precedence: the permission must exist and be active, the user
// must be active with a known role, then the most specific live override
// decides, and only without one does the role baseline apply. Structural
// failures are returned as errors and never as a denial.
func (r *Resolver) CanPerform(ctx context.Context, userID string, code catalog.PermissionCode, scope *Scope) (Decision, error) {
	if _, err := r.catalog.ActivePermission(ctx, code); err != nil {
		return Decision{}, r.fail(ctx, err)
	}

	baseline, err := r.baselineFor(ctx, userID)
	if err != nil {
		return Decision{}, r.fail(ctx, err)
	}

	overrides, err := r.store.ListOverrides(ctx, userID, code)
	if err != nil {
		return Decision{}, r.fail(ctx, fmt.Errorf("list overrides of %s: %w", userID, err))
	}

	d := decide(overrides, baseline.Has(code), scope, r.now())
	if d.Ambiguous {
		logger.From(ctx).WarnContext(ctx, "conflicting permission overrides",
			"user_id", userID,
			"permission", code,
			"context", scope.String(),
			"override_ids", strings.Join(d.ConflictingOverrideIDs, ","),
			"winner", d.MatchedOverrideID)
	}
	r.recorder.RecordDecision(string(d.Source))
	return d, nil
}

// EffectiveEntry is one row of the effective permission matrix.
type EffectiveEntry struct {
	Code         catalog.PermissionCode `json:"code"`
	CategoryCode catalog.CategoryCode   `json:"category_code"`
	Decision
}

// EffectivePermissions resolves every active permission for userID in
// scope with the same rules as CanPerform.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string, scope *Scope) ([]EffectiveEntry, error) {
	baseline, err := r.baselineFor(ctx, userID)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	perms, err := r.catalog.ListPermissions(ctx)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	all, err := r.store.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, r.fail(ctx, fmt.Errorf("list overrides of %s: %w", userID, err))
	}
	byCode := make(map[catalog.PermissionCode][]*Override)
	for _, o := range all {
		byCode[o.PermissionCode] = append(byCode[o.PermissionCode], o)
	}

	now := r.now()
	out := make([]EffectiveEntry, 0, len(perms))
	for _, p := range perms {
		if !p.IsActive {
			continue
		}
		out = append(out, EffectiveEntry{
			Code:         p.Code,
			CategoryCode: p.CategoryCode,
			Decision:     decide(byCode[p.Code], baseline.Has(p.Code), scope, now),
		})
	}
	return out, nil
}

// AllowedPermissions lists the codes userID may perform globally.
func (r *Resolver) AllowedPermissions(ctx context.Context, userID string) ([]string, error) {
	entries, err := r.EffectivePermissions(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	allowed := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Allowed {
			allowed = append(allowed, string(e.Code))
		}
	}
	return allowed, nil
}

func (r *Resolver) baselineFor(ctx context.Context, userID string) (catalog.PermissionSet, error) {
	profile, err := r.users.ActiveProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	role, err := catalog.ParseRoleCode(string(profile.Role))
	if err != nil {
		return nil, err
	}
	return r.catalog.GetRolePermissions(ctx, role)
}

func (r *Resolver) fail(ctx context.Context, err error) error {
	kind := "storage"
	if appErr, ok := internal.IsAppError(err); ok {
		kind = strings.ToLower(string(appErr.Code))
	}
	r.recorder.RecordError(kind)
	if internal.IsStructural(err) {
		logger.From(ctx).ErrorContext(ctx, "permission resolution failed", "kind", kind, "error", err)
	}
	return err
}

// decide applies the override rules to the candidates of one permission.
// Revoked and expired overrides are ignored. An override pinned to the
// query scope beats a global one; a scoped override never answers a global
// query.
func decide(overrides []*Override, roleGrants bool, scope *Scope, now time.Time) Decision {
	var exact, global []*Override
	for _, o := range overrides {
		if !o.Live(now) {
			continue
		}
		switch {
		case o.Scope == nil:
			global = append(global, o)
		case scope != nil && o.Scope.Matches(scope):
			exact = append(exact, o)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = global
	}

	if len(candidates) == 0 {
		if roleGrants {
			return Decision{Allowed: true, Source: SourceRoleGranted}
		}
		return Decision{Allowed: false, Source: SourceRoleAbsent}
	}

	rankOverrides(candidates)
	winner := candidates[0]
	d := Decision{MatchedOverrideID: winner.ID}
	if winner.GrantType == GrantTypeGrant {
		d.Allowed, d.Source = true, SourceUserGranted
	} else {
		d.Allowed, d.Source = false, SourceUserDenied
	}
	if len(candidates) > 1 {
		d.Ambiguous = true
		for _, c := range candidates {
			d.ConflictingOverrideIDs = append(d.ConflictingOverrideIDs, c.ID)
		}
	}
	return d
}
