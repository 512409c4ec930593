package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/core/common/validation"
	"github.com/frahmantamala/consulthub/internal/core/events"
	"github.com/frahmantamala/consulthub/pkg/logger"
	"github.com/google/uuid"
)

const maxReasonLength = 500

// Admin performs audited changes to overrides and role baselines. Every
// successful call writes exactly one audit entry in the same transaction
// as the change.
type Admin struct {
	store     Store
	catalog   CatalogReader
	users     UserDirectory
	gate      AuthorityGate
	publisher events.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

func NewAdmin(store Store, catalogReader CatalogReader, users UserDirectory, gate AuthorityGate, publisher events.Publisher, logger *slog.Logger) *Admin {
	return &Admin{
		store:     store,
		catalog:   catalogReader,
		users:     users,
		gate:      gate,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

func (a *Admin) WithClock(now func() time.Time) *Admin {
	a.now = now
	return a
}

type GrantRequest struct {
	ActorID        string
	TargetUserID   string
	PermissionCode catalog.PermissionCode
	GrantType      GrantType
	Scope          *Scope
	ExpiresAt      *time.Time
	Reason         string
	Metadata       map[string]interface{}
}

func (req GrantRequest) validate(now time.Time) *internal.AppError {
	v := validation.NewValidator()
	v.Field("user_id", req.TargetUserID).Required()
	v.Field("permission_code", string(req.PermissionCode)).Required()
	v.Field("grant_type", req.GrantType).Custom(func(value interface{}) *internal.AppError {
		if g, _ := value.(GrantType); !g.Valid() {
			return internal.NewValidationFieldError("grant_type", "grant_type must be one of [grant deny]", internal.ErrCodeInvalidGrantType)
		}
		return nil
	})
	if req.Scope != nil {
		v.Field("context_type", req.Scope.Type).BothOrNeither("context_id", req.Scope.ID, internal.ErrCodeInvalidScope)
	}
	v.Field("expires_at", req.ExpiresAt).After(now, internal.ErrCodeInvalidExpiry)
	v.Field("reason", req.Reason).MaxLength(maxReasonLength)
	return v.Validate()
}

// GrantUserPermission records a grant or deny override for the target
// user. Granting the same type again for the same tuple reaffirms the live
// row in place; a different type, or a live row that has expired, is
// superseded by a new row.
func (a *Admin) GrantUserPermission(ctx context.Context, req GrantRequest) (*Override, error) {
	if err := a.gate.CanAdminister(ctx, req.ActorID); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	if req.Scope != nil && req.Scope.Type == "" && req.Scope.ID == "" {
		req.Scope = nil
	}
	if appErr := req.validate(now); appErr != nil {
		return nil, appErr
	}
	if _, err := a.catalog.ActivePermission(ctx, req.PermissionCode); err != nil {
		return nil, err
	}
	if _, err := a.users.GetProfile(ctx, req.TargetUserID); err != nil {
		return nil, err
	}

	candidate := &Override{
		UserID:         req.TargetUserID,
		PermissionCode: req.PermissionCode,
		GrantType:      req.GrantType,
		Scope:          req.Scope,
		ExpiresAt:      req.ExpiresAt,
		GrantedBy:      req.ActorID,
		GrantedAt:      now,
		Reason:         req.Reason,
		Metadata:       req.Metadata,
	}

	var result *Override
	err := a.store.WithinTx(ctx, func(tx TxStore) error {
		prior, err := tx.LockLiveOverride(ctx, candidate.Key())
		if err != nil {
			return fmt.Errorf("lock live override: %w", err)
		}

		if prior != nil && !prior.Expired(now) && prior.GrantType == req.GrantType {
			reaffirmed := prior.Clone()
			reaffirmed.GrantedAt = now
			reaffirmed.GrantedBy = req.ActorID
			reaffirmed.Reason = req.Reason
			reaffirmed.ExpiresAt = req.ExpiresAt
			reaffirmed.Metadata = req.Metadata
			if err := tx.UpdateOverride(ctx, reaffirmed); err != nil {
				return fmt.Errorf("reaffirm override %s: %w", prior.ID, err)
			}
			result = reaffirmed
		} else {
			candidate.ID = uuid.NewString()
			if prior != nil {
				superseded := prior.Clone()
				superseded.RevokedAt = &now
				superseded.RevokedBy = req.ActorID
				superseded.RevokeReason = "superseded by " + candidate.ID
				if err := tx.UpdateOverride(ctx, superseded); err != nil {
					return fmt.Errorf("supersede override %s: %w", prior.ID, err)
				}
			}
			if err := tx.InsertOverride(ctx, candidate); err != nil {
				return fmt.Errorf("insert override: %w", err)
			}
			result = candidate
		}

		entry, err := newAuditEntry(TargetUser, req.TargetUserID, req.PermissionCode, ActionGrant, req.Scope, req.ActorID, now, req.Reason, prior, result)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.From(ctx).InfoContext(ctx, "user permission granted",
		"actor_id", req.ActorID,
		"user_id", req.TargetUserID,
		"permission", req.PermissionCode,
		"grant_type", req.GrantType,
		"context", req.Scope.String(),
		"override_id", result.ID)
	a.publish(ctx, events.NewUserPermissionChangedEvent(req.TargetUserID, string(req.PermissionCode), result.ID, string(ActionGrant), req.ActorID))
	return result, nil
}

// RevokeUserPermission supersedes an override. The row is kept with its
// revocation recorded.
func (a *Admin) RevokeUserPermission(ctx context.Context, actorID, overrideID, reason string) error {
	if err := a.gate.CanAdminister(ctx, actorID); err != nil {
		return err
	}

	v := validation.NewValidator()
	v.Field("override_id", overrideID).Required()
	v.Field("reason", reason).MaxLength(maxReasonLength)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}

	now := a.now().UTC()
	var before *Override
	err := a.store.WithinTx(ctx, func(tx TxStore) error {
		o, err := tx.LockOverride(ctx, overrideID)
		if err != nil {
			return fmt.Errorf("lock override %s: %w", overrideID, err)
		}
		if o == nil || o.RevokedAt != nil {
			return internal.ErrOverrideNotFound.WithMessage(fmt.Sprintf("override %q not found", overrideID))
		}
		before = o.Clone()

		o.RevokedAt = &now
		o.RevokedBy = actorID
		o.RevokeReason = reason
		if err := tx.UpdateOverride(ctx, o); err != nil {
			return fmt.Errorf("revoke override %s: %w", overrideID, err)
		}

		entry, err := newAuditEntry(TargetUser, before.UserID, before.PermissionCode, ActionRevoke, before.Scope, actorID, now, reason, before, (*Override)(nil))
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return err
	}

	logger.From(ctx).InfoContext(ctx, "user permission revoked",
		"actor_id", actorID,
		"user_id", before.UserID,
		"permission", before.PermissionCode,
		"override_id", overrideID)
	a.publish(ctx, events.NewUserPermissionChangedEvent(before.UserID, string(before.PermissionCode), overrideID, string(ActionRevoke), actorID))
	return nil
}

// GrantRolePermission adds code to the baseline of role. Granting a pair
// that is already present changes nothing but is still audited.
func (a *Admin) GrantRolePermission(ctx context.Context, actorID string, role catalog.RoleCode, code catalog.PermissionCode, reason string) error {
	if err := a.gate.CanAdminister(ctx, actorID); err != nil {
		return err
	}
	if err := a.validateReason(reason); err != nil {
		return err
	}

	r, err := a.catalog.GetRole(ctx, role)
	if err != nil {
		return err
	}
	if !r.IsActive {
		return internal.ErrUnknownRole.WithMessage(fmt.Sprintf("role %q is inactive", role))
	}
	if _, err := a.catalog.ActivePermission(ctx, code); err != nil {
		return err
	}

	now := a.now().UTC()
	err = a.store.WithinTx(ctx, func(tx TxStore) error {
		prior, err := tx.LockRoleAssignment(ctx, role, code)
		if err != nil {
			return fmt.Errorf("lock role assignment: %w", err)
		}

		current := prior
		if prior == nil {
			current = &RoleAssignment{Role: role, PermissionCode: code, GrantedBy: actorID, CreatedAt: now}
			if err := tx.InsertRoleAssignment(ctx, current); err != nil {
				return fmt.Errorf("insert role assignment: %w", err)
			}
		}

		entry, err := newAuditEntry(TargetRole, string(role), code, ActionGrant, nil, actorID, now, reason, prior, current)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return err
	}

	logger.From(ctx).InfoContext(ctx, "role permission granted", "actor_id", actorID, "role", role, "permission", code)
	a.publish(ctx, events.NewRolePermissionChangedEvent(string(role), string(code), string(ActionGrant), actorID))
	return nil
}

// RevokeRolePermission removes code from the baseline of role. The audit
// entry keeps the removed assignment.
func (a *Admin) RevokeRolePermission(ctx context.Context, actorID string, role catalog.RoleCode, code catalog.PermissionCode, reason string) error {
	if err := a.gate.CanAdminister(ctx, actorID); err != nil {
		return err
	}
	if err := a.validateReason(reason); err != nil {
		return err
	}
	if _, err := a.catalog.GetRole(ctx, role); err != nil {
		return err
	}

	now := a.now().UTC()
	err := a.store.WithinTx(ctx, func(tx TxStore) error {
		prior, err := tx.LockRoleAssignment(ctx, role, code)
		if err != nil {
			return fmt.Errorf("lock role assignment: %w", err)
		}
		if prior == nil {
			return internal.ErrRolePermissionNotFound.WithMessage(fmt.Sprintf("role %s does not hold %s", role, code))
		}
		if err := tx.DeleteRoleAssignment(ctx, role, code); err != nil {
			return fmt.Errorf("delete role assignment: %w", err)
		}

		entry, err := newAuditEntry(TargetRole, string(role), code, ActionRevoke, nil, actorID, now, reason, prior, (*RoleAssignment)(nil))
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		return err
	}

	logger.From(ctx).InfoContext(ctx, "role permission revoked", "actor_id", actorID, "role", role, "permission", code)
	a.publish(ctx, events.NewRolePermissionChangedEvent(string(role), string(code), string(ActionRevoke), actorID))
	return nil
}

// ListUserOverrides returns the overrides of userID, newest first. Without
// includeInactive only overrides that currently take part in resolution are
// returned.
func (a *Admin) ListUserOverrides(ctx context.Context, userID string, includeInactive bool) ([]*Override, error) {
	if _, err := a.users.GetProfile(ctx, userID); err != nil {
		return nil, err
	}
	all, err := a.store.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list overrides of %s: %w", userID, err)
	}

	now := a.now()
	out := make([]*Override, 0, len(all))
	for _, o := range all {
		if includeInactive || o.Live(now) {
			out = append(out, o)
		}
	}
	rankOverrides(out)
	return out, nil
}

func (a *Admin) validateReason(reason string) error {
	v := validation.NewValidator()
	v.Field("reason", reason).MaxLength(maxReasonLength)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// publish runs after commit. A failing subscriber cannot undo the change,
// so it is logged and dropped.
func (a *Admin) publish(ctx context.Context, event events.Event) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishSync(ctx, event); err != nil {
		logger.From(ctx).WarnContext(ctx, "post-commit event handler failed",
			"event_type", event.EventType(),
			"error", err)
	}
}

func newAuditEntry[T any](target TargetType, targetID string, code catalog.PermissionCode, action Action, scope *Scope, actorID string, at time.Time, reason string, before, after *T) (*AuditEntry, error) {
	oldValue, err := snapshot(before)
	if err != nil {
		return nil, err
	}
	newValue, err := snapshot(after)
	if err != nil {
		return nil, err
	}
	return &AuditEntry{
		ID:             uuid.NewString(),
		TargetType:     target,
		TargetID:       targetID,
		PermissionCode: code,
		Action:         action,
		Scope:          scope,
		ActorID:        actorID,
		OccurredAt:     at,
		OldValue:       oldValue,
		NewValue:       newValue,
		Reason:         reason,
	}, nil
}
