package permission

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"gorm.io/datatypes"
)

type GrantType string

const (
	GrantTypeGrant GrantType = "grant"
	GrantTypeDeny  GrantType = "deny"
)

func (g GrantType) Valid() bool {
	return g == GrantTypeGrant || g == GrantTypeDeny
}

// Source explains which rule produced a Decision.
type Source string

const (
	SourceRoleGranted Source = "role-granted"
	SourceUserGranted Source = "user-granted"
	SourceUserDenied  Source = "user-denied"
	SourceRoleAbsent  Source = "role-absent"
)

type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
)

type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Scope pins a check or an override to one resource instance. A nil *Scope
// is the global context.
type Scope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ParseScope reads the "type:id" form used by the CLI and query strings.
// An empty string is the global context.
func ParseScope(s string) (*Scope, error) {
	if s == "" {
		return nil, nil
	}
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return nil, internal.NewValidationFieldError("context", fmt.Sprintf("%q is not of the form type:id", s), internal.ErrCodeInvalidScope)
	}
	return &Scope{Type: typ, ID: id}, nil
}

// NewScope returns nil for the global context and rejects a half-set pair.
func NewScope(typ, id string) (*Scope, error) {
	if typ == "" && id == "" {
		return nil, nil
	}
	if typ == "" || id == "" {
		return nil, internal.NewValidationFieldError("context", "context_type and context_id must be set together", internal.ErrCodeInvalidScope)
	}
	return &Scope{Type: typ, ID: id}, nil
}

func (s *Scope) Matches(other *Scope) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.Type == other.Type && s.ID == other.ID
}

func (s *Scope) String() string {
	if s == nil {
		return "global"
	}
	return s.Type + ":" + s.ID
}

func (s *Scope) columns() (string, string) {
	if s == nil {
		return "", ""
	}
	return s.Type, s.ID
}

// Override is a user-level grant or deny layered over the role baseline.
type Override struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	PermissionCode catalog.PermissionCode `json:"permission_code"`
	GrantType      GrantType              `json:"grant_type"`
	Scope          *Scope                 `json:"context,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	GrantedBy      string                 `json:"granted_by"`
	GrantedAt      time.Time              `json:"granted_at"`
	Reason         string                 `json:"reason,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	RevokedAt      *time.Time             `json:"revoked_at,omitempty"`
	RevokedBy      string                 `json:"revoked_by,omitempty"`
	RevokeReason   string                 `json:"revoke_reason,omitempty"`
}

// Expired reports whether the override has stopped applying at now.
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Live reports whether the override takes part in resolution at now.
func (o *Override) Live(now time.Time) bool {
	return o.RevokedAt == nil && !o.Expired(now)
}

func (o *Override) Key() OverrideKey {
	typ, id := o.Scope.columns()
	return OverrideKey{UserID: o.UserID, PermissionCode: o.PermissionCode, ContextType: typ, ContextID: id}
}

// Clone returns a deep copy.
func (o *Override) Clone() *Override {
	cp := *o
	if o.Scope != nil {
		s := *o.Scope
		cp.Scope = &s
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		cp.ExpiresAt = &t
	}
	if o.RevokedAt != nil {
		t := *o.RevokedAt
		cp.RevokedAt = &t
	}
	if o.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// OverrideKey identifies the tuple that may hold at most one live override.
type OverrideKey struct {
	UserID         string
	PermissionCode catalog.PermissionCode
	ContextType    string
	ContextID      string
}

// rankOverrides orders candidates newest granted_at first; equal timestamps
// fall back to the greater id.
func rankOverrides(candidates []*Override) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.GrantedAt.Equal(b.GrantedAt) {
			return a.GrantedAt.After(b.GrantedAt)
		}
		return a.ID > b.ID
	})
}

// RoleAssignment is one entry of a role baseline.
type RoleAssignment struct {
	Role           catalog.RoleCode       `json:"role_code"`
	PermissionCode catalog.PermissionCode `json:"permission_code"`
	GrantedBy      string                 `json:"granted_by"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Decision is the outcome of one CanPerform call.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Source            Source `json:"source"`
	MatchedOverrideID string `json:"matched_override_id,omitempty"`
	// Ambiguous is set when more than one live override matched at the same
	// specificity; the winner was picked by the tie-break.
	Ambiguous              bool     `json:"ambiguous,omitempty"`
	ConflictingOverrideIDs []string `json:"conflicting_override_ids,omitempty"`
}

// AuditEntry records one administrative change. Snapshots are JSON and
// null when the state did not exist.
type AuditEntry struct {
	ID             string                 `json:"id"`
	TargetType     TargetType             `json:"target_type"`
	TargetID       string                 `json:"target_id"`
	PermissionCode catalog.PermissionCode `json:"permission_code"`
	Action         Action                 `json:"action"`
	Scope          *Scope                 `json:"context,omitempty"`
	ActorID        string                 `json:"actor_id"`
	OccurredAt     time.Time              `json:"occurred_at"`
	OldValue       json.RawMessage        `json:"old_value"`
	NewValue       json.RawMessage        `json:"new_value"`
	Reason         string                 `json:"reason,omitempty"`
}

var jsonNull = json.RawMessage("null")

// snapshot marshals v for an audit column; a nil pointer becomes JSON null.
func snapshot[T any](v *T) (json.RawMessage, error) {
	if v == nil {
		return jsonNull, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return raw, nil
}

func OverrideToDataModel(o *Override) (*accessDatamodel.UserPermission, error) {
	typ, id := o.Scope.columns()
	row := &accessDatamodel.UserPermission{
		ID:             o.ID,
		UserID:         o.UserID,
		PermissionCode: string(o.PermissionCode),
		GrantType:      string(o.GrantType),
		ContextType:    typ,
		ContextID:      id,
		ExpiresAt:      o.ExpiresAt,
		GrantedBy:      o.GrantedBy,
		GrantedAt:      o.GrantedAt,
		Reason:         o.Reason,
		RevokedAt:      o.RevokedAt,
	}
	if o.Metadata != nil {
		raw, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal override metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if o.RevokedAt != nil {
		by, reason := o.RevokedBy, o.RevokeReason
		row.RevokedBy = &by
		row.RevokeReason = &reason
	}
	return row, nil
}

func OverrideFromDataModel(row *accessDatamodel.UserPermission) (*Override, error) {
	o := &Override{
		ID:             row.ID,
		UserID:         row.UserID,
		PermissionCode: catalog.PermissionCode(row.PermissionCode),
		GrantType:      GrantType(row.GrantType),
		ExpiresAt:      row.ExpiresAt,
		GrantedBy:      row.GrantedBy,
		GrantedAt:      row.GrantedAt,
		Reason:         row.Reason,
		RevokedAt:      row.RevokedAt,
	}
	if row.ContextType != "" || row.ContextID != "" {
		o.Scope = &Scope{Type: row.ContextType, ID: row.ContextID}
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of override %s: %w", row.ID, err)
		}
	}
	if row.RevokedBy != nil {
		o.RevokedBy = *row.RevokedBy
	}
	if row.RevokeReason != nil {
		o.RevokeReason = *row.RevokeReason
	}
	return o, nil
}

func AuditToDataModel(e *AuditEntry) *accessDatamodel.PermissionAudit {
	typ, id := e.Scope.columns()
	return &accessDatamodel.PermissionAudit{
		ID:             e.ID,
		TargetType:     string(e.TargetType),
		TargetID:       e.TargetID,
		PermissionCode: string(e.PermissionCode),
		Action:         string(e.Action),
		ContextType:    typ,
		ContextID:      id,
		ActorID:        e.ActorID,
		OccurredAt:     e.OccurredAt,
		OldValue:       datatypes.JSON(e.OldValue),
		NewValue:       datatypes.JSON(e.NewValue),
		Reason:         e.Reason,
	}
}

func AuditFromDataModel(row *accessDatamodel.PermissionAudit) *AuditEntry {
	e := &AuditEntry{
		ID:             row.ID,
		TargetType:     TargetType(row.TargetType),
		TargetID:       row.TargetID,
		PermissionCode: catalog.PermissionCode(row.PermissionCode),
		Action:         Action(row.Action),
		ActorID:        row.ActorID,
		OccurredAt:     row.OccurredAt,
		OldValue:       rawOrNull(row.OldValue),
		NewValue:       rawOrNull(row.NewValue),
		Reason:         row.Reason,
	}
	if row.ContextType != "" || row.ContextID != "" {
		e.Scope = &Scope{Type: row.ContextType, ID: row.ContextID}
	}
	return e
}

func rawOrNull(j datatypes.JSON) json.RawMessage {
	if len(j) == 0 {
		return jsonNull
	}
	return json.RawMessage(j)
}

func AssignmentToDataModel(a *RoleAssignment) *accessDatamodel.RolePermission {
	return &accessDatamodel.RolePermission{
		RoleCode:       string(a.Role),
		PermissionCode: string(a.PermissionCode),
		GrantedBy:      a.GrantedBy,
		CreatedAt:      a.CreatedAt,
	}
}

func AssignmentFromDataModel(row *accessDatamodel.RolePermission) *RoleAssignment {
	return &RoleAssignment{
		Role:           catalog.RoleCode(row.RoleCode),
		PermissionCode: catalog.PermissionCode(row.PermissionCode),
		GrantedBy:      row.GrantedBy,
		CreatedAt:      row.CreatedAt,
	}
}
