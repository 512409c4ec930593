package permission

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/frahmantamala/consulthub/internal"
)

const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 50
)

// AuditFilter narrows the audit history. Empty fields match everything.
type AuditFilter struct {
	TargetType     TargetType
	TargetID       string
	PermissionCode string
	Action         Action
	Page           int
	PageSize       int
}

func (f AuditFilter) normalize() AuditFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultAuditPageSize
	}
	if f.PageSize > maxAuditPageSize {
		f.PageSize = maxAuditPageSize
	}
	return f
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.TargetType != "" && e.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if f.PermissionCode != "" && string(e.PermissionCode) != f.PermissionCode {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

type AuditPage struct {
	Entries  []*AuditEntry `json:"entries"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasNext  bool          `json:"has_next"`
}

// AuditHistory returns one page of audit entries, newest first.
func (a *Admin) AuditHistory(ctx context.Context, filter AuditFilter) (*AuditPage, error) {
	filter = filter.normalize()
	if filter.Page > math.MaxInt/filter.PageSize {
		return nil, internal.NewValidationFieldError("page",
			fmt.Sprintf("page must not exceed %d for page_size %d", math.MaxInt/filter.PageSize, filter.PageSize),
			internal.ErrCodeValidationFailed)
	}
	offset := (filter.Page - 1) * filter.PageSize

	// one extra row tells whether another page exists
	entries, err := a.store.ListAudit(ctx, filter, filter.PageSize+1, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	page := &AuditPage{Page: filter.Page, PageSize: filter.PageSize}
	if len(entries) > filter.PageSize {
		page.HasNext = true
		entries = entries[:filter.PageSize]
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}
	page.Entries = entries
	return page, nil
}

// SortAuditNewestFirst orders by occurred_at descending. The sort is
// stable, so entries passed in reverse insertion order keep it on ties.
func SortAuditNewestFirst(entries []*AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})
}
