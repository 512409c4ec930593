package permission_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/core/events"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/permission/memory"
	"github.com/frahmantamala/consulthub/internal/user"
)

type allowListGate map[string]bool

func (g allowListGate) CanAdminister(_ context.Context, actorID string) error {
	if !g[actorID] {
		return internal.ErrNotAdministrator
	}
	return nil
}

func validationCodes(err error) []string {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue(), "expected an AppError, got %v", err)
	details, ok := appErr.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue(), "expected validation details")
	codes := make([]string, 0, len(details.Errors))
	for _, e := range details.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

var _ = Describe("Admin", func() {
	var (
		ctx      context.Context
		db       *memory.DB
		admin    *permission.Admin
		resolver *permission.Resolver
		bus      *events.EventBus
		received []events.Event
		now      time.Time
	)

	tick := func() { now = now.Add(time.Minute) }

	BeforeEach(func() {
		ctx = context.Background()
		now = fixedNow
		received = nil

		var (
			catalogSvc *catalog.Service
			userSvc    *user.Service
		)
		db, catalogSvc, userSvc = newFixture()

		bus = events.NewEventBus(discardLogger)
		record := func(_ context.Context, e events.Event) error {
			received = append(received, e)
			return nil
		}
		bus.Subscribe(events.EventTypeUserPermissionChanged, record)
		bus.Subscribe(events.EventTypeRolePermissionChanged, record)

		clockFn := func() time.Time { return now }
		admin = permission.NewAdmin(db, catalogSvc, userSvc, allowListGate{adminID: true}, bus, discardLogger).WithClock(clockFn)
		resolver = permission.NewResolver(db, catalogSvc, userSvc, discardLogger).WithClock(clockFn)
	})

	grant := func(target string, code catalog.PermissionCode, grantType permission.GrantType) (*permission.Override, error) {
		return admin.GrantUserPermission(ctx, permission.GrantRequest{
			ActorID:        adminID,
			TargetUserID:   target,
			PermissionCode: code,
			GrantType:      grantType,
			Reason:         "client engagement",
		})
	}

	Describe("GrantUserPermission", func() {
		It("stores the override and writes one audit entry", func() {
			o, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.ID).NotTo(BeEmpty())
			Expect(o.GrantedAt).To(Equal(fixedNow))
			Expect(o.GrantedBy).To(Equal(adminID))

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(1))
			e := entries[0]
			Expect(e.TargetType).To(Equal(permission.TargetUser))
			Expect(e.TargetID).To(Equal(consultantID))
			Expect(e.Action).To(Equal(permission.ActionGrant))
			Expect(e.ActorID).To(Equal(adminID))
			Expect(e.OccurredAt).To(Equal(fixedNow))
			Expect(e.Reason).To(Equal("client engagement"))
			Expect(string(e.OldValue)).To(Equal("null"))

			var after permission.Override
			Expect(json.Unmarshal(e.NewValue, &after)).To(Succeed())
			Expect(after.ID).To(Equal(o.ID))

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.MatchedOverrideID).To(Equal(o.ID))
		})

		It("publishes a change event after commit", func() {
			o, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())

			Expect(received).To(HaveLen(1))
			ev, ok := received[0].(*events.UserPermissionChangedEvent)
			Expect(ok).To(BeTrue())
			Expect(ev.OverrideID).To(Equal(o.ID))
			Expect(ev.Action).To(Equal("grant"))
		})

		It("keeps the change when a subscriber fails", func() {
			bus.Subscribe(events.EventTypeUserPermissionChanged, func(context.Context, events.Event) error {
				return errors.New("cache unavailable")
			})

			o, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Override(o.ID)).NotTo(BeNil())
		})

		It("reaffirms a live override of the same type in place", func() {
			first, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			tick()

			second, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.GrantedAt).To(Equal(now))

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(2))
			Expect(entries[1].Action).To(Equal(permission.ActionGrant))
			Expect(string(entries[1].OldValue)).NotTo(Equal("null"))

			all, err := admin.ListUserOverrides(ctx, consultantID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("supersedes a live override of the other type", func() {
			first, err := grant(managerID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			tick()

			second, err := grant(managerID, "PROJECT_CREATE", permission.GrantTypeDeny)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))

			prior := db.Override(first.ID)
			Expect(prior.RevokedAt).NotTo(BeNil())
			Expect(*prior.RevokedAt).To(Equal(now))
			Expect(prior.RevokedBy).To(Equal(adminID))
			Expect(prior.RevokeReason).To(ContainSubstring(second.ID))

			Expect(db.AuditEntries()).To(HaveLen(2))

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source).To(Equal(permission.SourceUserDenied))
			Expect(d.Ambiguous).To(BeFalse())
		})

		It("replaces an expired override instead of reviving it", func() {
			expiry := fixedNow.Add(30 * time.Minute)
			first, err := admin.GrantUserPermission(ctx, permission.GrantRequest{
				ActorID: adminID, TargetUserID: consultantID, PermissionCode: "PROJECT_CREATE",
				GrantType: permission.GrantTypeGrant, ExpiresAt: &expiry,
			})
			Expect(err).NotTo(HaveOccurred())
			now = fixedNow.Add(time.Hour)

			second, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))
			Expect(db.Override(first.ID).RevokedAt).NotTo(BeNil())
		})

		It("keeps scoped and global overrides apart", func() {
			global, err := grant(managerID, "DELIVERABLE_UPDATE", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())

			scoped, err := admin.GrantUserPermission(ctx, permission.GrantRequest{
				ActorID: adminID, TargetUserID: managerID, PermissionCode: "DELIVERABLE_UPDATE",
				GrantType: permission.GrantTypeDeny, Scope: &permission.Scope{Type: "project", ID: "p-1"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(scoped.ID).NotTo(Equal(global.ID))
			Expect(db.Override(global.ID).RevokedAt).To(BeNil())
		})

		It("treats an empty scope as global", func() {
			o, err := admin.GrantUserPermission(ctx, permission.GrantRequest{
				ActorID: adminID, TargetUserID: managerID, PermissionCode: "PROJECT_VIEW",
				GrantType: permission.GrantTypeGrant, Scope: &permission.Scope{},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Scope).To(BeNil())
		})

		It("accepts a target user who is not active", func() {
			_, err := grant(suspendedID, "PROJECT_VIEW", permission.GrantTypeDeny)
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("rejects invalid requests without writing",
			func(mutate func(*permission.GrantRequest), code internal.ErrorCode) {
				req := permission.GrantRequest{
					ActorID: adminID, TargetUserID: consultantID, PermissionCode: "PROJECT_CREATE",
					GrantType: permission.GrantTypeGrant,
				}
				mutate(&req)

				_, err := admin.GrantUserPermission(ctx, req)
				Expect(err).To(HaveOccurred())
				Expect(validationCodes(err)).To(ContainElement(string(code)))
				Expect(db.AuditEntries()).To(BeEmpty())
			},
			Entry("unknown grant type", func(r *permission.GrantRequest) { r.GrantType = "allow" }, internal.ErrCodeInvalidGrantType),
			Entry("half-set scope", func(r *permission.GrantRequest) { r.Scope = &permission.Scope{Type: "project"} }, internal.ErrCodeInvalidScope),
			Entry("expiry in the past", func(r *permission.GrantRequest) {
				past := fixedNow.Add(-time.Second)
				r.ExpiresAt = &past
			}, internal.ErrCodeInvalidExpiry),
			Entry("expiry equal to now", func(r *permission.GrantRequest) {
				at := fixedNow
				r.ExpiresAt = &at
			}, internal.ErrCodeInvalidExpiry),
			Entry("reason too long", func(r *permission.GrantRequest) { r.Reason = strings.Repeat("x", 501) }, internal.ErrCodeValidationFailed),
			Entry("missing target", func(r *permission.GrantRequest) { r.TargetUserID = "" }, internal.ErrCodeValidationFailed),
		)

		It("fails with UnknownPermission for an inactive code", func() {
			_, err := grant(consultantID, "LEGACY_EXPORT", permission.GrantTypeGrant)
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
		})

		It("fails with UnknownUser for a missing target", func() {
			_, err := grant("00000000-0000-0000-0000-00000000ffff", "PROJECT_VIEW", permission.GrantTypeGrant)
			Expect(err).To(MatchError(internal.ErrUnknownUser))
		})

		It("refuses an actor without authority", func() {
			_, err := admin.GrantUserPermission(ctx, permission.GrantRequest{
				ActorID: managerID, TargetUserID: consultantID, PermissionCode: "PROJECT_CREATE", GrantType: permission.GrantTypeGrant,
			})
			Expect(err).To(MatchError(internal.ErrNotAdministrator))
			Expect(db.AuditEntries()).To(BeEmpty())
		})

		It("leaves no override behind when the audit write fails", func() {
			db.FailAudit(errors.New("disk full"))

			_, err := grant(consultantID, "PROJECT_CREATE", permission.GrantTypeGrant)
			Expect(err).To(HaveOccurred())

			db.FailAudit(nil)
			all, err := admin.ListUserOverrides(ctx, consultantID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())
			Expect(received).To(BeEmpty())
		})
	})

	Describe("RevokeUserPermission", func() {
		var granted *permission.Override

		BeforeEach(func() {
			var err error
			granted, err = grant(managerID, "PROJECT_CREATE", permission.GrantTypeDeny)
			Expect(err).NotTo(HaveOccurred())
			tick()
		})

		It("marks the override revoked and audits the prior state", func() {
			Expect(admin.RevokeUserPermission(ctx, adminID, granted.ID, "engagement ended")).To(Succeed())

			o := db.Override(granted.ID)
			Expect(o.RevokedAt).NotTo(BeNil())
			Expect(o.RevokedBy).To(Equal(adminID))
			Expect(o.RevokeReason).To(Equal("engagement ended"))

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(2))
			last := entries[1]
			Expect(last.Action).To(Equal(permission.ActionRevoke))
			Expect(last.TargetID).To(Equal(managerID))
			Expect(string(last.NewValue)).To(Equal("null"))

			var before permission.Override
			Expect(json.Unmarshal(last.OldValue, &before)).To(Succeed())
			Expect(before.ID).To(Equal(granted.ID))
			Expect(before.RevokedAt).To(BeNil())

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source).To(Equal(permission.SourceRoleGranted))
		})

		It("reports an already revoked override as not found", func() {
			Expect(admin.RevokeUserPermission(ctx, adminID, granted.ID, "")).To(Succeed())

			err := admin.RevokeUserPermission(ctx, adminID, granted.ID, "")
			Expect(err).To(MatchError(internal.ErrOverrideNotFound))
			Expect(db.AuditEntries()).To(HaveLen(2))
		})

		It("reports an unknown id as not found", func() {
			err := admin.RevokeUserPermission(ctx, adminID, "missing", "")
			Expect(err).To(MatchError(internal.ErrOverrideNotFound))
		})

		It("refuses an actor without authority", func() {
			err := admin.RevokeUserPermission(ctx, consultantID, granted.ID, "")
			Expect(err).To(MatchError(internal.ErrNotAdministrator))
			Expect(db.Override(granted.ID).RevokedAt).To(BeNil())
		})
	})

	Describe("GrantRolePermission", func() {
		It("adds the pair to the baseline", func() {
			Expect(admin.GrantRolePermission(ctx, adminID, catalog.RoleConsultant, "DELIVERABLE_UPDATE", "new duty")).To(Succeed())

			d, err := resolver.CanPerform(ctx, consultantID, "DELIVERABLE_UPDATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source).To(Equal(permission.SourceRoleGranted))

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].TargetType).To(Equal(permission.TargetRole))
			Expect(entries[0].TargetID).To(Equal("CONSULTANT"))
			Expect(string(entries[0].OldValue)).To(Equal("null"))

			Expect(received).To(HaveLen(1))
			Expect(received[0].EventType()).To(Equal(events.EventTypeRolePermissionChanged))
		})

		It("audits a repeated grant without changing the baseline", func() {
			Expect(admin.GrantRolePermission(ctx, adminID, catalog.RoleConsultant, "PROJECT_VIEW", "")).To(Succeed())

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(string(entries[0].OldValue)).To(Equal(string(entries[0].NewValue)))
		})

		It("refuses an inactive role", func() {
			err := admin.GrantRolePermission(ctx, adminID, catalog.RoleClient, "PROJECT_VIEW", "")
			Expect(err).To(MatchError(internal.ErrUnknownRole))
		})

		It("refuses an inactive permission", func() {
			err := admin.GrantRolePermission(ctx, adminID, catalog.RoleConsultant, "LEGACY_EXPORT", "")
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
		})

		It("refuses an actor without authority", func() {
			err := admin.GrantRolePermission(ctx, managerID, catalog.RoleConsultant, "PROJECT_CREATE", "")
			Expect(err).To(MatchError(internal.ErrNotAdministrator))
		})

		It("leaves the baseline untouched when the audit write fails", func() {
			db.FailAudit(errors.New("disk full"))
			Expect(admin.GrantRolePermission(ctx, adminID, catalog.RoleConsultant, "PROJECT_CREATE", "")).NotTo(Succeed())
			db.FailAudit(nil)

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeFalse())
		})
	})

	Describe("RevokeRolePermission", func() {
		It("removes the pair and keeps it in the audit entry", func() {
			Expect(admin.RevokeRolePermission(ctx, adminID, catalog.RoleProjectManager, "PROJECT_CREATE", "restructure")).To(Succeed())

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source).To(Equal(permission.SourceRoleAbsent))

			entries := db.AuditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Action).To(Equal(permission.ActionRevoke))
			Expect(string(entries[0].NewValue)).To(Equal("null"))

			var before permission.RoleAssignment
			Expect(json.Unmarshal(entries[0].OldValue, &before)).To(Succeed())
			Expect(before.PermissionCode).To(Equal(catalog.PermissionCode("PROJECT_CREATE")))
		})

		It("fails when the role does not hold the permission", func() {
			err := admin.RevokeRolePermission(ctx, adminID, catalog.RoleConsultant, "PROJECT_CREATE", "")
			Expect(err).To(MatchError(internal.ErrRolePermissionNotFound))
			Expect(db.AuditEntries()).To(BeEmpty())
		})
	})

	Describe("ListUserOverrides", func() {
		It("hides inactive overrides unless asked", func() {
			revoked, err := grant(managerID, "PROJECT_VIEW", permission.GrantTypeDeny)
			Expect(err).NotTo(HaveOccurred())
			Expect(admin.RevokeUserPermission(ctx, adminID, revoked.ID, "")).To(Succeed())
			tick()
			live, err := grant(managerID, "PROJECT_CREATE", permission.GrantTypeDeny)
			Expect(err).NotTo(HaveOccurred())

			active, err := admin.ListUserOverrides(ctx, managerID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(1))
			Expect(active[0].ID).To(Equal(live.ID))

			all, err := admin.ListUserOverrides(ctx, managerID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(all[0].ID).To(Equal(live.ID))
		})

		It("fails for an unknown user", func() {
			_, err := admin.ListUserOverrides(ctx, "nobody", false)
			Expect(err).To(MatchError(internal.ErrUnknownUser))
		})
	})

	Describe("AuditHistory", func() {
		BeforeEach(func() {
			for _, code := range []catalog.PermissionCode{"PROJECT_VIEW", "PROJECT_CREATE", "DELIVERABLE_UPDATE"} {
				_, err := grant(consultantID, code, permission.GrantTypeGrant)
				Expect(err).NotTo(HaveOccurred())
				tick()
			}
			Expect(admin.GrantRolePermission(ctx, adminID, catalog.RoleConsultant, "PROJECT_CREATE", "")).To(Succeed())
		})

		It("pages newest first", func() {
			page, err := admin.AuditHistory(ctx, permission.AuditFilter{PageSize: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Page).To(Equal(1))
			Expect(page.HasNext).To(BeTrue())
			Expect(page.Entries).To(HaveLen(2))
			Expect(page.Entries[0].TargetType).To(Equal(permission.TargetRole))
			Expect(page.Entries[1].PermissionCode).To(Equal(catalog.PermissionCode("DELIVERABLE_UPDATE")))

			next, err := admin.AuditHistory(ctx, permission.AuditFilter{PageSize: 2, Page: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(next.HasNext).To(BeFalse())
			Expect(next.Entries).To(HaveLen(2))
		})

		It("filters by target", func() {
			page, err := admin.AuditHistory(ctx, permission.AuditFilter{TargetType: permission.TargetUser, TargetID: consultantID})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Entries).To(HaveLen(3))
			Expect(page.PageSize).To(Equal(20))
		})

		It("caps the page size", func() {
			page, err := admin.AuditHistory(ctx, permission.AuditFilter{PageSize: 500})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.PageSize).To(Equal(50))
		})

		It("returns an empty page past the end", func() {
			page, err := admin.AuditHistory(ctx, permission.AuditFilter{Page: 9})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Entries).To(BeEmpty())
			Expect(page.Entries).NotTo(BeNil())
		})

		It("rejects a page whose offset would overflow", func() {
			_, err := admin.AuditHistory(ctx, permission.AuditFilter{Page: math.MaxInt, PageSize: 50})
			Expect(validationCodes(err)).To(ConsistOf(string(internal.ErrCodeValidationFailed)))
			appErr, _ := internal.IsAppError(err)
			Expect(appErr.Details.(internal.ValidationErrors).Errors[0].Field).To(Equal("page"))

			page, err := admin.AuditHistory(ctx, permission.AuditFilter{Page: math.MaxInt / 50, PageSize: 50})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Entries).To(BeEmpty())
		})
	})

	Describe("memory ListAudit", func() {
		It("treats a negative offset as the first row", func() {
			_, err := grant(consultantID, "PROJECT_VIEW", permission.GrantTypeGrant)
			Expect(err).NotTo(HaveOccurred())

			entries, err := db.ListAudit(ctx, permission.AuditFilter{}, 10, -100)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})
	})
})
