package permission_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/permission/memory"
	"github.com/frahmantamala/consulthub/internal/user"
)

type countingRecorder struct {
	decisions map[string]int
	errors    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{decisions: map[string]int{}, errors: map[string]int{}}
}

func (c *countingRecorder) RecordDecision(source string) { c.decisions[source]++ }
func (c *countingRecorder) RecordError(kind string)      { c.errors[kind]++ }

func override(id, userID string, code catalog.PermissionCode, grantType permission.GrantType, grantedAt time.Time) *permission.Override {
	return &permission.Override{
		ID:             id,
		UserID:         userID,
		PermissionCode: code,
		GrantType:      grantType,
		GrantedBy:      adminID,
		GrantedAt:      grantedAt,
	}
}

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		db       *memory.DB
		resolver *permission.Resolver
		recorder *countingRecorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		var (
			catalogSvc *catalog.Service
			userSvc    *user.Service
		)
		db, catalogSvc, userSvc = newFixture()
		recorder = newCountingRecorder()
		resolver = permission.NewResolver(db, catalogSvc, userSvc, discardLogger).
			WithClock(clock).
			WithRecorder(recorder)
	})

	Describe("CanPerform", func() {
		It("allows a permission held by the role baseline", func() {
			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Source).To(Equal(permission.SourceRoleGranted))
			Expect(d.MatchedOverrideID).To(BeEmpty())
		})

		It("denies a permission outside the role baseline", func() {
			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeFalse())
			Expect(d.Source).To(Equal(permission.SourceRoleAbsent))
		})

		It("lets a user grant add to the baseline", func() {
			db.SeedOverride(override("ov-1", consultantID, "PROJECT_CREATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Source).To(Equal(permission.SourceUserGranted))
			Expect(d.MatchedOverrideID).To(Equal("ov-1"))
		})

		It("lets a user deny take away a baseline permission", func() {
			db.SeedOverride(override("ov-1", managerID, "PROJECT_CREATE", permission.GrantTypeDeny, fixedNow.Add(-time.Hour)))

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeFalse())
			Expect(d.Source).To(Equal(permission.SourceUserDenied))
			Expect(d.MatchedOverrideID).To(Equal("ov-1"))
		})

		It("ignores an expired override", func() {
			o := override("ov-1", managerID, "PROJECT_CREATE", permission.GrantTypeDeny, fixedNow.Add(-48*time.Hour))
			expiry := fixedNow.Add(-time.Hour)
			o.ExpiresAt = &expiry
			db.SeedOverride(o)

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Source).To(Equal(permission.SourceRoleGranted))
		})

		It("treats an override expiring exactly now as expired", func() {
			o := override("ov-1", consultantID, "PROJECT_CREATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour))
			expiry := fixedNow
			o.ExpiresAt = &expiry
			db.SeedOverride(o)

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeFalse())
		})

		It("ignores a revoked override", func() {
			o := override("ov-1", managerID, "PROJECT_CREATE", permission.GrantTypeDeny, fixedNow.Add(-time.Hour))
			revokedAt := fixedNow.Add(-time.Minute)
			o.RevokedAt = &revokedAt
			db.SeedOverride(o)

			d, err := resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source).To(Equal(permission.SourceRoleGranted))
		})

		It("lets the newest of two live overrides win and flags the conflict", func() {
			db.SeedOverride(override("ov-old", consultantID, "PROJECT_CREATE", permission.GrantTypeDeny, fixedNow.Add(-2*time.Hour)))
			db.SeedOverride(override("ov-new", consultantID, "PROJECT_CREATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
			Expect(d.MatchedOverrideID).To(Equal("ov-new"))
			Expect(d.Ambiguous).To(BeTrue())
			Expect(d.ConflictingOverrideIDs).To(ConsistOf("ov-old", "ov-new"))
		})

		It("breaks a granted_at tie on the greater id", func() {
			at := fixedNow.Add(-time.Hour)
			db.SeedOverride(override("ov-b", consultantID, "PROJECT_CREATE", permission.GrantTypeDeny, at))
			db.SeedOverride(override("ov-a", consultantID, "PROJECT_CREATE", permission.GrantTypeGrant, at))

			d, err := resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.MatchedOverrideID).To(Equal("ov-b"))
			Expect(d.Allowed).To(BeFalse())
		})

		Context("with scoped overrides", func() {
			project := &permission.Scope{Type: "project", ID: "p-1"}

			BeforeEach(func() {
				scoped := override("ov-scoped", managerID, "DELIVERABLE_UPDATE", permission.GrantTypeDeny, fixedNow.Add(-2*time.Hour))
				scoped.Scope = &permission.Scope{Type: "project", ID: "p-1"}
				db.SeedOverride(scoped)
			})

			It("applies the override to a check in the same context", func() {
				d, err := resolver.CanPerform(ctx, managerID, "DELIVERABLE_UPDATE", project)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Allowed).To(BeFalse())
				Expect(d.MatchedOverrideID).To(Equal("ov-scoped"))
			})

			It("never lets a scoped override answer a global check", func() {
				d, err := resolver.CanPerform(ctx, managerID, "DELIVERABLE_UPDATE", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Allowed).To(BeTrue())
				Expect(d.Source).To(Equal(permission.SourceRoleGranted))
			})

			It("falls back to the baseline in another context", func() {
				d, err := resolver.CanPerform(ctx, managerID, "DELIVERABLE_UPDATE", &permission.Scope{Type: "project", ID: "p-2"})
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Source).To(Equal(permission.SourceRoleGranted))
			})

			It("prefers the scoped override over a newer global one", func() {
				db.SeedOverride(override("ov-global", managerID, "DELIVERABLE_UPDATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))

				d, err := resolver.CanPerform(ctx, managerID, "DELIVERABLE_UPDATE", project)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.MatchedOverrideID).To(Equal("ov-scoped"))
				Expect(d.Ambiguous).To(BeFalse())
			})

			It("uses a global override for a scoped check when no scoped one matches", func() {
				db.SeedOverride(override("ov-global", consultantID, "DELIVERABLE_UPDATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))

				d, err := resolver.CanPerform(ctx, consultantID, "DELIVERABLE_UPDATE", project)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Allowed).To(BeTrue())
				Expect(d.MatchedOverrideID).To(Equal("ov-global"))
			})
		})

		It("grants nothing through an inactive role", func() {
			d, err := resolver.CanPerform(ctx, clientID, "PROJECT_VIEW", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeFalse())
			Expect(d.Source).To(Equal(permission.SourceRoleAbsent))
		})

		It("still honours a user grant for a holder of an inactive role", func() {
			db.SeedOverride(override("ov-1", clientID, "PROJECT_VIEW", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))

			d, err := resolver.CanPerform(ctx, clientID, "PROJECT_VIEW", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed).To(BeTrue())
		})

		It("fails with UnknownPermission for an unregistered code", func() {
			_, err := resolver.CanPerform(ctx, managerID, "NOT_A_PERMISSION", nil)
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
			Expect(recorder.errors).To(HaveKeyWithValue("unknown_permission", 1))
		})

		It("fails with UnknownPermission for a deactivated code", func() {
			_, err := resolver.CanPerform(ctx, managerID, "LEGACY_EXPORT", nil)
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
		})

		It("fails with UnknownUser for a missing profile", func() {
			_, err := resolver.CanPerform(ctx, "00000000-0000-0000-0000-00000000ffff", "PROJECT_VIEW", nil)
			Expect(err).To(MatchError(internal.ErrUnknownUser))
		})

		It("fails with UnknownUser for a suspended profile", func() {
			_, err := resolver.CanPerform(ctx, suspendedID, "PROJECT_VIEW", nil)
			Expect(err).To(MatchError(internal.ErrUnknownUser))
		})

		It("fails with UnknownRole when the profile holds a code outside the enumeration", func() {
			Expect(db.Upsert(ctx, &accessDatamodel.UserProfile{
				ID: "00000000-0000-0000-0000-0000000000bb", Email: "x@example.com", FullName: "X", Role: "INTERN", Status: "ACTIVE",
			})).To(Succeed())

			_, err := resolver.CanPerform(ctx, "00000000-0000-0000-0000-0000000000bb", "PROJECT_VIEW", nil)
			Expect(err).To(MatchError(internal.ErrUnknownRole))
		})

		It("counts every decision by source", func() {
			_, _ = resolver.CanPerform(ctx, managerID, "PROJECT_VIEW", nil)
			_, _ = resolver.CanPerform(ctx, consultantID, "PROJECT_CREATE", nil)
			_, _ = resolver.CanPerform(ctx, managerID, "PROJECT_CREATE", nil)

			Expect(recorder.decisions).To(Equal(map[string]int{"role-granted": 2, "role-absent": 1}))
		})
	})

	Describe("EffectivePermissions", func() {
		It("resolves every active permission", func() {
			db.SeedOverride(override("ov-1", consultantID, "DELIVERABLE_UPDATE", permission.GrantTypeGrant, fixedNow.Add(-time.Hour)))
			db.SeedOverride(override("ov-2", consultantID, "PROJECT_VIEW", permission.GrantTypeDeny, fixedNow.Add(-time.Hour)))

			entries, err := resolver.EffectivePermissions(ctx, consultantID, nil)
			Expect(err).NotTo(HaveOccurred())

			bySource := map[catalog.PermissionCode]permission.Source{}
			for _, e := range entries {
				bySource[e.Code] = e.Source
			}
			Expect(bySource).To(Equal(map[catalog.PermissionCode]permission.Source{
				"DELIVERABLE_UPDATE":    permission.SourceUserGranted,
				"PERMISSION_AUDIT_VIEW": permission.SourceRoleAbsent,
				"PROJECT_CREATE":        permission.SourceRoleAbsent,
				"PROJECT_VIEW":          permission.SourceUserDenied,
				"USER_PERMISSION_VIEW":  permission.SourceRoleAbsent,
			}))
		})

		It("agrees with CanPerform for every entry", func() {
			scope := &permission.Scope{Type: "project", ID: "p-9"}
			scoped := override("ov-1", managerID, "PROJECT_CREATE", permission.GrantTypeDeny, fixedNow.Add(-time.Hour))
			scoped.Scope = &permission.Scope{Type: "project", ID: "p-9"}
			db.SeedOverride(scoped)

			entries, err := resolver.EffectivePermissions(ctx, managerID, scope)
			Expect(err).NotTo(HaveOccurred())
			for _, e := range entries {
				d, err := resolver.CanPerform(ctx, managerID, e.Code, scope)
				Expect(err).NotTo(HaveOccurred())
				Expect(d).To(Equal(e.Decision), string(e.Code))
			}
		})

		It("fails for an inactive user", func() {
			_, err := resolver.EffectivePermissions(ctx, suspendedID, nil)
			Expect(err).To(MatchError(internal.ErrUnknownUser))
		})
	})

	Describe("AllowedPermissions", func() {
		It("lists the codes allowed globally", func() {
			allowed, err := resolver.AllowedPermissions(ctx, managerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(ConsistOf("DELIVERABLE_UPDATE", "PROJECT_CREATE", "PROJECT_VIEW"))
		})
	})
})
