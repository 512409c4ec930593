package catalog_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/catalog"
	catalogPostgres "github.com/frahmantamala/consulthub/internal/catalog/postgres"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
)

func sampleDefinition() *catalog.Definition {
	retired := false
	return &catalog.Definition{
		Categories: []catalog.CategoryDef{
			{Code: "PROJECT", Name: "Projects", Description: "Engagement delivery"},
			{Code: "BILLING", Name: "Billing"},
		},
		Permissions: []catalog.PermissionDef{
			{Code: "PROJECT_VIEW", Category: "PROJECT"},
			{Code: "PROJECT_CREATE", Category: "PROJECT"},
			{Code: "INVOICE_APPROVE", Category: "BILLING"},
			{Code: "LEGACY_EXPORT", Category: "BILLING", Active: &retired},
		},
		Roles: []catalog.RoleDef{
			{Code: "PROJECT_MANAGER", Name: "Project manager", Permissions: []string{"PROJECT_VIEW", "PROJECT_CREATE"}},
			{Code: "CLIENT", Name: "Client", Active: &retired},
		},
	}
}

var _ = Describe("Catalog Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		service *catalog.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()
		service = catalog.NewService(catalogPostgres.NewCatalogRepository(db), slogger)
		Expect(service.Provision(ctx, sampleDefinition())).To(Succeed())
	})

	assign := func(role, code string) {
		Expect(db.Create(&accessDatamodel.RolePermission{RoleCode: role, PermissionCode: code, GrantedBy: "test"}).Error).To(Succeed())
	}

	Describe("Provision", func() {
		It("writes reference rows but no baselines", func() {
			perms, err := service.ListPermissions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(perms).To(HaveLen(4))

			set, err := service.GetRolePermissions(ctx, catalog.RoleProjectManager)
			Expect(err).NotTo(HaveOccurred())
			Expect(set).To(BeEmpty())
		})

		It("is idempotent and updates descriptions", func() {
			def := sampleDefinition()
			def.Categories[1].Description = "Invoices and rates"
			Expect(service.Provision(ctx, def)).To(Succeed())

			c, err := service.GetCategory(ctx, "BILLING")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Description).To(Equal("Invoices and rates"))

			cats, err := service.GetCategories(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cats).To(HaveLen(2))
		})

		It("refuses an inconsistent definition", func() {
			def := sampleDefinition()
			def.Permissions = append(def.Permissions, catalog.PermissionDef{Code: "TIMESHEET_SUBMIT", Category: "TIMESHEET"})

			err := service.Provision(ctx, def)
			var violations catalog.Violations
			Expect(err).To(BeAssignableToTypeOf(violations))
		})
	})

	Describe("lookups", func() {
		It("returns a provisioned role", func() {
			role, err := service.GetRole(ctx, catalog.RoleProjectManager)
			Expect(err).NotTo(HaveOccurred())
			Expect(role.Name).To(Equal("Project manager"))
			Expect(role.IsActive).To(BeTrue())
		})

		It("fails with UnknownRole outside the enumeration", func() {
			_, err := service.GetRole(ctx, "INTERN")
			Expect(err).To(MatchError(internal.ErrUnknownRole))
		})

		It("fails with UnknownRole for a role that is not provisioned", func() {
			_, err := service.GetRole(ctx, catalog.RoleConsultant)
			Expect(err).To(MatchError(internal.ErrUnknownRole))
		})

		It("returns an inactive permission from GetPermission only", func() {
			p, err := service.GetPermission(ctx, "LEGACY_EXPORT")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.IsActive).To(BeFalse())

			_, err = service.ActivePermission(ctx, "LEGACY_EXPORT")
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
		})

		It("fails with UnknownPermission for a missing code", func() {
			_, err := service.GetPermission(ctx, "NOPE")
			Expect(err).To(MatchError(internal.ErrUnknownPermission))
		})

		It("fails with UnknownCategory for a missing category", func() {
			_, err := service.GetCategory(ctx, "TRAVEL")
			Expect(err).To(MatchError(internal.ErrUnknownCategory))
		})

		It("lists permissions ordered by code", func() {
			perms, err := service.ListPermissions(ctx)
			Expect(err).NotTo(HaveOccurred())
			codes := make([]catalog.PermissionCode, 0, len(perms))
			for _, p := range perms {
				codes = append(codes, p.Code)
			}
			Expect(codes).To(Equal([]catalog.PermissionCode{"INVOICE_APPROVE", "LEGACY_EXPORT", "PROJECT_CREATE", "PROJECT_VIEW"}))
		})
	})

	Describe("GetRolePermissions", func() {
		It("returns only active permissions of the baseline", func() {
			assign("PROJECT_MANAGER", "PROJECT_VIEW")
			assign("PROJECT_MANAGER", "LEGACY_EXPORT")

			set, err := service.GetRolePermissions(ctx, catalog.RoleProjectManager)
			Expect(err).NotTo(HaveOccurred())
			Expect(set.Codes()).To(Equal([]catalog.PermissionCode{"PROJECT_VIEW"}))
		})

		It("returns an empty baseline for an inactive role", func() {
			assign("CLIENT", "PROJECT_VIEW")

			set, err := service.GetRolePermissions(ctx, catalog.RoleClient)
			Expect(err).NotTo(HaveOccurred())
			Expect(set).To(BeEmpty())
		})
	})

	Describe("Verify", func() {
		It("accepts a consistent catalog", func() {
			assign("PROJECT_MANAGER", "PROJECT_VIEW")
			Expect(service.Verify(ctx)).To(Succeed())
		})

		It("reports every broken invariant", func() {
			assign("PROJECT_MANAGER", "LEGACY_EXPORT")
			assign("CLIENT", "PROJECT_VIEW")
			assign("ADMIN", "PROJECT_VIEW")

			err := service.Verify(ctx)
			Expect(err).To(HaveOccurred())
			violations, ok := err.(catalog.Violations)
			Expect(ok).To(BeTrue())
			Expect(violations).To(ContainElements(
				`role "PROJECT_MANAGER": permission "LEGACY_EXPORT" is inactive`,
				`role "CLIENT": inactive role holds permissions`,
				`role "ADMIN": 1 assignments reference a missing role`,
			))
		})
	})
})
