package cmd

import (
	"fmt"

	"github.com/frahmantamala/consulthub/internal/auth"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/user"
	"github.com/spf13/cobra"
)

var (
	seedFile       string
	seedPrune      bool
	seedAdminID    string
	seedAdminEmail string
	seedAdminName  string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision the catalog and role baselines from the catalog file",
	Long: `Upserts categories, permissions and roles, then grants every role baseline
pair listed in the file through the audited administration path. With --prune,
baseline pairs missing from the file are revoked. Optionally bootstraps the
first administrator profile.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "catalog definition file (defaults to catalog.file from config)")
	seedCmd.Flags().BoolVar(&seedPrune, "prune", false, "revoke baseline pairs not listed in the file")
	seedCmd.Flags().StringVar(&seedAdminID, "admin-id", "", "user id of the bootstrap administrator")
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "", "email of the bootstrap administrator")
	seedCmd.Flags().StringVar(&seedAdminName, "admin-name", "System Administrator", "name of the bootstrap administrator")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	if seedFile == "" {
		seedFile = cfg.Catalog.File
	}

	def, err := catalog.LoadDefinition(seedFile)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, trustedGate)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Catalog.Provision(ctx, def); err != nil {
		return fmt.Errorf("provision catalog: %w", err)
	}

	granted, revoked := 0, 0
	reason := "seeded from " + seedFile
	for role, codes := range def.Assignments() {
		current, err := app.Catalog.GetRolePermissions(ctx, role)
		if err != nil {
			return err
		}
		wanted := catalog.NewPermissionSet(codes...)

		for _, code := range wanted.Codes() {
			if current.Has(code) {
				continue
			}
			if err := app.Admin.GrantRolePermission(ctx, auth.SystemActor, role, code, reason); err != nil {
				return fmt.Errorf("grant %s to %s: %w", code, role, err)
			}
			granted++
		}

		if !seedPrune {
			continue
		}
		for _, code := range current.Codes() {
			if wanted.Has(code) {
				continue
			}
			if err := app.Admin.RevokeRolePermission(ctx, auth.SystemActor, role, code, reason); err != nil {
				return fmt.Errorf("revoke %s from %s: %w", code, role, err)
			}
			revoked++
		}
	}
	app.Logger.InfoContext(ctx, "role baselines seeded", "granted", granted, "revoked", revoked)

	if seedAdminID != "" {
		profile, err := app.Users.Upsert(ctx, user.UpsertRequest{
			ID:       seedAdminID,
			Email:    seedAdminEmail,
			FullName: seedAdminName,
			Role:     string(catalog.RoleSystemAdmin),
			Status:   string(user.StatusActive),
		})
		if err != nil {
			return fmt.Errorf("bootstrap administrator: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "administrator %s (%s) ready\n", profile.ID, profile.Email)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "catalog seeded: %d granted, %d revoked\n", granted, revoked)
	return nil
}
