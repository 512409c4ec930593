package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/spf13/cobra"
)

var (
	auditUser       string
	auditRole       string
	auditPermission string
	auditPage       int
	auditPageSize   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the permission audit trail, newest first",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditUser, "user", "", "only changes to this user's overrides")
	auditCmd.Flags().StringVar(&auditRole, "role", "", "only changes to this role's baseline")
	auditCmd.Flags().StringVar(&auditPermission, "permission", "", "only changes to this permission code")
	auditCmd.Flags().IntVar(&auditPage, "page", 1, "page number")
	auditCmd.Flags().IntVar(&auditPageSize, "page-size", 20, "entries per page (max 50)")
	auditCmd.MarkFlagsMutuallyExclusive("user", "role")
}

func runAudit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, trustedGate)
	if err != nil {
		return err
	}
	defer app.Close()

	filter := permission.AuditFilter{
		PermissionCode: auditPermission,
		Page:           auditPage,
		PageSize:       auditPageSize,
	}
	switch {
	case auditUser != "":
		filter.TargetType, filter.TargetID = permission.TargetUser, auditUser
	case auditRole != "":
		filter.TargetType, filter.TargetID = permission.TargetRole, auditRole
	}

	page, err := app.Admin.AuditHistory(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OCCURRED AT\tACTION\tTARGET\tPERMISSION\tCONTEXT\tACTOR\tREASON")
	for _, e := range page.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Format(time.RFC3339), e.Action, e.TargetType, e.TargetID,
			e.PermissionCode, e.Scope.String(), e.ActorID, e.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if page.HasNext {
		fmt.Fprintf(cmd.OutOrStdout(), "more entries: --page %d\n", page.Page+1)
	}
	return nil
}
