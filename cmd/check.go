package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/permission/memory"
	"github.com/frahmantamala/consulthub/internal/user"
	"github.com/frahmantamala/consulthub/pkg/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	checkScope   string
	checkOffline bool
	checkRole    string
	checkFile    string
)

var checkCmd = &cobra.Command{
	Use:   "check <user-id> <permission-code>",
	Short: "Explain a permission decision",
	Long: `Resolves one permission check and prints the decision with its source.
With --offline the check runs against the catalog file for a synthetic active
user holding --role, without touching the database.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkScope, "scope", "", "resource context as type:id")
	checkCmd.Flags().BoolVar(&checkOffline, "offline", false, "evaluate the catalog file only")
	checkCmd.Flags().StringVar(&checkRole, "role", "", "role of the synthetic user in offline mode")
	checkCmd.Flags().StringVar(&checkFile, "file", "config/catalog.yml", "catalog definition file in offline mode")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	code, err := catalog.ParsePermissionCode(args[1])
	if err != nil {
		return err
	}
	scope, err := permission.ParseScope(checkScope)
	if err != nil {
		return err
	}

	var resolver *permission.Resolver
	userID := args[0]
	if checkOffline {
		resolver, userID, err = offlineResolver(ctx)
		if err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		app, err := newApplication(ctx, cfg, trustedGate)
		if err != nil {
			return err
		}
		defer app.Close()
		resolver = app.Resolver
	}

	decision, err := resolver.CanPerform(ctx, userID, code, scope)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(permission.CheckResponse{
		UserID:         userID,
		PermissionCode: string(code),
		Context:        scope,
		Decision:       decision,
	})
}

func offlineResolver(ctx context.Context) (*permission.Resolver, string, error) {
	role, err := catalog.ParseRoleCode(checkRole)
	if err != nil {
		return nil, "", fmt.Errorf("--role: %w", err)
	}
	def, err := catalog.LoadDefinition(checkFile)
	if err != nil {
		return nil, "", err
	}

	store := memory.New()
	if err := store.Load(def); err != nil {
		return nil, "", err
	}
	userID := uuid.NewString()
	if err := store.Upsert(ctx, &accessDatamodel.UserProfile{
		ID:       userID,
		Email:    "offline@consulthub.local",
		FullName: "Offline check",
		Role:     string(role),
		Status:   string(user.StatusActive),
	}); err != nil {
		return nil, "", err
	}

	lg := logger.LoggerWrapper()
	catalogSvc := catalog.NewService(store, lg)
	users := user.NewService(store, lg)
	return permission.NewResolver(store, catalogSvc, users, lg), userID, nil
}
