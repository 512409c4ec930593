package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/auth"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/catalog/cache"
	catalogPostgres "github.com/frahmantamala/consulthub/internal/catalog/postgres"
	"github.com/frahmantamala/consulthub/internal/core/events"
	"github.com/frahmantamala/consulthub/internal/observability"
	"github.com/frahmantamala/consulthub/internal/permission"
	permissionPostgres "github.com/frahmantamala/consulthub/internal/permission/postgres"
	"github.com/frahmantamala/consulthub/internal/user"
	userPostgres "github.com/frahmantamala/consulthub/internal/user/postgres"
	"github.com/frahmantamala/consulthub/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// application holds the wired services shared by the server and the
// operator commands.
type application struct {
	Config  *internal.Config
	Logger  *slog.Logger
	SQL     *sqlx.DB
	Gorm    *gorm.DB
	Bus     *events.EventBus
	Cache   *cache.Repository
	Metrics *observability.Metrics

	Catalog  *catalog.Service
	Users    *user.Service
	Resolver *permission.Resolver
	Admin    *permission.Admin
}

// newApplication connects to Postgres (and Redis when enabled). gate decides
// who may administer grants: the role gate for the server, the trusted gate
// for seeding.
func newApplication(ctx context.Context, cfg *internal.Config, gateFor func(*user.Service) (permission.AuthorityGate, error)) (*application, error) {
	lg := logger.LoggerWrapper()

	sqlDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	app := &application{
		Config: cfg,
		Logger: lg,
		SQL:    sqlDB,
		Gorm:   gormDB,
		Bus:    events.NewEventBus(lg),
	}

	var catalogRepo catalog.RepositoryAPI = catalogPostgres.NewCatalogRepository(gormDB)
	if cfg.Cache.Enabled {
		client, err := cache.New(ctx, cfg.Cache.Addr, cfg.Cache.DB)
		if err != nil {
			// lookups work without Redis, only slower
			lg.WarnContext(ctx, "role baseline cache disabled", "error", err)
		} else {
			app.Cache = cache.NewRepository(catalogRepo, client, cfg.Cache.TTL, cfg.Cache.Prefix, lg)
			app.Cache.Subscribe(app.Bus)
			catalogRepo = app.Cache
		}
	}

	if cfg.Observability.Metrics.Enabled {
		app.Metrics = observability.NewMetrics()
	}

	app.Catalog = catalog.NewService(catalogRepo, lg)
	app.Users = user.NewService(userPostgres.NewUserRepository(gormDB), lg)

	store := permissionPostgres.NewPermissionStore(gormDB)
	app.Resolver = permission.NewResolver(store, app.Catalog, app.Users, lg)
	if app.Metrics != nil {
		app.Resolver = app.Resolver.WithRecorder(app.Metrics)
	}

	gate, err := gateFor(app.Users)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Admin = permission.NewAdmin(store, app.Catalog, app.Users, gate, app.Bus, lg)

	return app, nil
}

func roleGate(cfg *internal.Config) func(*user.Service) (permission.AuthorityGate, error) {
	return func(users *user.Service) (permission.AuthorityGate, error) {
		return auth.NewRoleGate(users, cfg.Security.AdminRoles)
	}
}

func trustedGate(*user.Service) (permission.AuthorityGate, error) {
	return auth.TrustedGate{}, nil
}

func (a *application) Close() {
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}
