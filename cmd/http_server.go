package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/consulthub/internal/auth"
	"github.com/frahmantamala/consulthub/internal/catalog"
	"github.com/frahmantamala/consulthub/internal/permission"
	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/frahmantamala/consulthub/internal/transport/rest"
	"github.com/frahmantamala/consulthub/internal/transport/swagger"
	"github.com/frahmantamala/consulthub/internal/user"
	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(cmd.Context())
	},
}

func startHTTPServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := newApplication(ctx, cfg, roleGate(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	// a broken catalog is reported, not fatal: checks against it fail loudly
	if err := app.Catalog.Verify(ctx); err != nil {
		var violations catalog.Violations
		if errors.As(err, &violations) {
			for _, v := range violations {
				app.Logger.ErrorContext(ctx, "configuration error", "violation", v)
			}
		} else {
			return fmt.Errorf("verify catalog: %w", err)
		}
	}

	router, err := buildRouter(ctx, app)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("Server stopped")
	return nil
}

func buildRouter(ctx context.Context, app *application) (*chi.Mux, error) {
	cfg := app.Config
	base := transport.NewBaseHandler(app.Logger)

	doc, err := swagger.Load(ctx)
	if err != nil {
		return nil, err
	}
	docHandler, err := swagger.DocumentHandler(doc)
	if err != nil {
		return nil, err
	}

	deps := rest.Dependencies{
		DB:                 app.SQL.DB,
		Logger:             app.Logger,
		Authenticator:      auth.NewAuthenticator(base, auth.NewJWTVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)),
		RBAC:               auth.NewRBACAuthorization(base, app.Resolver),
		Metrics:            app.Metrics,
		MetricsPath:        cfg.Observability.Metrics.Path,
		OpenAPI:            docHandler,
		UserHandler:        user.NewHandler(base, app.Users, app.Resolver),
		CatalogHandler:     catalog.NewHandler(base, app.Catalog),
		PermissionHandler:  permission.NewHandler(base, app.Resolver, app.Admin),
		AllowedOrigins:     cfg.Server.Origins(),
		MutationsPerMinute: cfg.Server.MutationsPerMinute,
		Production:         cfg.IsProduction(),
	}
	if app.Cache != nil {
		deps.Cache = app.Cache
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, deps)
	return router, nil
}
