package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/ehr/patientsync/internal/config"
	"github.com/ehr/patientsync/internal/domain/patient"
	"github.com/ehr/patientsync/internal/domain/socialauth"
	"github.com/ehr/patientsync/internal/patientsync"
	"github.com/ehr/patientsync/internal/platform/db"
	"github.com/ehr/patientsync/internal/platform/middleware"
	"github.com/ehr/patientsync/internal/provider"
	"github.com/ehr/patientsync/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "patientsync",
		Short:        "Keeps local patient lists in step with an external records provider",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS, cfg.DBSchema)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, cfg.DBSchema, statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one user's patients from the provider now",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			accounts, err := accountRepo(pool, cfg)
			if err != nil {
				return err
			}

			publisher := newPublisher(cfg, logger)
			defer publisher.Close()

			syncer := patientsync.NewSyncer(
				accounts,
				provider.NewClient(cfg.ProviderTimeout, logger),
				patient.NewRepo(pool),
				publisher,
				syncOptions(cfg),
				logger,
			)

			res := syncer.Sync(ctx, userID)
			printSyncResult(cmd, userID, res)
			if !res.OK {
				return fmt.Errorf("sync failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().String("user", "", "Local user id to sync")
	return cmd
}

func printSyncResult(cmd *cobra.Command, userID string, res patientsync.Result) {
	s := res.Stats
	fmt.Fprintf(cmd.OutOrStdout(),
		"user=%s fetched=%d created=%d reused=%d updated=%d unchanged=%d failed=%d\n",
		userID, s.Fetched, s.Created, s.Reused, s.Updated, s.Unchanged, s.Failed)
	if res.Message != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "message: %s\n", res.Message)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored provider tokens",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the provider access token of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			token, _ := cmd.Flags().GetString("token")
			providerUserID, _ := cmd.Flags().GetString("provider-user-id")
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")
			if userID == "" || token == "" {
				return fmt.Errorf("--user and --token are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			account := &socialauth.ProviderAccount{
				UserID:         userID,
				Provider:       cfg.ProviderName,
				ProviderUserID: providerUserID,
				AccessToken:    token,
			}
			if expiresIn > 0 {
				exp := time.Now().Add(expiresIn).UTC()
				account.ExpiresAt = &exp
			}
			accounts, err := accountRepo(pool, cfg)
			if err != nil {
				return err
			}
			if err := accounts.Upsert(ctx, account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s token for user %s.\n", cfg.ProviderName, userID)
			return nil
		},
	}
	setCmd.Flags().String("user", "", "Local user id")
	setCmd.Flags().String("token", "", "Provider access token")
	setCmd.Flags().String("provider-user-id", "", "User id at the provider")
	setCmd.Flags().Duration("expires-in", 0, "Token lifetime, e.g. 48h")

	cmd.AddCommand(setCmd)
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Sync freshness cache
	store, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer store.Close()

	accounts, err := accountRepo(pool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token encryption settings")
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	// Sync engine
	syncer := patientsync.NewSyncer(
		accounts,
		provider.NewClient(cfg.ProviderTimeout, logger),
		patient.NewRepo(pool),
		publisher,
		syncOptions(cfg),
		logger,
	)
	gate := patientsync.NewGate(store, syncer, gateConfig(cfg), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(healthDeps(pool, store)))

	apiV1 := e.Group("/api/v1", authMiddleware(cfg, logger))
	patientHandler := patient.NewHandler(patient.NewService(patient.NewRepo(pool)), gate)
	patientHandler.RegisterRoutes(apiV1, middleware.RateLimit(syncRateLimit(cfg)))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
