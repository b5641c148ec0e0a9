package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxsafe/rxsafe/internal/config"
	"github.com/rxsafe/rxsafe/internal/domain/allergy"
	"github.com/rxsafe/rxsafe/internal/domain/catalog"
	"github.com/rxsafe/rxsafe/internal/domain/cds"
	"github.com/rxsafe/rxsafe/internal/domain/inventory"
	"github.com/rxsafe/rxsafe/internal/domain/prescription"
	"github.com/rxsafe/rxsafe/internal/domain/reporting"
	"github.com/rxsafe/rxsafe/internal/platform/auth"
	"github.com/rxsafe/rxsafe/internal/platform/db"
	"github.com/rxsafe/rxsafe/internal/platform/events"
	"github.com/rxsafe/rxsafe/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxsafe-server",
		Short: "Medication safety and dispensing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
				MaxConns: cfg.DBMaxConns,
				MinConns: cfg.DBMinConns,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		logger = logger.Level(level)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event bus: audit trail subscriber logs every domain event.
	bus := events.NewBus(logger)
	bus.SubscribeAll(func(e events.Event) {
		logger.Info().
			Str("event_type", string(e.Type)).
			Str("entity_id", e.EntityID).
			Fields(map[string]interface{}{"data": e.Data}).
			Msg("domain event")
	})

	// Repositories
	drugRepo := catalog.NewDrugRepoPG(pool)
	allergyRepo := allergy.NewAllergyRepoPG(pool)
	interactionRepo := cds.NewInteractionRepoPG(pool)
	alertRepo := cds.NewAlertRepoPG(pool)
	rxRepo := prescription.NewPrescriptionRepoPG(pool)
	lotRepo := inventory.NewLotRepoPG(pool)
	dispensingRepo := inventory.NewDispensingRepoPG(pool)

	// Services
	catalogSvc := catalog.NewService(drugRepo)
	allergySvc := allergy.NewService(allergyRepo)
	cdsSvc := cds.NewService(interactionRepo, alertRepo, catalogSvc, allergySvc, bus, logger)
	rxSvc := prescription.NewService(rxRepo, catalogSvc, cdsSvc, bus, logger,
		time.Duration(cfg.RxExpiryDays)*24*time.Hour)
	cdsSvc.SetRxSource(rxSvc)
	invSvc := inventory.NewService(lotRepo, dispensingRepo, rxSvc, catalogSvc, bus, logger, cfg.CopayRate)
	reportSvc := reporting.NewService(rxRepo, alertRepo, dispensingRepo, lotRepo, bus, logger,
		time.Duration(cfg.ExpiryWarnDays)*24*time.Hour)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// API routes
	apiV1 := e.Group("/api/v1")
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	allergy.NewHandler(allergySvc).RegisterRoutes(apiV1)
	cds.NewHandler(cdsSvc).RegisterRoutes(apiV1)
	prescription.NewHandler(rxSvc).RegisterRoutes(apiV1)
	inventory.NewHandler(invSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(reportSvc).RegisterRoutes(apiV1)

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	bus.Drain()
	logger.Info().Msg("server stopped")
	return nil
}
